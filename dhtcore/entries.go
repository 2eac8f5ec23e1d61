package dhtcore

import (
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
)

// routerEntry adapts a RouterContact to routing.Entry so the router table
// can hold full contacts rather than bare keys.
type routerEntry struct {
	rc record.RouterContact
}

func (e routerEntry) ID() key.Key { return e.rc.ID.AsKey() }

// serviceEntry adapts an IntroSet to routing.Entry so the service table can
// hold full descriptors rather than bare keys.
type serviceEntry struct {
	is record.IntroSet
}

func (e serviceEntry) ID() key.Key { return e.is.Address.AsKey() }
