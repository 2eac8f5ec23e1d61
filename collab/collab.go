// Package collab declares the external collaborators the DHT core consumes.
// The core never imports a concrete transport, path, or crypto package; it
// is handed these interfaces at construction time, matching the way the
// teacher package (dep2p-go-dep2p's discovery/dht) is handed pkgif.Host and
// pkgif.Peerstore rather than owning them.
package collab

import (
	"context"

	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
)

// PathID identifies a local onion path.
type PathID [16]byte

// Transport hands a DHT message to the network layer. Sends are
// fire-and-forget from the core's perspective: a Send call never blocks on
// a reply, and delivery failures are not surfaced here (the timeout path in
// the transaction holder subsumes them, per the spec's error taxonomy).
type Transport interface {
	// Send hands msg to peer. If keepalive is true, the transport should
	// hold a session to peer open for at least 10 seconds so a reply can be
	// delivered without a reconnect.
	Send(ctx context.Context, peer key.Key, msg []byte, keepalive bool) error

	// RegisterInbound installs the callback invoked for every DHT message
	// the transport decodes off the wire.
	RegisterInbound(handler func(from key.Key, msg []byte))
}

// RouterSource seeds and refreshes the router routing table.
type RouterSource interface {
	// Seed returns the router contacts known at startup.
	Seed(ctx context.Context) ([]record.RouterContact, error)

	// Subscribe registers a callback invoked whenever the source learns of
	// a new or updated router contact.
	Subscribe(onUpdate func(record.RouterContact))
}

// PathSource identifies local onion paths and delivers/receives DHT
// messages scoped to a path.
type PathSource interface {
	// SendOnPath hands msg to the local path identified by id.
	SendOnPath(id PathID, msg []byte) error

	// RegisterPathInbound installs the callback invoked for every DHT
	// message arriving on a local path.
	RegisterPathInbound(handler func(id PathID, msg []byte))
}

// Crypto verifies the signatures the core treats as opaque bytes.
type Crypto interface {
	VerifyRouterContact(rc record.RouterContact) bool
	VerifyIntroSet(is record.IntroSet) bool
}
