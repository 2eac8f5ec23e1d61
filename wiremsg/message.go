// Package wiremsg defines the typed vocabulary a decoded DHT message
// carries once the serialization collaborator has parsed it off the wire.
// Byte framing itself is out of scope (spec.md Non-goals); this package
// only names the shape the Dispatcher routes on, per spec.md §6's "the wire
// layer decodes into typed DHT messages the Dispatcher can route."
package wiremsg

import (
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
)

// Kind identifies which lookup vocabulary a Message belongs to.
type Kind uint8

const (
	FindRouter Kind = iota
	RouterFound
	RouterNotFound
	FindIntroSet
	IntroSetFound
	IntroSetNotFound
	FindTag
	TagFound
	TagNotFound
	ExploreRouter
	ExploreFound
	ExploreNotFound
)

// Message is a decoded DHT protocol message. Every message carries a txid
// identifying the TXOwner it correlates to (spec.md §6). Target is
// interpreted according to Kind (a RouterID, ServiceAddr, or Tag key).
// Hint carries a closer-peer suggestion on a *NotFound message.
type Message struct {
	Kind      Kind
	Txid      uint64
	Target    key.Key
	Contacts  []record.RouterContact
	IntroSets []record.IntroSet
	RouterIDs []record.RouterID
	Hint      *key.Key
	// RecursionBudget is the R parameter on recursive lookups (spec.md §6):
	// each relay decrements it; at zero the relay must answer locally or
	// return empty.
	RecursionBudget int
}

// Codec is the serialization collaborator: it turns a Message to and from
// the bytes the Transport actually sends. Framing format is external to
// this module (spec.md Non-goals); the core only depends on this interface.
type Codec interface {
	Encode(m Message) ([]byte, error)
	Decode(raw []byte) (Message, error)
}
