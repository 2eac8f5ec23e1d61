// Package record defines the value types carried by the DHT: signed router
// descriptors and hidden-service introduction sets. Signature verification
// and wire encoding belong to the crypto and serialization collaborators
// (see package collab); this package only holds the shapes those
// collaborators operate on and the pure predicates (expiry, tag match) the
// lookup engine's Validate step needs.
package record

import (
	"time"

	"github.com/dep2p/oniondht/key"
)

// RouterID identifies a router by its public identity key.
type RouterID key.Key

// AsKey returns the RouterID's location in the XOR keyspace.
func (r RouterID) AsKey() key.Key { return key.Key(r) }

// ServiceAddr identifies a hidden service by its address key.
type ServiceAddr key.Key

// AsKey returns the ServiceAddr's location in the XOR keyspace.
func (s ServiceAddr) AsKey() key.Key { return key.Key(s) }

// Tag identifies a shared service tag.
type Tag key.Key

// AsKey returns the Tag's location in the XOR keyspace.
func (t Tag) AsKey() key.Key { return key.Key(t) }

// RouterContact is a signed descriptor of a router's identity and
// reachability. Framing and signature bytes are opaque here; the Crypto
// collaborator (package collab) is the sole party that interprets Signature.
type RouterContact struct {
	ID         RouterID
	Addresses  []string
	Expiration time.Time
	Signature  []byte
}

// Expired reports whether rc's expiration has passed as of now.
func (rc RouterContact) Expired(now time.Time) bool {
	return now.After(rc.Expiration)
}

// IntroPoint is one rendezvous introduction point advertised by an IntroSet.
type IntroPoint struct {
	Router  RouterID
	PathID  [16]byte
	Version uint8
}

// IntroSet is a signed descriptor listing rendezvous introduction points for
// a hidden service.
type IntroSet struct {
	Address    ServiceAddr
	Points     []IntroPoint
	Tags       []Tag
	Timestamp  time.Time
	Expiration time.Time
	Signature  []byte
}

// Expired reports whether is's expiration has passed as of now.
func (is IntroSet) Expired(now time.Time) bool {
	return now.After(is.Expiration)
}

// HasTag reports whether is advertises tag t.
func (is IntroSet) HasTag(t Tag) bool {
	for _, candidate := range is.Tags {
		if candidate == t {
			return true
		}
	}
	return false
}

// SameAs reports whether two IntroSets are duplicates for the purpose of
// SendReply deduplication: same address and same publish timestamp.
func (is IntroSet) SameAs(other IntroSet) bool {
	return is.Address == other.Address && is.Timestamp.Equal(other.Timestamp)
}
