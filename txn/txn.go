// Package txn defines the shared vocabulary of an in-flight lookup: the
// TXOwner identifying one outstanding request as a remote peer perceives
// it, and the Transaction capability set the lookup engine's concrete
// per-kind transactions implement. Grounded on the fan-in bookkeeping in
// the teacher's internal/discovery/dht/query.go, generalized per
// SPEC_FULL.md §4.2/§4.3 into a small interface per kind rather than a
// deep inheritance hierarchy (spec.md §9's design note).
package txn

import (
	"github.com/dep2p/oniondht/key"
)

// TXOwner identifies one outstanding request as perceived by a remote peer:
// the pair (peer, txid).
type TXOwner struct {
	Peer key.Key
	Txid uint64
}

// Local is the sentinel TXOwner used when the Context itself is the
// ultimate consumer of a lookup (iterative origination) rather than a
// remote peer or a local onion path.
var Local = TXOwner{}

// Transaction is an in-flight lookup for target key K yielding values of
// type V. Implementations are per lookup-kind (router, introset, tag,
// exploration); all share the same monotone XOR-progress traversal driven
// by AskNextPeer.
type Transaction[K comparable, V any] interface {
	// Target is the key being resolved.
	Target() K

	// WhoAsked is the original requester.
	WhoAsked() TXOwner

	// Validate reports whether v is an acceptable reply value.
	Validate(v V) bool

	// Start issues the first outbound request of the chain, to peer.
	Start(peer key.Key)

	// GetNextPeer consults the relevant routing table for the closest
	// peer to Target not present in excluding. It returns false when
	// exhausted.
	GetNextPeer(excluding map[key.Key]struct{}) (key.Key, bool)

	// DoNextRequest issues the next outbound request of the chain, to
	// peer.
	DoNextRequest(peer key.Key)

	// SendReply delivers the terminal reply to WhoAsked. Called at most
	// once per transaction's lifetime.
	SendReply(values []V)

	// PeersAsked returns the peers already queried in this chain.
	PeersAsked() map[key.Key]struct{}

	// RecordPeerAsked adds peer to the chain's asked set.
	RecordPeerAsked(peer key.Key)

	// AskNextPeer implements the monotone XOR-progress rule. prevPeer is
	// the peer that just replied negatively; hint, if non-nil, is a
	// closer-peer suggestion that peer supplied. AskNextPeer chooses
	// between hint and GetNextPeer, terminates the chain (returning
	// false) if the candidate is not at least as close to Target as
	// prevPeer, and otherwise records the candidate as asked and issues
	// DoNextRequest, returning true.
	AskNextPeer(prevPeer key.Key, hint *key.Key) bool
}
