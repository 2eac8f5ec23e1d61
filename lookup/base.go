// Package lookup implements the four concrete Transaction kinds the
// dispatcher drives through package txholder: router, introset, tag, and
// exploration lookups. All four share the monotone XOR-progress traversal
// rule via the embedded Base, grounded on the distance-sorted candidate
// bookkeeping in the teacher's internal/discovery/dht/query.go
// (processResponse/addToPending), adapted per SPEC_FULL.md §4.3 to a single
// active peer per chain rather than the teacher's Alpha-concurrent fan-out.
package lookup

import (
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/txn"
)

// Keyed is satisfied by every target-key type the lookup engine resolves:
// record.RouterID, record.ServiceAddr, and record.Tag.
type Keyed interface {
	AsKey() key.Key
}

// Neighbors is the routing-table capability a Base needs: given a target and
// an exclusion set, name the closest known peer. *routing.Table[E] satisfies
// this structurally for any entry type.
type Neighbors interface {
	FindMany(target key.Key, n int, exclude map[key.Key]struct{}) []key.Key
}

// Base implements the eight traversal-only members of txn.Transaction
// (Target, WhoAsked, PeersAsked, RecordPeerAsked, GetNextPeer, Start,
// DoNextRequest, AskNextPeer), leaving Validate and SendReply to the
// concrete per-kind type embedding it.
type Base[K Keyed] struct {
	target     K
	whoAsked   txn.TXOwner
	peersAsked map[key.Key]struct{}
	neighbors  Neighbors
	send       func(peer key.Key)
}

// NewBase constructs a Base. send is invoked by Start/DoNextRequest to issue
// the actual wire request; it is supplied by the dhtcore dispatcher and
// closes over the outstanding TXOwner and message framing.
func NewBase[K Keyed](target K, whoAsked txn.TXOwner, neighbors Neighbors, send func(key.Key)) Base[K] {
	return Base[K]{
		target:     target,
		whoAsked:   whoAsked,
		peersAsked: make(map[key.Key]struct{}),
		neighbors:  neighbors,
		send:       send,
	}
}

// Target is the key being resolved.
func (b *Base[K]) Target() K { return b.target }

// WhoAsked is the original requester.
func (b *Base[K]) WhoAsked() txn.TXOwner { return b.whoAsked }

// PeersAsked returns the peers already queried in this chain.
func (b *Base[K]) PeersAsked() map[key.Key]struct{} { return b.peersAsked }

// RecordPeerAsked adds peer to the chain's asked set.
func (b *Base[K]) RecordPeerAsked(peer key.Key) { b.peersAsked[peer] = struct{}{} }

// GetNextPeer consults neighbors for the closest peer to Target not present
// in excluding. It returns false once the routing table is exhausted.
func (b *Base[K]) GetNextPeer(excluding map[key.Key]struct{}) (key.Key, bool) {
	peers := b.neighbors.FindMany(b.target.AsKey(), 1, excluding)
	if len(peers) == 0 {
		return key.Key{}, false
	}
	return peers[0], true
}

// Start issues the first outbound request of the chain, to peer.
func (b *Base[K]) Start(peer key.Key) {
	b.RecordPeerAsked(peer)
	b.send(peer)
}

// DoNextRequest issues the next outbound request of the chain, to peer.
func (b *Base[K]) DoNextRequest(peer key.Key) {
	b.RecordPeerAsked(peer)
	b.send(peer)
}

// AskNextPeer implements the monotone XOR-progress rule (spec.md §4.3):
// prevPeer just replied negatively, optionally suggesting hint as a closer
// peer. If hint is nil, the routing table is consulted instead. The chain
// terminates (returns false) unless the candidate is at least as close to
// Target as prevPeer was.
func (b *Base[K]) AskNextPeer(prevPeer key.Key, hint *key.Key) bool {
	target := b.target.AsKey()

	var candidate key.Key
	if hint != nil {
		candidate = *hint
	} else {
		next, ok := b.GetNextPeer(b.peersAsked)
		if !ok {
			return false
		}
		candidate = next
	}

	if key.Compare(key.Distance(prevPeer, target), key.Distance(candidate, target)) < 0 {
		// prevPeer is strictly closer than the candidate: no progress.
		return false
	}

	b.DoNextRequest(candidate)
	return true
}
