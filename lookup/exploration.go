package lookup

import (
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
)

// ExplorationLookup walks the router keyspace near a randomly chosen target
// to surface identities absent from the local routing table. Values are not
// stored directly by the lookup itself; SendReply hands each previously
// unknown RouterID to onUnknown, which the dispatcher wires to a follow-up
// router lookup (spec.md §4.4, SPEC_FULL.md §4.4.1).
type ExplorationLookup struct {
	Base[record.RouterID]

	known     func(record.RouterID) bool
	onUnknown func(record.RouterID)
}

// NewExplorationLookup constructs an ExplorationLookup chain around target.
// The dispatcher passes a uniformly random key (key.Random); the target is
// not derived from the sampled peer or its bucket.
func NewExplorationLookup(
	target record.RouterID,
	whoAsked txn.TXOwner,
	neighbors Neighbors,
	send func(peer key.Key),
	known func(record.RouterID) bool,
	onUnknown func(record.RouterID),
) *ExplorationLookup {
	return &ExplorationLookup{
		Base:      NewBase[record.RouterID](target, whoAsked, neighbors, send),
		known:     known,
		onUnknown: onUnknown,
	}
}

// Validate accepts any non-zero identity that is not the target itself; an
// exploration reply's job is to name candidates, not vouch for them, so
// signature verification happens only when a follow-up router lookup runs.
func (e *ExplorationLookup) Validate(id record.RouterID) bool {
	return !id.AsKey().IsZero() && id != e.Target()
}

// SendReply forwards every previously unknown identity to onUnknown.
func (e *ExplorationLookup) SendReply(values []record.RouterID) {
	for _, id := range values {
		if e.known != nil && e.known(id) {
			continue
		}
		if e.onUnknown != nil {
			e.onUnknown(id)
		}
	}
}
