package lookup

import (
	"time"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
)

// IntroSetLookup resolves a ServiceAddr to its published IntroSet(s).
// SendReply deduplicates by address and publish timestamp before delivery.
type IntroSetLookup struct {
	Base[record.ServiceAddr]

	crypto collab.Crypto
	now    func() time.Time
	reply  func([]record.IntroSet)
}

// NewIntroSetLookup constructs an IntroSetLookup chain.
func NewIntroSetLookup(
	target record.ServiceAddr,
	whoAsked txn.TXOwner,
	neighbors Neighbors,
	send func(peer key.Key),
	crypto collab.Crypto,
	now func() time.Time,
	reply func([]record.IntroSet),
) *IntroSetLookup {
	return &IntroSetLookup{
		Base:   NewBase[record.ServiceAddr](target, whoAsked, neighbors, send),
		crypto: crypto,
		now:    now,
		reply:  reply,
	}
}

// Validate rejects an expired IntroSet or one that fails signature
// verification.
func (l *IntroSetLookup) Validate(is record.IntroSet) bool {
	if is.Expired(l.now()) {
		return false
	}
	return l.crypto.VerifyIntroSet(is)
}

// SendReply delivers every accumulated IntroSet, deduplicated by address and
// publish timestamp (record.IntroSet.SameAs).
func (l *IntroSetLookup) SendReply(values []record.IntroSet) {
	l.reply(dedupeIntroSets(values))
}

// dedupeIntroSets removes duplicates per record.IntroSet.SameAs, preserving
// the order of first occurrence.
func dedupeIntroSets(values []record.IntroSet) []record.IntroSet {
	out := make([]record.IntroSet, 0, len(values))
	for _, v := range values {
		dup := false
		for _, existing := range out {
			if existing.SameAs(v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
