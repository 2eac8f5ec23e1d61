package lookup

import (
	"time"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
)

// TagLookup resolves a Tag to the IntroSets advertising it, bounded to at
// most replyBound (R) results, matching spec.md §4.3's tag-lookup budget.
type TagLookup struct {
	Base[record.Tag]

	crypto     collab.Crypto
	now        func() time.Time
	replyBound int
	reply      func([]record.IntroSet)
}

// NewTagLookup constructs a TagLookup chain.
func NewTagLookup(
	target record.Tag,
	whoAsked txn.TXOwner,
	neighbors Neighbors,
	send func(peer key.Key),
	crypto collab.Crypto,
	now func() time.Time,
	replyBound int,
	reply func([]record.IntroSet),
) *TagLookup {
	return &TagLookup{
		Base:       NewBase[record.Tag](target, whoAsked, neighbors, send),
		crypto:     crypto,
		now:        now,
		replyBound: replyBound,
		reply:      reply,
	}
}

// Validate rejects an expired IntroSet, one that fails signature
// verification, or one that does not actually advertise the tag being
// resolved.
func (t *TagLookup) Validate(is record.IntroSet) bool {
	if is.Expired(t.now()) {
		return false
	}
	if !is.HasTag(t.Target()) {
		return false
	}
	return t.crypto.VerifyIntroSet(is)
}

// SendReply delivers up to replyBound deduplicated IntroSets.
func (t *TagLookup) SendReply(values []record.IntroSet) {
	values = dedupeIntroSets(values)
	if t.replyBound > 0 && len(values) > t.replyBound {
		values = values[:t.replyBound]
	}
	t.reply(values)
}
