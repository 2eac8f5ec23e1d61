package lookup

import (
	"time"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
)

// RouterLookup resolves a RouterID to a signed RouterContact. SendReply
// yields at most one contact, per spec.md §4.3.
type RouterLookup struct {
	Base[record.RouterID]

	crypto collab.Crypto
	now    func() time.Time
	reply  func([]record.RouterContact)
}

// NewRouterLookup constructs a RouterLookup chain for target on behalf of
// whoAsked, using neighbors to pick successive peers and send to issue
// outbound requests. reply is invoked exactly once with the terminal result.
func NewRouterLookup(
	target record.RouterID,
	whoAsked txn.TXOwner,
	neighbors Neighbors,
	send func(peer key.Key),
	crypto collab.Crypto,
	now func() time.Time,
	reply func([]record.RouterContact),
) *RouterLookup {
	return &RouterLookup{
		Base:   NewBase[record.RouterID](target, whoAsked, neighbors, send),
		crypto: crypto,
		now:    now,
		reply:  reply,
	}
}

// Validate rejects an expired contact or one whose signature the crypto
// collaborator cannot verify.
func (r *RouterLookup) Validate(rc record.RouterContact) bool {
	if rc.Expired(r.now()) {
		return false
	}
	return r.crypto.VerifyRouterContact(rc)
}

// SendReply delivers at most one contact to WhoAsked.
func (r *RouterLookup) SendReply(values []record.RouterContact) {
	if len(values) > 1 {
		values = values[:1]
	}
	r.reply(values)
}
