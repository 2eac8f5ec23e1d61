package dhtcore

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/dhterr"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/lookup"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
	"github.com/dep2p/oniondht/wiremsg"
)

// LookupRouter starts an iterative router lookup: resultHandler is invoked
// exactly once with the terminal result. Returns false iff the router
// routing table is empty (spec.md §7's "Routing table empty" row).
func (c *Context) LookupRouter(target record.RouterID, resultHandler func([]record.RouterContact)) bool {
	if !c.requireInitialized("LookupRouter") {
		if resultHandler != nil {
			resultHandler(nil)
		}
		return false
	}
	var ok bool
	c.run(func() {
		ok = c.startRouterLookup(target, txn.Local, key.Key{}, resultHandler)
	})
	return ok
}

// HasRouterLookup reports whether a router lookup chain is currently
// outstanding for target.
func (c *Context) HasRouterLookup(target record.RouterID) bool {
	if !c.requireInitialized("HasRouterLookup") {
		return false
	}
	var has bool
	c.run(func() { has = c.routerHolder.HasLookupFor(target) })
	return has
}

// LookupRouterRecursive resolves target on behalf of a remote peer: the
// terminal reply is delivered back to that peer over the wire, echoing
// whoAskedTxid, in addition to optionally invoking handler locally.
func (c *Context) LookupRouterRecursive(target record.RouterID, whoAsked key.Key, whoAskedTxid uint64, askpeer key.Key, handler func([]record.RouterContact)) {
	if !c.requireInitialized("LookupRouterRecursive") {
		if handler != nil {
			handler(nil)
		}
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: whoAsked, Txid: whoAskedTxid}
		reply := func(values []record.RouterContact) {
			c.replyRouterToPeer(owner, values)
			if handler != nil {
				handler(values)
			}
		}
		c.startRouterLookup(target, owner, askpeer, reply)
	})
}

// LookupRouterForPath is LookupRouterRecursive with the reply routed back
// through a local onion path instead of to a remote peer. askpeer, per
// spec.md §6 and the original ground truth (context.hpp's
// LookupRouterViaPath), lets the caller pin the first hop of the chain
// rather than always re-deriving the closest known peer.
func (c *Context) LookupRouterForPath(target record.RouterID, path collab.PathID, whoAskedTxid uint64, askpeer key.Key) {
	if !c.requireInitialized("LookupRouterForPath") {
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: key.FromBytes(path[:]), Txid: whoAskedTxid}
		reply := func(values []record.RouterContact) {
			c.replyRouterToPath(path, whoAskedTxid, values)
		}
		c.startRouterLookup(target, owner, askpeer, reply)
	})
}

// startRouterLookup implements the shared router-lookup origination: pick
// preferredPeer if given, else the closest known peer; register a fresh
// chain in routerHolder. Returns false iff the routing table is empty.
func (c *Context) startRouterLookup(target record.RouterID, whoAsked txn.TXOwner, preferredPeer key.Key, reply func([]record.RouterContact)) bool {
	if c.routerTable.Size() == 0 {
		c.logger.Debug("router lookup rejected", zap.Error(dhterr.ErrRoutingTableEmpty))
		reply(nil)
		return false
	}
	peer := preferredPeer
	if peer.IsZero() {
		peers := c.routerTable.FindMany(target.AsKey(), 1, nil)
		if len(peers) == 0 {
			reply(nil)
			return false
		}
		peer = peers[0]
	}

	txid := c.allocTxid()
	askpeer := txn.TXOwner{Peer: peer, Txid: txid}
	tx := lookup.NewRouterLookup(target, whoAsked, c.routerTable, c.sendRouterFunc(txid, target), c.crypto, c.now, reply)

	c.routerPending[txid] = askpeer
	if err := c.routerHolder.NewTX(askpeer, whoAsked, target, tx); err != nil {
		c.logger.Warn("router lookup registration failed", zap.Error(err))
		delete(c.routerPending, txid)
		reply(nil)
		return false
	}
	return true
}

// LookupIntroSetRecursive resolves target on behalf of a remote peer. r is
// copied into the RecursionBudget field of the reply sent back to whoAsked;
// the chain's outbound requests do not carry it, it is not decremented, and
// a budget of zero does not stop the lookup from opening a network chain.
func (c *Context) LookupIntroSetRecursive(target record.ServiceAddr, whoAsked key.Key, whoAskedTxid uint64, askpeer key.Key, r int, handler func([]record.IntroSet)) {
	if !c.requireInitialized("LookupIntroSetRecursive") {
		if handler != nil {
			handler(nil)
		}
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: whoAsked, Txid: whoAskedTxid}
		reply := func(values []record.IntroSet) {
			c.replyIntroSetToPeer(owner, target, values, r)
			if handler != nil {
				handler(values)
			}
		}
		c.startIntroSetLookup(target, owner, askpeer, reply)
	})
}

// LookupIntroSetIterative resolves target, optionally on behalf of whoasked
// (identified by whoaskedTX), per spec.md §6 and context.hpp:153-156. Pass
// the zero key.Key and txid 0 (matching txn.Local) for a purely local
// caller that only wants handler invoked; a non-zero whoasked additionally
// delivers the terminal reply to that peer over the wire.
func (c *Context) LookupIntroSetIterative(target record.ServiceAddr, whoasked key.Key, whoaskedTX uint64, askpeer key.Key, handler func([]record.IntroSet)) bool {
	if !c.requireInitialized("LookupIntroSetIterative") {
		if handler != nil {
			handler(nil)
		}
		return false
	}
	var started bool
	c.run(func() {
		owner := txn.TXOwner{Peer: whoasked, Txid: whoaskedTX}
		started = c.startIntroSetLookup(target, owner, askpeer, func(values []record.IntroSet) {
			c.replyIntroSetToPeer(owner, target, values, 0)
			if handler != nil {
				handler(values)
			}
		})
	})
	return started
}

// LookupIntroSetForPath is LookupIntroSetRecursive with the reply routed
// back through a local onion path. askpeer pins the chain's first hop
// (spec.md §6, context.hpp:189-201), rather than always re-deriving the
// closest known peer.
func (c *Context) LookupIntroSetForPath(target record.ServiceAddr, path collab.PathID, whoAskedTxid uint64, askpeer key.Key) {
	if !c.requireInitialized("LookupIntroSetForPath") {
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: key.FromBytes(path[:]), Txid: whoAskedTxid}
		reply := func(values []record.IntroSet) {
			c.replyIntroSetToPath(path, whoAskedTxid, target, values)
		}
		c.startIntroSetLookup(target, owner, askpeer, reply)
	})
}

// startIntroSetLookup implements the relay semantics of spec.md §4.3: answer
// locally if the service table already holds an exact match, otherwise open
// a chain toward preferredPeer (or the closest known peer).
func (c *Context) startIntroSetLookup(target record.ServiceAddr, whoAsked txn.TXOwner, preferredPeer key.Key, reply func([]record.IntroSet)) bool {
	if is, ok := c.localIntroSet(target); ok {
		reply([]record.IntroSet{is})
		return true
	}

	peer := preferredPeer
	if peer.IsZero() {
		peers := c.serviceTable.FindMany(target.AsKey(), 1, nil)
		if len(peers) == 0 {
			c.logger.Debug("introset lookup rejected", zap.Error(dhterr.ErrRoutingTableEmpty))
			reply(nil)
			return false
		}
		peer = peers[0]
	}

	txid := c.allocTxid()
	askpeer := txn.TXOwner{Peer: peer, Txid: txid}
	tx := lookup.NewIntroSetLookup(target, whoAsked, c.serviceTable, c.sendIntroSetFunc(txid, target), c.crypto, c.now, reply)

	c.introPending[txid] = askpeer
	if err := c.introHolder.NewTX(askpeer, whoAsked, target, tx); err != nil {
		delete(c.introPending, txid)
		reply(nil)
		return false
	}
	return true
}

// GetIntroSetByServiceAddress returns the locally held IntroSet for addr,
// if any, with no network traffic.
func (c *Context) GetIntroSetByServiceAddress(addr record.ServiceAddr) (record.IntroSet, bool) {
	if !c.requireInitialized("GetIntroSetByServiceAddress") {
		return record.IntroSet{}, false
	}
	var out record.IntroSet
	var ok bool
	c.run(func() { out, ok = c.localIntroSet(addr) })
	return out, ok
}

func (c *Context) localIntroSet(addr record.ServiceAddr) (record.IntroSet, bool) {
	e, ok := c.serviceTable.Get(addr.AsKey())
	if !ok {
		return record.IntroSet{}, false
	}
	return e.is, true
}

// LookupTagRecursive resolves tag on behalf of a remote peer, bounded by
// recursion budget r (spec.md §6's R parameter).
func (c *Context) LookupTagRecursive(tag record.Tag, whoAsked key.Key, whoAskedTxid uint64, askpeer key.Key, r int) {
	if !c.requireInitialized("LookupTagRecursive") {
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: whoAsked, Txid: whoAskedTxid}
		reply := func(values []record.IntroSet) {
			c.replyTagToPeer(owner, tag, values)
		}
		c.startTagLookup(tag, owner, askpeer, r, reply)
	})
}

// LookupTagForPath is LookupTagRecursive with the reply routed back through
// a local onion path. askpeer pins the chain's first hop (spec.md §6,
// context.hpp:189-201).
func (c *Context) LookupTagForPath(tag record.Tag, path collab.PathID, whoAskedTxid uint64, askpeer key.Key, r int) {
	if !c.requireInitialized("LookupTagForPath") {
		return
	}
	c.run(func() {
		owner := txn.TXOwner{Peer: key.FromBytes(path[:]), Txid: whoAskedTxid}
		reply := func(values []record.IntroSet) {
			c.replyTagToPath(path, whoAskedTxid, tag, values)
		}
		c.startTagLookup(tag, owner, askpeer, r, reply)
	})
}

// startTagLookup implements the recursion-budget error row of spec.md §7:
// at r<=0 the relay answers locally (a random local sample) or empty,
// rather than opening a further network chain.
func (c *Context) startTagLookup(target record.Tag, whoAsked txn.TXOwner, preferredPeer key.Key, r int, reply func([]record.IntroSet)) bool {
	if r <= 0 {
		local := c.findRandomIntroSetsWithTagExcludingLocked(target, c.cfg.RandomTagSampleBound, nil)
		if len(local) == 0 {
			c.logger.Debug("tag lookup recursion exhausted", zap.Error(dhterr.ErrRecursionExhausted))
		}
		reply(local)
		return len(local) > 0
	}

	peer := preferredPeer
	if peer.IsZero() {
		peers := c.serviceTable.FindMany(target.AsKey(), 1, nil)
		if len(peers) == 0 {
			c.logger.Debug("tag lookup rejected", zap.Error(dhterr.ErrRoutingTableEmpty))
			reply(nil)
			return false
		}
		peer = peers[0]
	}

	txid := c.allocTxid()
	askpeer := txn.TXOwner{Peer: peer, Txid: txid}
	tx := lookup.NewTagLookup(target, whoAsked, c.serviceTable, c.sendTagFunc(txid, target, r-1), c.crypto, c.now, c.cfg.TagReplyBound, reply)

	c.tagPending[txid] = askpeer
	if err := c.tagHolder.NewTX(askpeer, whoAsked, target, tx); err != nil {
		delete(c.tagPending, txid)
		reply(nil)
		return false
	}
	return true
}

// FindRandomIntroSetsWithTagExcluding returns a randomized local sample of
// IntroSets advertising tag, bounded to max (or Config.RandomTagSampleBound
// if max<=0), excluding any address in excludes.
func (c *Context) FindRandomIntroSetsWithTagExcluding(tag record.Tag, max int, excludes map[record.ServiceAddr]struct{}) []record.IntroSet {
	if !c.requireInitialized("FindRandomIntroSetsWithTagExcluding") {
		return nil
	}
	var out []record.IntroSet
	c.run(func() { out = c.findRandomIntroSetsWithTagExcludingLocked(tag, max, excludes) })
	return out
}

func (c *Context) findRandomIntroSetsWithTagExcludingLocked(tag record.Tag, max int, excludes map[record.ServiceAddr]struct{}) []record.IntroSet {
	if max <= 0 {
		max = c.cfg.RandomTagSampleBound
	}
	var matches []record.IntroSet
	for _, e := range c.serviceTable.All() {
		if _, skip := excludes[e.is.Address]; skip {
			continue
		}
		if e.is.HasTag(tag) {
			matches = append(matches, e.is)
		}
	}
	if len(matches) > max {
		rnd := rand.New(rand.NewSource(int64(c.clk.Now().UnixNano())))
		rnd.Shuffle(len(matches), func(i, j int) { matches[i], matches[j] = matches[j], matches[i] })
		matches = matches[:max]
	}
	return matches
}

// HandleExploritoryRouterLookup answers an exploratory near-neighbor query
// (spec.md §4.3, §6; context.hpp's HandleExploritoryRouterLookup): up to
// Config.ExploratoryReplyCount closest router contacts to target, excluding
// requester, sent back over the wire correlated by txid. Called directly by
// external callers not already on the dispatcher goroutine; onExploreRequest
// (dispatch.go) shares the same underlying logic via
// handleExploritoryRouterLookupLocked for the case where an inbound message
// is already being handled inside a dispatcher turn.
func (c *Context) HandleExploritoryRouterLookup(requester key.Key, txid uint64, target key.Key) []record.RouterContact {
	if !c.requireInitialized("HandleExploritoryRouterLookup") {
		return nil
	}
	var out []record.RouterContact
	c.run(func() { out = c.handleExploritoryRouterLookupLocked(requester, txid, target) })
	return out
}

// handleExploritoryRouterLookupLocked is the unwrapped implementation,
// callable both from the public, run()-wrapped HandleExploritoryRouterLookup
// and from onExploreRequest while already running inside a dispatcher turn.
func (c *Context) handleExploritoryRouterLookupLocked(requester key.Key, txid uint64, target key.Key) []record.RouterContact {
	exclude := map[key.Key]struct{}{requester: {}}
	peers := c.routerTable.FindMany(target, c.cfg.ExploratoryReplyCount, exclude)
	out := make([]record.RouterContact, 0, len(peers))
	ids := make([]record.RouterID, 0, len(peers))
	for _, p := range peers {
		if e, ok := c.routerTable.Get(p); ok {
			out = append(out, e.rc)
			ids = append(ids, e.rc.ID)
		}
	}
	c.sendWire(requester, wiremsg.Message{Kind: wiremsg.ExploreFound, Txid: txid, RouterIDs: ids}, false)
	return out
}

// LookupRouterRelayed implements the relay semantics of spec.md §4.3 for an
// inbound router lookup arriving from requester: answer locally if held,
// else, when recursive is true, open a chain toward the closest peer other
// than requester (spec.md §6, context.hpp:221-223). When recursive is
// false the caller only wants the local table consulted — no further
// network chain is opened on a miss.
func (c *Context) LookupRouterRelayed(requester key.Key, txid uint64, target record.RouterID, recursive bool) []record.RouterContact {
	if !c.requireInitialized("LookupRouterRelayed") {
		return nil
	}
	var out []record.RouterContact
	c.run(func() {
		if e, ok := c.routerTable.Get(target.AsKey()); ok {
			out = []record.RouterContact{e.rc}
			return
		}
		if !recursive {
			return
		}
		exclude := map[key.Key]struct{}{requester: {}}
		peers := c.routerTable.FindMany(target.AsKey(), 1, exclude)
		if len(peers) == 0 {
			return
		}
		owner := txn.TXOwner{Peer: requester, Txid: txid}
		reply := func(values []record.RouterContact) { c.replyRouterToPeer(owner, values) }
		c.startRouterLookup(target, owner, peers[0], reply)
	})
	return out
}

// PropagateIntroSetTo forwards introset toward peer with propagation budget
// s, decrementing it, as part of publish-time replication. A budget of zero
// or below is a no-op (spec.md §6). exclude names peers already known to
// hold a replica (spec.md §6, context.hpp:232-234); peer is skipped without
// sending when it is a member, so a replication fan-out driven by
// PropagateIntroSetTo in a loop never resends to a peer the caller already
// covered.
func (c *Context) PropagateIntroSetTo(source key.Key, sourceTX uint64, introset record.IntroSet, peer key.Key, s int, exclude map[key.Key]struct{}) {
	if !c.requireInitialized("PropagateIntroSetTo") {
		return
	}
	c.run(func() {
		if s <= 0 {
			return
		}
		if _, skip := exclude[peer]; skip {
			return
		}
		msg := wiremsg.Message{
			Kind:            wiremsg.IntroSetFound,
			Txid:            sourceTX,
			Target:          introset.Address.AsKey(),
			IntroSets:       []record.IntroSet{introset},
			RecursionBudget: s - 1,
		}
		c.sendWire(peer, msg, false)
	})
}

// RelayRequestForPath forwards an already-encoded DHT message onto a local
// onion path, reporting whether the send succeeded.
func (c *Context) RelayRequestForPath(localPath collab.PathID, raw []byte) bool {
	if !c.requireInitialized("RelayRequestForPath") {
		return false
	}
	var ok bool
	c.run(func() { ok = c.pathSource.SendOnPath(localPath, raw) == nil })
	return ok
}
