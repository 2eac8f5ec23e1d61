package dhtcore

import (
	"go.uber.org/zap"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/dhterr"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/lookup"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
	"github.com/dep2p/oniondht/wiremsg"
)

// handleMessage routes one decoded inbound message to its per-kind handler.
// Called only from the dispatcher goroutine's own turn (spec.md §5).
func (c *Context) handleMessage(from key.Key, msg wiremsg.Message) {
	switch msg.Kind {
	case wiremsg.FindRouter:
		c.onFindRouterRequest(from, msg)
	case wiremsg.RouterFound:
		c.onRouterFound(from, msg)
	case wiremsg.RouterNotFound:
		c.onRouterNotFound(from, msg)
	case wiremsg.FindIntroSet:
		c.onFindIntroSetRequest(from, msg)
	case wiremsg.IntroSetFound:
		c.onIntroSetFound(from, msg)
	case wiremsg.IntroSetNotFound:
		c.onIntroSetNotFound(from, msg)
	case wiremsg.FindTag:
		c.onFindTagRequest(from, msg)
	case wiremsg.TagFound:
		c.onTagFound(from, msg)
	case wiremsg.TagNotFound:
		c.onTagNotFound(from, msg)
	case wiremsg.ExploreRouter:
		c.onExploreRequest(from, msg)
	case wiremsg.ExploreFound:
		c.onExploreFound(from, msg)
	case wiremsg.ExploreNotFound:
		c.onExploreNotFound(from, msg)
	default:
		c.logger.Debug("dropping message of unknown kind", zap.Uint8("kind", uint8(msg.Kind)))
	}
}

// sendWire encodes msg and hands it to the transport, logging (rather than
// propagating) failures: per spec.md §7 a send failure degrades to the same
// empty-reply-on-timeout path as an unresponsive peer.
func (c *Context) sendWire(peer key.Key, msg wiremsg.Message, keepalive bool) {
	raw, err := c.codec.Encode(msg)
	if err != nil {
		c.logger.Warn("encode failed", zap.Error(err))
		return
	}
	if err := c.transport.Send(c.netCtx, peer, raw, keepalive); err != nil {
		c.logger.Debug("send failed", zap.Error(err))
	}
}

func (c *Context) sendOnPath(path collab.PathID, msg wiremsg.Message) {
	raw, err := c.codec.Encode(msg)
	if err != nil {
		c.logger.Warn("encode failed", zap.Error(err))
		return
	}
	if err := c.pathSource.SendOnPath(path, raw); err != nil {
		c.logger.Debug("path send failed", zap.Error(err))
	}
}

func (c *Context) sendRouterFunc(txid uint64, target record.RouterID) func(key.Key) {
	return func(peer key.Key) {
		c.sendWire(peer, wiremsg.Message{Kind: wiremsg.FindRouter, Txid: txid, Target: target.AsKey()}, true)
	}
}

func (c *Context) sendIntroSetFunc(txid uint64, target record.ServiceAddr) func(key.Key) {
	return func(peer key.Key) {
		c.sendWire(peer, wiremsg.Message{Kind: wiremsg.FindIntroSet, Txid: txid, Target: target.AsKey()}, true)
	}
}

func (c *Context) sendTagFunc(txid uint64, target record.Tag, budget int) func(key.Key) {
	return func(peer key.Key) {
		c.sendWire(peer, wiremsg.Message{Kind: wiremsg.FindTag, Txid: txid, Target: target.AsKey(), RecursionBudget: budget}, true)
	}
}

func (c *Context) sendExploreFunc(txid uint64, target key.Key) func(key.Key) {
	return func(peer key.Key) {
		c.sendWire(peer, wiremsg.Message{Kind: wiremsg.ExploreRouter, Txid: txid, Target: target}, true)
	}
}

func (c *Context) replyRouterToPeer(owner txn.TXOwner, values []record.RouterContact) {
	if owner == txn.Local {
		return
	}
	kind := wiremsg.RouterFound
	if len(values) == 0 {
		kind = wiremsg.RouterNotFound
	}
	c.sendWire(owner.Peer, wiremsg.Message{Kind: kind, Txid: owner.Txid, Contacts: values}, false)
}

func (c *Context) replyRouterToPath(path collab.PathID, txid uint64, values []record.RouterContact) {
	kind := wiremsg.RouterFound
	if len(values) == 0 {
		kind = wiremsg.RouterNotFound
	}
	c.sendOnPath(path, wiremsg.Message{Kind: kind, Txid: txid, Contacts: values})
}

// replyIntroSetToPeer caches every returned IntroSet in the service table
// (the lookup is also an opportunistic cache warm) before answering owner.
func (c *Context) replyIntroSetToPeer(owner txn.TXOwner, target record.ServiceAddr, values []record.IntroSet, budget int) {
	for _, is := range values {
		c.serviceTable.Put(serviceEntry{is: is})
	}
	if owner == txn.Local {
		return
	}
	kind := wiremsg.IntroSetFound
	if len(values) == 0 {
		kind = wiremsg.IntroSetNotFound
	}
	c.sendWire(owner.Peer, wiremsg.Message{Kind: kind, Txid: owner.Txid, Target: target.AsKey(), IntroSets: values, RecursionBudget: budget}, false)
}

func (c *Context) replyIntroSetToPath(path collab.PathID, txid uint64, target record.ServiceAddr, values []record.IntroSet) {
	for _, is := range values {
		c.serviceTable.Put(serviceEntry{is: is})
	}
	kind := wiremsg.IntroSetFound
	if len(values) == 0 {
		kind = wiremsg.IntroSetNotFound
	}
	c.sendOnPath(path, wiremsg.Message{Kind: kind, Txid: txid, Target: target.AsKey(), IntroSets: values})
}

func (c *Context) replyTagToPeer(owner txn.TXOwner, tag record.Tag, values []record.IntroSet) {
	if owner == txn.Local {
		return
	}
	kind := wiremsg.TagFound
	if len(values) == 0 {
		kind = wiremsg.TagNotFound
	}
	c.sendWire(owner.Peer, wiremsg.Message{Kind: kind, Txid: owner.Txid, Target: tag.AsKey(), IntroSets: values}, false)
}

func (c *Context) replyTagToPath(path collab.PathID, txid uint64, tag record.Tag, values []record.IntroSet) {
	kind := wiremsg.TagFound
	if len(values) == 0 {
		kind = wiremsg.TagNotFound
	}
	c.sendOnPath(path, wiremsg.Message{Kind: kind, Txid: txid, Target: tag.AsKey(), IntroSets: values})
}

// onRouterFound validates each contact via the transaction's own Validate
// (spec.md §4.3), caching accepted contacts before informing every waiter.
// A reply with no surviving valid contact is treated as though it were a
// NotFound (scenario S5: validation drop keeps the chain alive).
func (c *Context) onRouterFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.routerPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping router reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	tx, ok := c.routerHolder.GetPendingLookupFrom(owner)
	if !ok {
		c.logger.Debug("dropping router reply", zap.Error(dhterr.ErrUnknownTXOwner), zap.Uint64("txid", msg.Txid))
		delete(c.routerPending, msg.Txid)
		return
	}
	valid := make([]record.RouterContact, 0, len(msg.Contacts))
	for _, rc := range msg.Contacts {
		if tx.Validate(rc) {
			valid = append(valid, rc)
		} else {
			c.logger.Debug("dropping router contact", zap.Error(dhterr.ErrValidationFailed))
		}
	}
	if len(valid) == 0 {
		c.onRouterNotFound(from, msg)
		return
	}
	for _, rc := range valid {
		c.routerTable.Put(routerEntry{rc: rc})
	}
	c.routerHolder.Found(owner, tx.Target(), valid)
	delete(c.routerPending, msg.Txid)
}

func (c *Context) onRouterNotFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.routerPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping router reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	if !c.routerHolder.NotFound(owner, from, msg.Hint) {
		c.logger.Debug("router lookup chain terminated", zap.Error(dhterr.ErrNoCloserPeer))
		delete(c.routerPending, msg.Txid)
	}
}

func (c *Context) onIntroSetFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.introPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping introset reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	tx, ok := c.introHolder.GetPendingLookupFrom(owner)
	if !ok {
		c.logger.Debug("dropping introset reply", zap.Error(dhterr.ErrUnknownTXOwner), zap.Uint64("txid", msg.Txid))
		delete(c.introPending, msg.Txid)
		return
	}
	valid := make([]record.IntroSet, 0, len(msg.IntroSets))
	for _, is := range msg.IntroSets {
		if tx.Validate(is) {
			valid = append(valid, is)
		} else {
			c.logger.Debug("dropping introset", zap.Error(dhterr.ErrValidationFailed))
		}
	}
	if len(valid) == 0 {
		c.onIntroSetNotFound(from, msg)
		return
	}
	for _, is := range valid {
		c.serviceTable.Put(serviceEntry{is: is})
	}
	c.introHolder.Found(owner, tx.Target(), valid)
	delete(c.introPending, msg.Txid)
}

func (c *Context) onIntroSetNotFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.introPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping introset reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	if !c.introHolder.NotFound(owner, from, msg.Hint) {
		c.logger.Debug("introset lookup chain terminated", zap.Error(dhterr.ErrNoCloserPeer))
		delete(c.introPending, msg.Txid)
	}
}

func (c *Context) onTagFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.tagPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping tag reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	tx, ok := c.tagHolder.GetPendingLookupFrom(owner)
	if !ok {
		c.logger.Debug("dropping tag reply", zap.Error(dhterr.ErrUnknownTXOwner), zap.Uint64("txid", msg.Txid))
		delete(c.tagPending, msg.Txid)
		return
	}
	valid := make([]record.IntroSet, 0, len(msg.IntroSets))
	for _, is := range msg.IntroSets {
		if tx.Validate(is) {
			valid = append(valid, is)
		} else {
			c.logger.Debug("dropping introset", zap.Error(dhterr.ErrValidationFailed))
		}
	}
	if len(valid) == 0 {
		c.onTagNotFound(from, msg)
		return
	}
	for _, is := range valid {
		c.serviceTable.Put(serviceEntry{is: is})
	}
	c.tagHolder.Found(owner, tx.Target(), valid)
	delete(c.tagPending, msg.Txid)
}

func (c *Context) onTagNotFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.tagPending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping tag reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	if !c.tagHolder.NotFound(owner, from, msg.Hint) {
		c.logger.Debug("tag lookup chain terminated", zap.Error(dhterr.ErrNoCloserPeer))
		delete(c.tagPending, msg.Txid)
	}
}

func (c *Context) onExploreFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.explorePending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping explore reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	tx, ok := c.exploreHolder.GetPendingLookupFrom(owner)
	if !ok {
		c.logger.Debug("dropping explore reply", zap.Error(dhterr.ErrUnknownTXOwner), zap.Uint64("txid", msg.Txid))
		delete(c.explorePending, msg.Txid)
		delete(c.pendingExplorePeers, owner.Peer)
		return
	}
	valid := make([]record.RouterID, 0, len(msg.RouterIDs))
	for _, id := range msg.RouterIDs {
		if tx.Validate(id) {
			valid = append(valid, id)
		} else {
			c.logger.Debug("dropping explored id", zap.Error(dhterr.ErrValidationFailed))
		}
	}
	c.exploreHolder.Found(owner, tx.Target(), valid)
	delete(c.explorePending, msg.Txid)
	delete(c.pendingExplorePeers, owner.Peer)
}

func (c *Context) onExploreNotFound(from key.Key, msg wiremsg.Message) {
	owner, ok := c.explorePending[msg.Txid]
	if !ok {
		c.logger.Debug("dropping explore reply", zap.Error(dhterr.ErrStaleReply), zap.Uint64("txid", msg.Txid))
		return
	}
	if !c.exploreHolder.NotFound(owner, from, msg.Hint) {
		c.logger.Debug("explore lookup chain terminated", zap.Error(dhterr.ErrNoCloserPeer))
		delete(c.explorePending, msg.Txid)
		delete(c.pendingExplorePeers, owner.Peer)
	}
}

// onFindRouterRequest answers an inbound router lookup: locally if held,
// otherwise by opening a recursive chain toward the closest peer other than
// the requester (spec.md §4.3's relay semantics).
func (c *Context) onFindRouterRequest(from key.Key, msg wiremsg.Message) {
	owner := txn.TXOwner{Peer: from, Txid: msg.Txid}
	target := record.RouterID(msg.Target)
	reply := func(values []record.RouterContact) { c.replyRouterToPeer(owner, values) }

	if e, ok := c.routerTable.Get(target.AsKey()); ok {
		reply([]record.RouterContact{e.rc})
		return
	}
	exclude := map[key.Key]struct{}{from: {}}
	peers := c.routerTable.FindMany(target.AsKey(), 1, exclude)
	if len(peers) == 0 {
		reply(nil)
		return
	}
	c.startRouterLookup(target, owner, peers[0], reply)
}

func (c *Context) onFindIntroSetRequest(from key.Key, msg wiremsg.Message) {
	owner := txn.TXOwner{Peer: from, Txid: msg.Txid}
	target := record.ServiceAddr(msg.Target)
	reply := func(values []record.IntroSet) { c.replyIntroSetToPeer(owner, target, values, msg.RecursionBudget) }

	exclude := map[key.Key]struct{}{from: {}}
	var peer key.Key
	if peers := c.serviceTable.FindMany(target.AsKey(), 1, exclude); len(peers) > 0 {
		peer = peers[0]
	}
	c.startIntroSetLookup(target, owner, peer, reply)
}

func (c *Context) onFindTagRequest(from key.Key, msg wiremsg.Message) {
	owner := txn.TXOwner{Peer: from, Txid: msg.Txid}
	tag := record.Tag(msg.Target)
	reply := func(values []record.IntroSet) { c.replyTagToPeer(owner, tag, values) }

	exclude := map[key.Key]struct{}{from: {}}
	var peer key.Key
	if peers := c.serviceTable.FindMany(tag.AsKey(), 1, exclude); len(peers) > 0 {
		peer = peers[0]
	}
	c.startTagLookup(tag, owner, peer, msg.RecursionBudget, reply)
}

// onExploreRequest answers an inbound exploratory near-neighbor query
// directly, without opening a Holder chain: it is a single-hop request with
// no relay semantics (spec.md §4.3). Delegates to
// handleExploritoryRouterLookupLocked, the same logic HandleExploritoryRouterLookup
// exposes to external callers not already on the dispatcher goroutine.
func (c *Context) onExploreRequest(from key.Key, msg wiremsg.Message) {
	c.handleExploritoryRouterLookupLocked(from, msg.Txid, msg.Target)
}

// startExplorationLookup opens an exploration chain toward peer around
// target, unless one is already outstanding for that peer (spec.md §4.4:
// re-exploring a peer already pending is a no-op). Any previously unknown
// identity the chain surfaces triggers a follow-up iterative router lookup
// to validate and admit it into the router table.
func (c *Context) startExplorationLookup(target record.RouterID, peer key.Key) {
	if _, inFlight := c.pendingExplorePeers[peer]; inFlight {
		return
	}

	txid := c.allocTxid()
	askpeer := txn.TXOwner{Peer: peer, Txid: txid}
	tx := lookup.NewExplorationLookup(
		target,
		txn.Local,
		c.routerTable,
		c.sendExploreFunc(txid, target.AsKey()),
		func(id record.RouterID) bool {
			_, known := c.routerTable.Get(id.AsKey())
			return known
		},
		func(id record.RouterID) {
			c.startRouterLookup(id, txn.Local, key.Key{}, func([]record.RouterContact) {})
		},
	)

	c.explorePending[txid] = askpeer
	c.pendingExplorePeers[peer] = target
	if err := c.exploreHolder.NewTX(askpeer, txn.Local, target, tx); err != nil {
		delete(c.explorePending, txid)
		delete(c.pendingExplorePeers, peer)
	}
}

// explore runs one exploration pass: sample one peer from each of the
// sparsest occupied buckets and open an exploration chain toward it around a
// freshly chosen random target (SPEC_FULL.md §4.4.1, a student-invented
// policy not present in original_source/).
func (c *Context) explore() {
	if c.routerTable == nil {
		return
	}
	for _, idx := range c.routerTable.SparsestBuckets(c.cfg.ExplorePeersPerTick) {
		entry, ok := c.routerTable.SampleFromBucket(idx)
		if !ok {
			continue
		}
		target, err := key.Random()
		if err != nil {
			c.logger.Warn("failed to sample exploration target", zap.Error(err))
			continue
		}
		c.startExplorationLookup(record.RouterID(target), entry.rc.ID.AsKey())
	}
}

// cleanup sweeps every Holder for expired transactions, then prunes any
// txid correlation entries left dangling by that sweep.
func (c *Context) cleanup() {
	now := c.now()
	c.routerHolder.Expire(now)
	c.introHolder.Expire(now)
	c.tagHolder.Expire(now)
	c.exploreHolder.Expire(now)
	c.prunePending()
}

// prunePending drops correlation entries whose Holder no longer has a live
// transaction for them, so routerPending et al. don't grow unbounded across
// a long-running Context.
func (c *Context) prunePending() {
	for txid, owner := range c.routerPending {
		if _, ok := c.routerHolder.GetPendingLookupFrom(owner); !ok {
			delete(c.routerPending, txid)
		}
	}
	for txid, owner := range c.introPending {
		if _, ok := c.introHolder.GetPendingLookupFrom(owner); !ok {
			delete(c.introPending, txid)
		}
	}
	for txid, owner := range c.tagPending {
		if _, ok := c.tagHolder.GetPendingLookupFrom(owner); !ok {
			delete(c.tagPending, txid)
		}
	}
	for txid, owner := range c.explorePending {
		if _, ok := c.exploreHolder.GetPendingLookupFrom(owner); !ok {
			delete(c.explorePending, txid)
			delete(c.pendingExplorePeers, owner.Peer)
		}
	}
}
