// Package txholder implements the per-lookup-kind transaction table: the
// fan-in of waiters by target key, ownership of live transactions keyed by
// TXOwner, and timeout bookkeeping. Generalized with Go generics from the
// teacher's per-record-type stores (internal/discovery/dht/values.go,
// providers.go) and the query-tracking maps inside query.go's
// iterativeQuery, collapsed per SPEC_FULL.md §4.2 into one shared table of
// waiters and one shared table of transactions rather than one struct per
// in-flight query object.
package txholder

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dep2p/oniondht/dhterr"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/txn"
)

// Holder tracks outstanding transactions for one lookup kind: K is the
// target-key type (RouterID, ServiceAddr, or Tag — all backed by
// key.Key), V is the value type the lookup resolves to.
//
// Invariants (spec.md §3, property 1 in §8):
//   - every TXOwner in waiting also appears in tx
//   - every Transaction's target is a key present in both waiting and
//     timeouts
//   - a key appears in timeouts iff some waiter is registered for it
type Holder[K comparable, V any] struct {
	mu sync.Mutex

	waiting  map[K][]txn.TXOwner
	tx       map[txn.TXOwner]txn.Transaction[K, V]
	timeouts map[K]time.Time

	timeout time.Duration
	clock   clock.Clock
	logger  *zap.Logger
}

// New constructs an empty Holder with the given per-key request timeout.
func New[K comparable, V any](timeout time.Duration, clk clock.Clock, logger *zap.Logger) *Holder[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Holder[K, V]{
		waiting:  make(map[K][]txn.TXOwner),
		tx:       make(map[txn.TXOwner]txn.Transaction[K, V]),
		timeouts: make(map[K]time.Time),
		timeout:  timeout,
		clock:    clk,
		logger:   logger,
	}
}

// NewTX registers a fresh transaction. If askpeer is already present in the
// transaction table this is a programmer error: the caller must allocate a
// fresh txid (spec.md §4.2 "Failure modes").
func (h *Holder[K, V]) NewTX(askpeer, whoasked txn.TXOwner, target K, tx txn.Transaction[K, V]) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.tx[askpeer]; exists {
		return dhterr.ErrDuplicateTXOwner
	}

	priorWaiters := len(h.waiting[target])

	h.tx[askpeer] = tx
	h.waiting[target] = append(h.waiting[target], askpeer)
	if _, hasTimeout := h.timeouts[target]; !hasTimeout {
		h.timeouts[target] = h.clock.Now().Add(h.timeout)
	}

	if priorWaiters == 0 {
		// First waiter for this target: start a fresh network chain.
		tx.Start(askpeer.Peer)
	}
	// Otherwise the new waiter piggybacks on the already-running chain;
	// it will be informed by the eventual Inform call.
	return nil
}

// GetPendingLookupFrom returns the live transaction owned by owner, if any.
func (h *Holder[K, V]) GetPendingLookupFrom(owner txn.TXOwner) (txn.Transaction[K, V], bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tx, ok := h.tx[owner]
	return tx, ok
}

// HasLookupFor reports whether a lookup chain is currently outstanding for
// target.
func (h *Holder[K, V]) HasLookupFor(target K) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.timeouts[target]
	return ok
}

// NotFound is called when the transaction registered under `from` received
// a negative reply from actualPeer. from is the TXOwner the transaction was
// registered under (fixed at the chain's first hop, used only to look the
// transaction up); actualPeer is whichever peer actually just answered,
// which may differ from from.Peer once the chain has advanced past its
// first hop — it is what AskNextPeer's monotone-progress check compares
// against. NotFound reports whether the chain continued (true) or
// terminated (false), so a caller tracking its own txid-keyed correlation
// table knows when to forget this owner.
func (h *Holder[K, V]) NotFound(from txn.TXOwner, actualPeer key.Key, next *key.Key) bool {
	h.mu.Lock()
	tx, ok := h.tx[from]
	h.mu.Unlock()
	if !ok {
		// Stale reply against an unknown or already-completed owner:
		// silently dropped per spec.md §7.
		return false
	}

	if tx.AskNextPeer(actualPeer, next) {
		// Chain continues; no reply yet.
		return true
	}

	h.inform(from, tx.Target(), nil, true, true)
	return false
}

// Found is delivered with validated values.
func (h *Holder[K, V]) Found(from txn.TXOwner, target K, values []V) {
	h.inform(from, target, values, true, true)
}

// Expire sweeps every target whose first-outstanding-request deadline has
// passed, firing an empty reply to every waiter exactly once per target.
func (h *Holder[K, V]) Expire(now time.Time) {
	h.mu.Lock()
	var expired []K
	for target, deadline := range h.timeouts {
		if !now.Before(deadline) {
			expired = append(expired, target)
		}
	}
	h.mu.Unlock()

	for _, target := range expired {
		h.inform(txn.Local, target, nil, true, false)
		h.mu.Lock()
		delete(h.timeouts, target)
		h.mu.Unlock()
	}
}

// DrainAll fires an empty terminal reply to every outstanding waiter
// regardless of deadline, dropping every live transaction. Used at Context
// teardown (spec.md §5: "each live transaction is Informed with empty
// values ... before its storage is released").
func (h *Holder[K, V]) DrainAll() {
	h.mu.Lock()
	targets := make([]K, 0, len(h.timeouts))
	for target := range h.timeouts {
		targets = append(targets, target)
	}
	h.mu.Unlock()

	for _, target := range targets {
		h.inform(txn.Local, target, nil, true, true)
	}
}

// inform is the fanout primitive: every waiter of key observes each value
// via SendReply (batched, since txn.Transaction.SendReply takes the whole
// slice); when sendReply is true the transaction and its waiters are
// retired. When removeTimeouts is true the timeout entry for key is
// dropped as well.
//
// The spec allows an implementation to additionally deliver partial
// progress to waiters via per-value observations before the terminal
// reply (spec.md §9, "Inform with sendReply=false"); this implementation
// takes the spec's stated option to skip that call, since no documented
// caller depends on partial-progress delivery.
func (h *Holder[K, V]) inform(from txn.TXOwner, target K, values []V, sendReply, removeTimeouts bool) {
	h.mu.Lock()
	waiters := h.waiting[target]
	h.mu.Unlock()

	if sendReply {
		for _, waiter := range waiters {
			h.mu.Lock()
			tx, ok := h.tx[waiter]
			h.mu.Unlock()
			if !ok {
				continue
			}
			tx.SendReply(values)
			h.mu.Lock()
			delete(h.tx, waiter)
			h.mu.Unlock()
		}

		h.mu.Lock()
		delete(h.waiting, target)
		h.mu.Unlock()
	}

	if removeTimeouts {
		h.mu.Lock()
		delete(h.timeouts, target)
		h.mu.Unlock()
	}

	h.logger.Debug("transaction informed",
		zap.String("from", from.Peer.String()),
		zap.Int("waiters", len(waiters)),
		zap.Int("values", len(values)),
		zap.Bool("sendReply", sendReply),
	)
}
