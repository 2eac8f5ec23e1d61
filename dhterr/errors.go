// Package dhterr collects the sentinel errors the DHT core can return. Each
// sentinel corresponds to one row of the error taxonomy: the core is a
// best-effort lookup service, and every failure here collapses to "empty
// reply within bounded time" rather than a fatal condition.
package dhterr

import (
	"errors"
	"fmt"
)

var (
	// ErrRoutingTableEmpty marks a lookup initiated against an empty
	// routing table (spec.md §7's "Routing table empty" row). The
	// control-surface methods keep their bool/no-op return shape for this
	// case; dhtcore.Context logs this sentinel at the exact point a lookup
	// origination finds its routing table empty (startRouterLookup,
	// startIntroSetLookup, startTagLookup).
	ErrRoutingTableEmpty = errors.New("dht: routing table empty")

	// ErrNoCloserPeer marks a chain that has no closer peer to advance to.
	// It never escapes to a caller: dhtcore.Context logs it at the point
	// Holder.NotFound reports the chain terminated (onRouterNotFound,
	// onIntroSetNotFound, onTagNotFound, onExploreNotFound), and Inform
	// converts the termination into an empty reply.
	ErrNoCloserPeer = errors.New("dht: no closer peer")

	// ErrStaleReply marks a Found/NotFound reply whose txid does not
	// correlate to any outstanding local transaction. dhtcore.Context logs
	// this sentinel at each on*Found/on*NotFound handler's txid-correlation
	// check before dropping the reply.
	ErrStaleReply = errors.New("dht: stale reply for unknown transaction")

	// ErrValidationFailed marks a value that failed Transaction.Validate.
	// The chain continues; dhtcore.Context logs this sentinel once per
	// rejected value in onRouterFound, onIntroSetFound, and onTagFound
	// before dropping it.
	ErrValidationFailed = errors.New("dht: validation failed")

	// ErrDuplicateTXOwner is returned by Holder.NewTX when the caller
	// reuses an askpeer TXOwner still present in the transaction table.
	// Callers must allocate a fresh txid; this is a programmer error.
	ErrDuplicateTXOwner = errors.New("dht: duplicate transaction owner")

	// ErrUnknownTXOwner marks a Holder.GetPendingLookupFrom miss: the
	// owner's transaction already completed or was never registered.
	// GetPendingLookupFrom keeps Go's idiomatic (value, ok) shape rather
	// than returning this error directly; dhtcore.Context logs it at each
	// on*Found handler's GetPendingLookupFrom call before dropping the
	// reply.
	ErrUnknownTXOwner = errors.New("dht: unknown transaction owner")

	// ErrRecursionExhausted marks a relay whose recursion budget R has
	// reached zero with no local answer available. dhtcore.Context logs
	// this sentinel in startTagLookup's r<=0 branch when the local sample
	// comes back empty.
	ErrRecursionExhausted = errors.New("dht: recursion budget exhausted")

	// ErrAlreadyInitialized is returned by Init if called more than once.
	ErrAlreadyInitialized = errors.New("dht: context already initialized")

	// ErrNotInitialized marks a control-surface call made before Init.
	// dhtcore.Context's requireInitialized guard logs this sentinel and
	// the call degrades to its empty/no-op result rather than dereferencing
	// unconstructed routing tables and holders.
	ErrNotInitialized = errors.New("dht: context not initialized")
)

// Error wraps an operation-scoped failure so logs and callers can identify
// which control-surface call produced it without string-matching messages.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dht: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error attributing err to operation op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
