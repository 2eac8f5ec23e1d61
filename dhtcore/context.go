// Package dhtcore implements the Dispatcher & Exploration component: the
// Context that owns the two routing tables, the four transaction Holders,
// and the single event loop that drives lookups, cleanup, and exploration.
// Grounded on the teacher's internal/discovery/dht/dht.go (DHT struct,
// lifecycle, background loops) and handler.go (message routing), adapted
// per SPEC_FULL.md §4.4 to the single-threaded cooperative model spec.md §5
// mandates: instead of the teacher's mutex-guarded methods callable from any
// goroutine, every state mutation here runs as one turn of a single
// dispatcher goroutine, reached via the run() helper.
package dhtcore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/config"
	"github.com/dep2p/oniondht/dhterr"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/routing"
	"github.com/dep2p/oniondht/txholder"
	"github.com/dep2p/oniondht/txn"
	"github.com/dep2p/oniondht/wiremsg"
)

// Context is the DHT core: two routing tables, four transaction holders,
// and the collaborators the spec treats as external (transport, router
// source, path source, crypto, wire codec). Construct with New, then call
// Init exactly once before issuing any lookup.
type Context struct {
	cfg    *config.Config
	logger *zap.Logger
	clk    clock.Clock

	transport    collab.Transport
	pathSource   collab.PathSource
	crypto       collab.Crypto
	codec        wiremsg.Codec
	routerSource collab.RouterSource

	ourID record.RouterID

	routerTable  *routing.Table[routerEntry]
	serviceTable *routing.Table[serviceEntry]

	routerHolder  *txholder.Holder[record.RouterID, record.RouterContact]
	introHolder   *txholder.Holder[record.ServiceAddr, record.IntroSet]
	tagHolder     *txholder.Holder[record.Tag, record.IntroSet]
	exploreHolder *txholder.Holder[record.RouterID, record.RouterID]

	// pending correlates a locally allocated txid with the TXOwner it was
	// registered under, so an inbound reply from whichever peer currently
	// holds the chain can be matched back to the fixed (firstHopPeer, txid)
	// key the Holder's tx map actually uses, without re-keying that map as
	// the chain advances hop to hop.
	routerPending  map[uint64]txn.TXOwner
	introPending   map[uint64]txn.TXOwner
	tagPending     map[uint64]txn.TXOwner
	explorePending map[uint64]txn.TXOwner

	// pendingExplorePeers bounds exploration to one outstanding chain per
	// peer at a time (spec.md §4.4: "re-exploring a peer already in
	// pendingExploreLookups is a no-op").
	pendingExplorePeers map[key.Key]record.RouterID

	txCounter uint64

	events chan func()
	closed chan struct{}

	netCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started     atomic.Bool
	initialized atomic.Bool
	mu          sync.Mutex // guards txCounter only; all other state is loop-confined
}

// New constructs a Context with its infrastructure collaborators. Call Init
// before issuing lookups.
func New(
	cfg *config.Config,
	transport collab.Transport,
	pathSource collab.PathSource,
	crypto collab.Crypto,
	codec wiremsg.Codec,
	clk clock.Clock,
	logger *zap.Logger,
) *Context {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		cfg:                 cfg,
		logger:              logger,
		clk:                 clk,
		transport:           transport,
		pathSource:          pathSource,
		crypto:              crypto,
		codec:               codec,
		routerPending:       make(map[uint64]txn.TXOwner),
		introPending:        make(map[uint64]txn.TXOwner),
		tagPending:          make(map[uint64]txn.TXOwner),
		explorePending:      make(map[uint64]txn.TXOwner),
		pendingExplorePeers: make(map[key.Key]record.RouterID),
		events:              make(chan func(), 256),
		closed:              make(chan struct{}),
	}
}

// Init is the one-shot activation step (spec.md §6): seeds the router
// table from router, subscribes to further updates, wires the transport's
// inbound callback, and starts the dispatcher goroutine. If the router
// table starts below Config.MinRouterFloor, an exploration burst is
// scheduled immediately rather than waiting a full exploreInterval
// (SPEC_FULL.md §4.4.1).
func (c *Context) Init(parent context.Context, ourID record.RouterID, router collab.RouterSource, exploreInterval time.Duration) error {
	if !c.started.CompareAndSwap(false, true) {
		return dhterr.Wrap("Init", dhterr.ErrAlreadyInitialized)
	}

	c.ourID = ourID
	c.routerSource = router
	c.routerTable = routing.New[routerEntry](ourID.AsKey())
	c.serviceTable = routing.New[serviceEntry](ourID.AsKey())
	c.routerHolder = txholder.New[record.RouterID, record.RouterContact](c.cfg.RequestTimeout, c.clk, c.logger.Named("dht.router"))
	c.introHolder = txholder.New[record.ServiceAddr, record.IntroSet](c.cfg.RequestTimeout, c.clk, c.logger.Named("dht.introset"))
	c.tagHolder = txholder.New[record.Tag, record.IntroSet](c.cfg.RequestTimeout, c.clk, c.logger.Named("dht.tag"))
	c.exploreHolder = txholder.New[record.RouterID, record.RouterID](c.cfg.RequestTimeout, c.clk, c.logger.Named("dht.explore"))
	c.initialized.Store(true)

	if exploreInterval <= 0 {
		exploreInterval = c.cfg.ExploreInterval
	}

	seeds, err := router.Seed(parent)
	if err != nil {
		return dhterr.Wrap("Init", err)
	}
	for _, rc := range seeds {
		c.routerTable.Put(routerEntry{rc: rc})
	}
	router.Subscribe(func(rc record.RouterContact) {
		c.run(func() { c.routerTable.Put(routerEntry{rc: rc}) })
	})

	c.transport.RegisterInbound(func(from key.Key, raw []byte) {
		msg, err := c.codec.Decode(raw)
		if err != nil {
			c.logger.Debug("dropping undecodable message", zap.Error(err))
			return
		}
		c.run(func() { c.handleMessage(from, msg) })
	})

	netCtx, cancel := context.WithCancel(parent)
	c.netCtx = netCtx
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(netCtx, exploreInterval)
	}()

	if c.routerTable.Size() < c.cfg.MinRouterFloor {
		c.run(func() { c.explore() })
	}

	return nil
}

// loop is the single dispatcher goroutine: every state mutation in the
// Context happens as one turn here, whether triggered by an inbound
// message, a local control-surface call, or a timer tick (spec.md §5).
func (c *Context) loop(ctx context.Context, exploreInterval time.Duration) {
	cleanupTicker := c.clk.Ticker(c.cfg.CleanupInterval)
	exploreTicker := c.clk.Ticker(exploreInterval)
	defer cleanupTicker.Stop()
	defer exploreTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.events:
			fn()
		case <-cleanupTicker.C:
			c.cleanup()
		case <-exploreTicker.C:
			c.explore()
		}
	}
}

// run enqueues fn onto the dispatcher loop and blocks until it has executed
// as a single, non-overlapping turn. Before Init (or after Close), the loop
// is not running and fn executes synchronously in the caller's goroutine —
// safe because nothing else can be concurrently mutating Context state at
// those times.
func (c *Context) run(fn func()) {
	if !c.started.Load() {
		fn()
		return
	}
	done := make(chan struct{})
	select {
	case c.events <- func() { fn(); close(done) }:
		<-done
	case <-c.closed:
	}
}

// requireInitialized reports whether Init has run. Every control-surface
// entry point in lookups.go checks this before touching the routing tables
// or holders, which are nil until Init constructs them; a false result is
// logged with dhterr.ErrNotInitialized so the caller's zero-value/no-op
// return doesn't silently look like a legitimate empty result.
func (c *Context) requireInitialized(op string) bool {
	if c.initialized.Load() {
		return true
	}
	c.logger.Warn("control-surface call before Init", zap.String("op", op), zap.Error(dhterr.ErrNotInitialized))
	return false
}

func (c *Context) now() time.Time { return c.clk.Now() }

func (c *Context) allocTxid() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txCounter++
	return c.txCounter
}

// Close tears down the Context: the dispatcher goroutine is stopped and
// every live transaction in every Holder is informed with empty values
// before its storage is released (spec.md §5).
func (c *Context) Close() error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	close(c.closed)
	c.cancel()
	c.wg.Wait()

	c.routerHolder.DrainAll()
	c.introHolder.DrainAll()
	c.tagHolder.DrainAll()
	c.exploreHolder.DrainAll()

	return nil
}
