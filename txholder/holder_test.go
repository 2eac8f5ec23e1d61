package txholder

import (
	"testing"
	"time"

	benclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/oniondht/dhterr"
	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/txn"
)

// fakeTX is a minimal txn.Transaction[key.Key, string] test double that
// records Start/SendReply invocations without doing any real XOR-closer
// traversal (that behavior belongs to package lookup and is tested there).
type fakeTX struct {
	target      key.Key
	whoAsked    txn.TXOwner
	started     []key.Key
	replies     [][]string
	nextPeers   []key.Key
	asked       map[key.Key]struct{}
	advanceFunc func(prevPeer key.Key, hint *key.Key) bool
}

func newFakeTX(target key.Key, whoAsked txn.TXOwner) *fakeTX {
	return &fakeTX{target: target, whoAsked: whoAsked, asked: map[key.Key]struct{}{}}
}

func (f *fakeTX) Target() key.Key        { return f.target }
func (f *fakeTX) WhoAsked() txn.TXOwner  { return f.whoAsked }
func (f *fakeTX) Validate(v string) bool { return v != "" }
func (f *fakeTX) Start(peer key.Key)     { f.started = append(f.started, peer) }
func (f *fakeTX) DoNextRequest(key.Key)  {}
func (f *fakeTX) SendReply(values []string) {
	f.replies = append(f.replies, values)
}
func (f *fakeTX) PeersAsked() map[key.Key]struct{} { return f.asked }
func (f *fakeTX) RecordPeerAsked(p key.Key)        { f.asked[p] = struct{}{} }
func (f *fakeTX) GetNextPeer(excluding map[key.Key]struct{}) (key.Key, bool) {
	for _, p := range f.nextPeers {
		if _, skip := excluding[p]; !skip {
			return p, true
		}
	}
	return key.Key{}, false
}
func (f *fakeTX) AskNextPeer(prevPeer key.Key, hint *key.Key) bool {
	if f.advanceFunc != nil {
		return f.advanceFunc(prevPeer, hint)
	}
	return false
}

func peerOwner(b byte) txn.TXOwner {
	var k key.Key
	k[0] = b
	return txn.TXOwner{Peer: k, Txid: uint64(b)}
}

func TestNewTX_FirstWaiterStartsChain(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)

	require.NoError(t, h.NewTX(owner, owner, target, tx))
	assert.Len(t, tx.started, 1)
	assert.True(t, h.HasLookupFor(target))
}

func TestNewTX_DuplicateAskpeerRejected(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)

	require.NoError(t, h.NewTX(owner, owner, target, tx))
	err := h.NewTX(owner, owner, target, tx)
	assert.ErrorIs(t, err, dhterr.ErrDuplicateTXOwner)
}

// TestNewTX_Coalescing exercises property 4: N waiters registered before
// any reply arrives collapse onto one network chain and all receive the
// same terminal values.
func TestNewTX_Coalescing(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}

	first := peerOwner(1)
	second := peerOwner(2)

	txFirst := newFakeTX(target, first)
	require.NoError(t, h.NewTX(first, first, target, txFirst))

	txSecond := newFakeTX(target, second)
	require.NoError(t, h.NewTX(second, second, target, txSecond))

	// Only the first waiter's chain should have been started.
	assert.Len(t, txFirst.started, 1)
	assert.Len(t, txSecond.started, 0)

	h.Found(first, target, []string{"value"})

	require.Len(t, txFirst.replies, 1)
	require.Len(t, txSecond.replies, 1)
	assert.Equal(t, []string{"value"}, txFirst.replies[0])
	assert.Equal(t, []string{"value"}, txSecond.replies[0])
}

func TestFound_RemovesTransactionAndTimeout(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)
	require.NoError(t, h.NewTX(owner, owner, target, tx))

	h.Found(owner, target, []string{"v"})

	_, ok := h.GetPendingLookupFrom(owner)
	assert.False(t, ok)
	assert.False(t, h.HasLookupFor(target))
}

func TestNotFound_UnknownOwnerIsSilentlyDropped(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	// No transaction was ever registered for owner 9, so there is no chain
	// to advance; NotFound is expected to no-op and report no continuation.
	continued := h.NotFound(peerOwner(9), peerOwner(9).Peer, nil)
	assert.False(t, continued)
}

func TestNotFound_ChainContinues_NoReplyYet(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)
	tx.advanceFunc = func(prevPeer key.Key, hint *key.Key) bool { return true }
	require.NoError(t, h.NewTX(owner, owner, target, tx))

	continued := h.NotFound(owner, owner.Peer, nil)

	assert.True(t, continued)
	assert.Empty(t, tx.replies)
	_, ok := h.GetPendingLookupFrom(owner)
	assert.True(t, ok, "transaction should remain live while the chain continues")
}

func TestNotFound_ChainTerminates_EmptyReply(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)
	tx.advanceFunc = func(prevPeer key.Key, hint *key.Key) bool { return false }
	require.NoError(t, h.NewTX(owner, owner, target, tx))

	continued := h.NotFound(owner, owner.Peer, nil)

	assert.False(t, continued)
	require.Len(t, tx.replies, 1)
	assert.Empty(t, tx.replies[0])
}

func TestDrainAll_InformsEveryLiveWaiterEmpty(t *testing.T) {
	h := New[key.Key, string](5*time.Second, benclock.NewMock(), nil)

	target1 := key.Key{}
	target1[0] = 0x01
	owner1 := peerOwner(1)
	tx1 := newFakeTX(target1, owner1)
	require.NoError(t, h.NewTX(owner1, owner1, target1, tx1))

	target2 := key.Key{}
	target2[0] = 0x02
	owner2 := peerOwner(2)
	tx2 := newFakeTX(target2, owner2)
	require.NoError(t, h.NewTX(owner2, owner2, target2, tx2))

	h.DrainAll()

	require.Len(t, tx1.replies, 1)
	assert.Empty(t, tx1.replies[0])
	require.Len(t, tx2.replies, 1)
	assert.Empty(t, tx2.replies[0])
	assert.False(t, h.HasLookupFor(target1))
	assert.False(t, h.HasLookupFor(target2))
}

// TestExpire_FiresEmptyReplyAfterDeadline exercises scenario S4 and
// property 5 (expiry bound) using a mock clock instead of a real sleep.
func TestExpire_FiresEmptyReplyAfterDeadline(t *testing.T) {
	mockClock := benclock.NewMock()
	h := New[key.Key, string](5*time.Second, mockClock, nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)
	require.NoError(t, h.NewTX(owner, owner, target, tx))

	mockClock.Add(4 * time.Second)
	h.Expire(mockClock.Now())
	assert.Empty(t, tx.replies, "must not fire before the deadline")

	mockClock.Add(2 * time.Second)
	h.Expire(mockClock.Now())
	require.Len(t, tx.replies, 1)
	assert.Empty(t, tx.replies[0])
	assert.False(t, h.HasLookupFor(target))
}

func TestExpire_FiresExactlyOncePerWaiter(t *testing.T) {
	mockClock := benclock.NewMock()
	h := New[key.Key, string](1*time.Second, mockClock, nil)
	target := key.Key{}
	owner := peerOwner(1)
	tx := newFakeTX(target, owner)
	require.NoError(t, h.NewTX(owner, owner, target, tx))

	mockClock.Add(2 * time.Second)
	h.Expire(mockClock.Now())
	h.Expire(mockClock.Now())

	assert.Len(t, tx.replies, 1, "at-most-one-reply per waiter")
}
