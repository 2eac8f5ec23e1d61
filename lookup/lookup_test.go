package lookup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/oniondht/key"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/txn"
)

type fakeNeighbors struct {
	ordered []key.Key
}

func (f fakeNeighbors) FindMany(target key.Key, n int, exclude map[key.Key]struct{}) []key.Key {
	var out []key.Key
	for _, k := range f.ordered {
		if _, skip := exclude[k]; skip {
			continue
		}
		out = append(out, k)
		if len(out) == n {
			break
		}
	}
	return out
}

type fakeCrypto struct {
	verifyRouter bool
	verifyIntro  bool
}

func (f fakeCrypto) VerifyRouterContact(record.RouterContact) bool { return f.verifyRouter }
func (f fakeCrypto) VerifyIntroSet(record.IntroSet) bool           { return f.verifyIntro }

func mkKey(b byte) key.Key {
	var k key.Key
	k[0] = b
	return k
}

func mkRouterID(b byte) record.RouterID {
	return record.RouterID(mkKey(b))
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestAskNextPeer_TerminatesWhenNotCloser exercises property 2 (monotone
// XOR progress) and scenario S2: a candidate farther from the target than
// the peer that just replied ends the chain without a further request.
func TestAskNextPeer_TerminatesWhenNotCloser(t *testing.T) {
	target := mkRouterID(0x00)
	prevPeer := mkKey(0x01) // distance 0x01 from target
	farther := mkKey(0xF0)  // distance 0xF0, strictly farther

	sent := 0
	rl := NewRouterLookup(target, txn.Local, fakeNeighbors{ordered: []key.Key{farther}},
		func(key.Key) { sent++ }, fakeCrypto{}, fixedNow(time.Time{}), nil)

	ok := rl.AskNextPeer(prevPeer, nil)
	assert.False(t, ok)
	assert.Zero(t, sent, "no request should be issued once progress stalls")
}

// TestAskNextPeer_ContinuesWhenCloser exercises the positive side of
// property 2: a strictly closer candidate keeps the chain alive.
func TestAskNextPeer_ContinuesWhenCloser(t *testing.T) {
	target := mkRouterID(0x00)
	prevPeer := mkKey(0xF0)
	closer := mkKey(0x01)

	var sentTo key.Key
	rl := NewRouterLookup(target, txn.Local, fakeNeighbors{ordered: []key.Key{closer}},
		func(p key.Key) { sentTo = p }, fakeCrypto{}, fixedNow(time.Time{}), nil)

	ok := rl.AskNextPeer(prevPeer, nil)
	assert.True(t, ok)
	assert.Equal(t, closer, sentTo)
	_, asked := rl.PeersAsked()[closer]
	assert.True(t, asked)
}

// TestAskNextPeer_HonorsHintOverRoutingTable checks that a peer-supplied
// closer-peer hint is preferred over consulting the routing table directly.
func TestAskNextPeer_HonorsHintOverRoutingTable(t *testing.T) {
	target := mkRouterID(0x00)
	prevPeer := mkKey(0xF0)
	hinted := mkKey(0x02)
	fromTable := mkKey(0x01)

	var sentTo key.Key
	rl := NewRouterLookup(target, txn.Local, fakeNeighbors{ordered: []key.Key{fromTable}},
		func(p key.Key) { sentTo = p }, fakeCrypto{}, fixedNow(time.Time{}), nil)

	ok := rl.AskNextPeer(prevPeer, &hinted)
	assert.True(t, ok)
	assert.Equal(t, hinted, sentTo)
}

// TestAskNextPeer_TerminatesWhenExhausted checks the routing table returning
// no further candidates ends the chain.
func TestAskNextPeer_TerminatesWhenExhausted(t *testing.T) {
	target := mkRouterID(0x00)
	rl := NewRouterLookup(target, txn.Local, fakeNeighbors{},
		func(key.Key) { t.Fatal("must not send when exhausted") }, fakeCrypto{}, fixedNow(time.Time{}), nil)

	ok := rl.AskNextPeer(mkKey(0xFF), nil)
	assert.False(t, ok)
}

// TestRouterLookup_Validate_RejectsExpired exercises scenario S5 (validation
// drop): an expired contact is rejected regardless of signature validity.
func TestRouterLookup_Validate_RejectsExpired(t *testing.T) {
	now := time.Now()
	rl := NewRouterLookup(mkRouterID(0x00), txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{verifyRouter: true}, fixedNow(now), nil)

	rc := record.RouterContact{ID: mkRouterID(0x01), Expiration: now.Add(-time.Second)}
	assert.False(t, rl.Validate(rc))
}

// TestRouterLookup_Validate_RejectsBadSignature exercises scenario S5 with a
// live but unverifiable contact.
func TestRouterLookup_Validate_RejectsBadSignature(t *testing.T) {
	now := time.Now()
	rl := NewRouterLookup(mkRouterID(0x00), txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{verifyRouter: false}, fixedNow(now), nil)

	rc := record.RouterContact{ID: mkRouterID(0x01), Expiration: now.Add(time.Hour)}
	assert.False(t, rl.Validate(rc))
}

func TestRouterLookup_SendReply_CapsToOne(t *testing.T) {
	var got []record.RouterContact
	rl := NewRouterLookup(mkRouterID(0x00), txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{}, fixedNow(time.Time{}), func(v []record.RouterContact) { got = v })

	rl.SendReply([]record.RouterContact{
		{ID: mkRouterID(0x01)},
		{ID: mkRouterID(0x02)},
	})
	require.Len(t, got, 1)
	assert.Equal(t, mkRouterID(0x01), got[0].ID)
}

func TestIntroSetLookup_SendReply_Dedupes(t *testing.T) {
	var got []record.IntroSet
	addr := record.ServiceAddr(mkKey(0x00))
	ts := time.Now()
	il := NewIntroSetLookup(addr, txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{}, fixedNow(ts), func(v []record.IntroSet) { got = v })

	dup1 := record.IntroSet{Address: addr, Timestamp: ts}
	dup2 := record.IntroSet{Address: addr, Timestamp: ts}
	distinct := record.IntroSet{Address: addr, Timestamp: ts.Add(time.Minute)}

	il.SendReply([]record.IntroSet{dup1, dup2, distinct})
	assert.Len(t, got, 2)
}

func TestTagLookup_Validate_RequiresTag(t *testing.T) {
	now := time.Now()
	tag := record.Tag(mkKey(0x05))
	tl := NewTagLookup(tag, txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{verifyIntro: true}, fixedNow(now), 4, nil)

	withoutTag := record.IntroSet{Expiration: now.Add(time.Hour), Tags: nil}
	assert.False(t, tl.Validate(withoutTag))

	withTag := record.IntroSet{Expiration: now.Add(time.Hour), Tags: []record.Tag{tag}}
	assert.True(t, tl.Validate(withTag))
}

func TestTagLookup_SendReply_BoundsToR(t *testing.T) {
	tag := record.Tag(mkKey(0x05))
	var got []record.IntroSet
	tl := NewTagLookup(tag, txn.Local, fakeNeighbors{}, nil,
		fakeCrypto{}, fixedNow(time.Time{}), 2, func(v []record.IntroSet) { got = v })

	ts := time.Now()
	values := []record.IntroSet{
		{Address: record.ServiceAddr(mkKey(0x01)), Timestamp: ts},
		{Address: record.ServiceAddr(mkKey(0x02)), Timestamp: ts},
		{Address: record.ServiceAddr(mkKey(0x03)), Timestamp: ts},
	}
	tl.SendReply(values)
	assert.Len(t, got, 2)
}

func TestExplorationLookup_SendReply_OnlyUnknown(t *testing.T) {
	knownID := mkRouterID(0x01)
	unknownID := mkRouterID(0x02)

	var notified []record.RouterID
	el := NewExplorationLookup(mkRouterID(0x00), txn.Local, fakeNeighbors{}, nil,
		func(id record.RouterID) bool { return id == knownID },
		func(id record.RouterID) { notified = append(notified, id) },
	)

	el.SendReply([]record.RouterID{knownID, unknownID})
	require.Len(t, notified, 1)
	assert.Equal(t, unknownID, notified[0])
}

func TestExplorationLookup_Validate_RejectsZero(t *testing.T) {
	el := NewExplorationLookup(mkRouterID(0x00), txn.Local, fakeNeighbors{}, nil, nil, nil)
	assert.False(t, el.Validate(record.RouterID{}))
	assert.True(t, el.Validate(mkRouterID(0x03)))
}
