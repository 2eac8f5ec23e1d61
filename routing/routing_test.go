package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/oniondht/key"
)

type fakeEntry struct {
	id key.Key
}

func (f fakeEntry) ID() key.Key { return f.id }

func mk(b byte) fakeEntry {
	var k key.Key
	k[0] = b
	return fakeEntry{id: k}
}

func TestTable_PutGetRemove(t *testing.T) {
	local := key.Key{}
	local[0] = 0xAA
	tbl := New[fakeEntry](local)

	e := mk(0x01)
	tbl.Put(e)
	require.Equal(t, 1, tbl.Size())

	got, ok := tbl.Get(e.ID())
	require.True(t, ok)
	assert.Equal(t, e.ID(), got.ID())

	tbl.Remove(e.ID())
	assert.Equal(t, 0, tbl.Size())
}

func TestTable_Put_IgnoresLocal(t *testing.T) {
	local := key.Key{}
	local[0] = 0xAA
	tbl := New[fakeEntry](local)
	tbl.Put(fakeEntry{id: local})
	assert.Equal(t, 0, tbl.Size())
}

func TestTable_FindClosest_ScenarioS1(t *testing.T) {
	local := key.Key{}
	local[0] = 0x00
	tbl := New[fakeEntry](local)

	p := key.Key{}
	p[0] = 0x01
	tbl.Put(fakeEntry{id: p})

	closest, ok := tbl.FindClosest(key.Key{})
	require.True(t, ok)
	assert.Equal(t, p, closest)
}

func TestTable_FindClosest_EmptyTableReturnsFalse(t *testing.T) {
	tbl := New[fakeEntry](key.Key{})
	_, ok := tbl.FindClosest(key.Key{})
	assert.False(t, ok)
}

func TestTable_FindMany_OrderedByDistance(t *testing.T) {
	local := key.Key{}
	tbl := New[fakeEntry](local)

	target := key.Key{}

	far := key.Key{}
	far[0] = 0xF0
	near := key.Key{}
	near[0] = 0x01
	mid := key.Key{}
	mid[0] = 0x10

	tbl.Put(fakeEntry{id: far})
	tbl.Put(fakeEntry{id: near})
	tbl.Put(fakeEntry{id: mid})

	got := tbl.FindMany(target, 3, nil)
	require.Len(t, got, 3)
	assert.Equal(t, near, got[0])
	assert.Equal(t, mid, got[1])
	assert.Equal(t, far, got[2])
}

func TestTable_FindMany_ExcludesGivenKeys(t *testing.T) {
	local := key.Key{}
	tbl := New[fakeEntry](local)

	a := key.Key{}
	a[0] = 0x01
	b := key.Key{}
	b[0] = 0x02
	tbl.Put(fakeEntry{id: a})
	tbl.Put(fakeEntry{id: b})

	got := tbl.FindMany(key.Key{}, 5, map[key.Key]struct{}{a: {}})
	require.Len(t, got, 1)
	assert.Equal(t, b, got[0])
}

func TestTable_FindMany_StableAcrossRepeatedCalls(t *testing.T) {
	local := key.Key{}
	tbl := New[fakeEntry](local)
	for i := byte(1); i <= 5; i++ {
		tbl.Put(mk(i))
	}
	target := key.Key{}
	first := tbl.FindMany(target, 3, nil)
	second := tbl.FindMany(target, 3, nil)
	assert.Equal(t, first, second)
}

func TestTable_BucketFull_OverflowsToReplacements(t *testing.T) {
	local := key.Key{}
	tbl := New[fakeEntry](local)

	// All entries sharing a common prefix land in the same bucket; push
	// past BucketSize to exercise the replacement cache path.
	for i := 0; i < BucketSize+5; i++ {
		var k key.Key
		k[key.Size-1] = byte(i)
		k[0] = 0x7F // shared high bit pattern -> same bucket region
		tbl.Put(fakeEntry{id: k})
	}
	assert.Equal(t, BucketSize, tbl.Size())
}

func TestBucketIndex_LocalKeyIsOutOfRange(t *testing.T) {
	local := key.Key{}
	idx := BucketIndex(local, local)
	assert.Equal(t, NumBuckets-1, idx)
}

func TestSparsestBuckets_PrefersLowOccupancy(t *testing.T) {
	local := key.Key{}
	tbl := New[fakeEntry](local)

	sparse := key.Key{}
	sparse[0] = 0x01
	tbl.Put(fakeEntry{id: sparse})

	dense1 := key.Key{}
	dense1[0] = 0x80
	dense2 := key.Key{}
	dense2[0] = 0x80
	dense2[1] = 0x01
	tbl.Put(fakeEntry{id: dense1})
	tbl.Put(fakeEntry{id: dense2})

	got := tbl.SparsestBuckets(1)
	require.Len(t, got, 1)
	assert.Equal(t, BucketIndex(local, sparse), got[0])
}
