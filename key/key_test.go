package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXOR_SameKeyIsZero(t *testing.T) {
	k := FromBytes([]byte("router-identity-under-test"))
	assert.True(t, k.XOR(k).IsZero())
}

func TestXOR_Commutative(t *testing.T) {
	a := FromBytes([]byte("peer-alice"))
	b := FromBytes([]byte("peer-bob"))
	assert.Equal(t, a.XOR(b), b.XOR(a))
}

func TestCompare_TotalOrder(t *testing.T) {
	var a, b Key
	a[0], a[1] = 0x01, 0xFF
	b[0], b[1] = 0x02, 0x00

	// a componentwise comparator would call this a tie on byte 0 vs not;
	// magnitude order must prefer a < b because 0x01 < 0x02 in the first
	// differing byte.
	require.Equal(t, -1, Compare(a, b))
	require.Equal(t, 1, Compare(b, a))
	require.Equal(t, 0, Compare(a, a))
}

func TestCloserTo_MonotoneExample(t *testing.T) {
	// Scenario S2 from the spec: target 0x00.., P2 = 0x80.., P1 = 0xF0..
	target := Key{}
	p1 := Key{}
	p1[0] = 0xF0
	p2 := Key{}
	p2[0] = 0x80

	assert.True(t, CloserTo(p2, p1, target), "P2 must be closer to the target than P1")
	assert.False(t, CloserTo(p1, p2, target))
}

func TestFromBytes_PadsShortInput(t *testing.T) {
	k := FromBytes([]byte{0x01, 0x02})
	assert.Equal(t, byte(0x01), k[Size-2])
	assert.Equal(t, byte(0x02), k[Size-1])
	for i := 0; i < Size-2; i++ {
		assert.Equal(t, byte(0), k[i])
	}
}

func TestRandom_ProducesDistinctKeys(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
