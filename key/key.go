// Package key implements the fixed-width identifier and XOR metric shared by
// every keyspace in the DHT: router identities, service addresses, and tags
// are all 256-bit Keys.
package key

import (
	"crypto/rand"
	"encoding/hex"
)

// Size is the width of a Key in bytes (256 bits).
const Size = 32

// Key is a fixed-width identifier used both as node identity and as the
// hashed location of a stored record. It is equipped with bitwise XOR and a
// total order by big-endian magnitude.
type Key [Size]byte

// Zero is the all-zero Key.
var Zero Key

// XOR returns the bitwise XOR of k and other.
func (k Key) XOR(other Key) Key {
	var out Key
	for i := range k {
		out[i] = k[i] ^ other[i]
	}
	return out
}

// Less reports whether k is less than other under big-endian magnitude
// order. This is a genuine total order, unlike a componentwise comparator
// applied directly to two Keys or to their XOR.
func (k Key) Less(other Key) bool {
	for i := range k {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// Equal reports whether k and other hold the same bytes.
func (k Key) Equal(other Key) bool {
	return k == other
}

// IsZero reports whether k is the all-zero Key.
func (k Key) IsZero() bool {
	return k == Zero
}

// String renders k as lowercase hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Distance returns d(a,b) = a XOR b.
func Distance(a, b Key) Key {
	return a.XOR(b)
}

// Compare returns -1, 0, or 1 according to whether the magnitude of a is
// less than, equal to, or greater than the magnitude of b. Distances are
// themselves Keys, so this is the comparator used to order candidates by
// closeness to a target.
func Compare(a, b Key) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CloserTo reports whether a is strictly closer to target than b is, i.e.
// d(a,target) < d(b,target). routing.Table.FindClosest orders by it;
// FindMany and the lookup engine's AskNextPeer apply Compare to the
// distances directly, which is the same ordering. Per spec, a componentwise
// comparison of the two Keys themselves (rather than of their distances)
// does not yield a total order and must not be used here.
func CloserTo(a, b, target Key) bool {
	return Compare(Distance(a, target), Distance(b, target)) < 0
}

// Random returns a cryptographically random Key, drawn uniformly from the
// whole keyspace. Exploration uses it as the target of each chain; the
// target is not chosen near the peer being explored.
func Random() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// FromBytes copies up to Size bytes of b into a new Key, left-padding with
// zeroes if b is shorter.
func FromBytes(b []byte) Key {
	var k Key
	if len(b) >= Size {
		copy(k[:], b[len(b)-Size:])
		return k
	}
	copy(k[Size-len(b):], b)
	return k
}
