package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRouterContact_Expired(t *testing.T) {
	now := time.Now()
	rc := RouterContact{Expiration: now.Add(time.Minute)}
	assert.False(t, rc.Expired(now))
	assert.True(t, rc.Expired(now.Add(2*time.Minute)))
}

func TestIntroSet_Expired(t *testing.T) {
	now := time.Now()
	is := IntroSet{Expiration: now.Add(time.Minute)}
	assert.False(t, is.Expired(now))
	assert.True(t, is.Expired(now.Add(2*time.Minute)))
}

func TestIntroSet_HasTag(t *testing.T) {
	var a, b Tag
	a[0] = 0x01
	b[0] = 0x02
	is := IntroSet{Tags: []Tag{a}}

	assert.True(t, is.HasTag(a))
	assert.False(t, is.HasTag(b))
}

func TestIntroSet_SameAs(t *testing.T) {
	ts := time.Now()
	var addr, other ServiceAddr
	addr[0] = 0x01
	other[0] = 0x02

	base := IntroSet{Address: addr, Timestamp: ts}
	sameAddrSameTime := IntroSet{Address: addr, Timestamp: ts}
	sameAddrLaterTime := IntroSet{Address: addr, Timestamp: ts.Add(time.Second)}
	differentAddr := IntroSet{Address: other, Timestamp: ts}

	assert.True(t, base.SameAs(sameAddrSameTime))
	assert.False(t, base.SameAs(sameAddrLaterTime))
	assert.False(t, base.SameAs(differentAddr))
}
