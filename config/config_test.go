package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDefaultConfig_MatchesSpecDefaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 5000*time.Millisecond, c.RequestTimeout)
	assert.Equal(t, 1000*time.Millisecond, c.CleanupInterval)
	assert.Equal(t, 3, c.ExplorePeersPerTick)
	assert.Equal(t, 4, c.ExploratoryReplyCount)
}

func TestOptions_Override(t *testing.T) {
	c := DefaultConfig()
	WithRequestTimeout(2 * time.Second)(c)
	WithExplorePeersPerTick(7)(c)
	require.NoError(t, c.Validate())
	assert.Equal(t, 2*time.Second, c.RequestTimeout)
	assert.Equal(t, 7, c.ExplorePeersPerTick)
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.RequestTimeout = 0 },
		func(c *Config) { c.CleanupInterval = -1 },
		func(c *Config) { c.ExplorePeersPerTick = 0 },
		func(c *Config) { c.ExploratoryReplyCount = 0 },
		func(c *Config) { c.TagReplyBound = 0 },
		func(c *Config) { c.KeepaliveHold = 0 },
	}
	for _, mutate := range cases {
		c := DefaultConfig()
		mutate(c)
		assert.Error(t, c.Validate())
	}
}
