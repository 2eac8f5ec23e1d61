// Package config holds the tunables of the DHT core: request timeout,
// cleanup cadence, and exploration policy. Shaped after the teacher's
// discovery/dht Config/ConfigOption pair (functional options plus a
// Validate step run once at construction).
package config

import (
	"errors"
	"time"
)

// Config holds the tunables of a DHT Context.
type Config struct {
	// RequestTimeout is the per-transaction deadline for the first
	// outstanding request against a target key.
	RequestTimeout time.Duration

	// CleanupInterval is how often the Context sweeps every Holder for
	// expired transactions.
	CleanupInterval time.Duration

	// ExploreInterval is how often the Context runs an exploration pass.
	ExploreInterval time.Duration

	// ExplorePeersPerTick is N: the number of peers sampled per
	// exploration pass.
	ExplorePeersPerTick int

	// ExploratoryReplyCount is K_exp: the number of closest router keys
	// returned by an exploratory router lookup.
	ExploratoryReplyCount int

	// TagReplyBound is R: the maximum number of IntroSets a tag lookup's
	// SendReply may return.
	TagReplyBound int

	// RandomTagSampleBound is the default "max" for
	// FindRandomIntroSetsWithTagExcluding.
	RandomTagSampleBound int

	// MinRouterFloor is the router-table size below which the Context
	// schedules an immediate exploration burst at Init instead of waiting
	// a full ExploreInterval.
	MinRouterFloor int

	// KeepaliveHold is the session hold time a keepalive send stands for.
	// It is validated but not passed to the transport: Transport.Send takes
	// only a keepalive flag, and the hold duration is the transport's own.
	KeepaliveHold time.Duration
}

// DefaultConfig returns the tunables named by the spec.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:        5000 * time.Millisecond,
		CleanupInterval:       1000 * time.Millisecond,
		ExploreInterval:       5 * time.Minute,
		ExplorePeersPerTick:   3,
		ExploratoryReplyCount: 4,
		TagReplyBound:         4,
		RandomTagSampleBound:  2,
		MinRouterFloor:        4,
		KeepaliveHold:         10 * time.Second,
	}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithRequestTimeout overrides RequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.RequestTimeout = d }
}

// WithCleanupInterval overrides CleanupInterval.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) { c.CleanupInterval = d }
}

// WithExploreInterval overrides ExploreInterval.
func WithExploreInterval(d time.Duration) Option {
	return func(c *Config) { c.ExploreInterval = d }
}

// WithExplorePeersPerTick overrides ExplorePeersPerTick.
func WithExplorePeersPerTick(n int) Option {
	return func(c *Config) { c.ExplorePeersPerTick = n }
}

// WithExploratoryReplyCount overrides ExploratoryReplyCount.
func WithExploratoryReplyCount(n int) Option {
	return func(c *Config) { c.ExploratoryReplyCount = n }
}

// WithTagReplyBound overrides TagReplyBound.
func WithTagReplyBound(n int) Option {
	return func(c *Config) { c.TagReplyBound = n }
}

// WithMinRouterFloor overrides MinRouterFloor.
func WithMinRouterFloor(n int) Option {
	return func(c *Config) { c.MinRouterFloor = n }
}

// Validate rejects non-positive durations and counts. MinRouterFloor is the
// exception: zero is accepted (no Init-time exploration burst), only a
// negative value is rejected.
func (c *Config) Validate() error {
	switch {
	case c.RequestTimeout <= 0:
		return errors.New("config: request timeout must be positive")
	case c.CleanupInterval <= 0:
		return errors.New("config: cleanup interval must be positive")
	case c.ExploreInterval <= 0:
		return errors.New("config: explore interval must be positive")
	case c.ExplorePeersPerTick <= 0:
		return errors.New("config: explore peers per tick must be positive")
	case c.ExploratoryReplyCount <= 0:
		return errors.New("config: exploratory reply count must be positive")
	case c.TagReplyBound <= 0:
		return errors.New("config: tag reply bound must be positive")
	case c.RandomTagSampleBound <= 0:
		return errors.New("config: random tag sample bound must be positive")
	case c.MinRouterFloor < 0:
		return errors.New("config: min router floor must not be negative")
	case c.KeepaliveHold <= 0:
		return errors.New("config: keepalive hold must be positive")
	}
	return nil
}
