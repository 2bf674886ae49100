package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/chimeralabs/chimera-core/internal/instrument"
)

// Fallback durations used when an instrument's timing configuration has
// never been fetched or lacks an entry.
const (
	DefaultFlushDuration       = 30 * time.Second
	DefaultChannelOpenDuration = 10 * time.Minute
)

// maxChannel is the highest channel number an instrument reports.
const maxChannel = 15

// TimingConfig is the per-instrument timing configuration used to
// estimate phase durations. ChannelOpen is indexed by channel-1.
type TimingConfig struct {
	Flush       time.Duration
	ChannelOpen []time.Duration
}

// TimingDefaults are the fallback durations handed out for instruments
// or channels with no cached configuration.
type TimingDefaults struct {
	Flush       time.Duration
	ChannelOpen time.Duration
}

// TimingFetcher reads timing configuration from an instrument.
// *instrument.Client satisfies it.
type TimingFetcher interface {
	FetchTiming(ctx context.Context, inst *instrument.Instrument) (*instrument.TimingInfo, error)
}

// timingEntry pairs a cached config with the time its fetch started, for
// stale-write protection.
type timingEntry struct {
	cfg       TimingConfig
	fetchedAt time.Time
}

// TimingConfigCache holds the last-fetched timing configuration per
// instrument. Refresh is fail-soft: a fetch failure leaves the previous
// value untouched, since timing only feeds estimates. A successful fetch
// replaces the entry wholesale; a slow fetch that loses the race to a
// newer one is discarded rather than clobbering fresher data.
//
// All methods are safe for concurrent use.
type TimingConfigCache struct {
	fetcher  TimingFetcher
	defaults TimingDefaults
	logger   Logger

	mu      sync.Mutex
	entries map[string]timingEntry
}

// NewTimingConfigCache creates a timing cache. Non-positive defaults are
// replaced by the package fallbacks.
func NewTimingConfigCache(fetcher TimingFetcher, defaults TimingDefaults) *TimingConfigCache {
	if defaults.Flush <= 0 {
		defaults.Flush = DefaultFlushDuration
	}
	if defaults.ChannelOpen <= 0 {
		defaults.ChannelOpen = DefaultChannelOpenDuration
	}
	return &TimingConfigCache{
		fetcher:  fetcher,
		defaults: defaults,
		logger:   noopLogger{},
		entries:  make(map[string]timingEntry),
	}
}

// SetLogger sets the logger for the cache.
func (c *TimingConfigCache) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// Refresh fetches the instrument's timing configuration and replaces the
// cached entry. Failures are logged and swallowed; the caller decides
// whether to refresh again.
func (c *TimingConfigCache) Refresh(ctx context.Context, inst *instrument.Instrument) {
	started := time.Now()

	c.mu.Lock()
	logger := c.logger
	c.mu.Unlock()

	info, err := c.fetcher.FetchTiming(ctx, inst)
	if err != nil {
		logger.Warn("timing refresh failed, keeping cached value",
			"serial", inst.Serial,
			"error", err,
		)
		return
	}

	cfg := TimingConfig{
		Flush:       time.Duration(info.FlushTimeMs) * time.Millisecond,
		ChannelOpen: make([]time.Duration, len(info.ChannelTimesMs)),
	}
	for i, ms := range info.ChannelTimesMs {
		cfg.ChannelOpen[i] = time.Duration(ms) * time.Millisecond
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A refresh that started later has already landed; this response is
	// an antique.
	if existing, ok := c.entries[inst.Serial]; ok && existing.fetchedAt.After(started) {
		c.logger.Debug("discarding stale timing refresh", "serial", inst.Serial)
		return
	}

	c.entries[inst.Serial] = timingEntry{cfg: cfg, fetchedAt: started}
	c.logger.Debug("timing config refreshed",
		"serial", inst.Serial,
		"flush", cfg.Flush,
		"channels", len(cfg.ChannelOpen),
	)
}

// Get returns the cached timing configuration for an instrument, or a
// config built from the defaults if never refreshed.
func (c *TimingConfigCache) Get(serial string) TimingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[serial]; ok {
		cfg := entry.cfg
		cfg.ChannelOpen = append([]time.Duration(nil), entry.cfg.ChannelOpen...)
		return cfg
	}
	return TimingConfig{Flush: c.defaults.Flush}
}

// FlushDuration returns the estimated flush phase duration for an
// instrument.
func (c *TimingConfigCache) FlushDuration(serial string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[serial]; ok && entry.cfg.Flush > 0 {
		return entry.cfg.Flush
	}
	return c.defaults.Flush
}

// ChannelOpenDuration returns the estimated open duration for a 1-based
// channel number, falling back to the default when the channel is
// absent, out of the 1..15 range, or beyond the cached array.
func (c *TimingConfigCache) ChannelOpenDuration(serial string, channel int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if channel < 1 || channel > maxChannel {
		return c.defaults.ChannelOpen
	}

	entry, ok := c.entries[serial]
	if !ok || channel > len(entry.cfg.ChannelOpen) {
		return c.defaults.ChannelOpen
	}

	d := entry.cfg.ChannelOpen[channel-1]
	if d <= 0 {
		return c.defaults.ChannelOpen
	}
	return d
}

// Forget drops the cached entry for an instrument.
func (c *TimingConfigCache) Forget(serial string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, serial)
}

// Clear drops all cached entries. Used at subsystem shutdown.
func (c *TimingConfigCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]timingEntry)
}
