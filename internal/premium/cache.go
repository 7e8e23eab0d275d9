// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package premium

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
)

// Default cache values.
const (
	// DefaultTTL is how long a classification stays valid.
	DefaultTTL = 24 * time.Hour

	// DefaultRefreshThreshold is the fraction of the TTL after which a
	// hit also schedules a background refresh.
	DefaultRefreshThreshold = 0.8

	// DefaultMaxEntries bounds the cache size.
	DefaultMaxEntries = 10000

	// DefaultRefreshWorkers is the size of the refresh worker pool.
	DefaultRefreshWorkers = 2

	// DefaultRefreshQueueSize bounds the pending refresh queue.
	DefaultRefreshQueueSize = 256

	// sweepInterval is how often stale entries are reclaimed.
	sweepInterval = time.Hour

	// refreshTimeout bounds one background refresh, resolver retries
	// included.
	refreshTimeout = 5 * time.Second
)

// CacheEntry is one cached premium classification.
type CacheEntry struct {
	// Username is the canonical spelling when the authority supplied
	// one, otherwise the name as presented.
	Username string

	// Premium reports whether the name belongs to a premium identity.
	Premium bool

	// PremiumUUID is the premium identity id. Nil for offline names.
	PremiumUUID *uuid.UUID

	// FetchedAt is when the classification was produced.
	FetchedAt time.Time
}

// IsPremium reports whether the entry carries a premium identity.
func (e *CacheEntry) IsPremium() bool {
	return e.Premium && e.PremiumUUID != nil
}

// cacheEntry pairs the public entry with its refresh bookkeeping. The
// refreshing flag dedupes background refreshes: one per entry per
// staleness window.
type cacheEntry struct {
	CacheEntry
	refreshing atomic.Bool
}

type refreshJob struct {
	key      string
	username string
}

type cacheConfig struct {
	ttl              time.Duration
	refreshThreshold float64
	maxEntries       int
	workers          int
	queueSize        int
	registry         prometheus.Registerer
}

// CacheOption adjusts status cache construction.
type CacheOption func(*cacheConfig)

// WithTTL sets how long entries stay valid.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) { c.ttl = ttl }
}

// WithRefreshThreshold sets the TTL fraction after which a hit schedules
// a background refresh. Values outside (0, 1] keep the default.
func WithRefreshThreshold(f float64) CacheOption {
	return func(c *cacheConfig) { c.refreshThreshold = f }
}

// WithMaxEntries bounds the number of cached names.
func WithMaxEntries(n int) CacheOption {
	return func(c *cacheConfig) { c.maxEntries = n }
}

// WithWorkers sets the refresh worker pool size.
func WithWorkers(n int) CacheOption {
	return func(c *cacheConfig) { c.workers = n }
}

// WithQueueSize bounds the pending refresh queue.
func WithQueueSize(n int) CacheOption {
	return func(c *cacheConfig) { c.queueSize = n }
}

// WithRegistry registers cache metrics on reg.
func WithRegistry(reg prometheus.Registerer) CacheOption {
	return func(c *cacheConfig) { c.registry = reg }
}

// StatusCache remembers premium classifications by folded username.
// Reads are lock-only and never touch the network; refreshes of aging
// entries run on a small worker pool behind the caller's back.
type StatusCache struct {
	resolver Resolver

	ttl              time.Duration
	refreshThreshold float64
	maxEntries       int

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	refreshQueue chan refreshJob
	stopChan     chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once

	hits            prometheus.Counter
	misses          prometheus.Counter
	size            prometheus.Gauge
	refreshes       prometheus.Counter
	refreshFailures prometheus.Counter
	refreshDropped  prometheus.Counter
	evictions       prometheus.Counter
}

// NewStatusCache creates a status cache refreshed through resolver. A nil
// resolver disables background refresh; entries then age out on TTL alone.
func NewStatusCache(resolver Resolver, opts ...CacheOption) *StatusCache {
	cfg := cacheConfig{
		ttl:              DefaultTTL,
		refreshThreshold: DefaultRefreshThreshold,
		maxEntries:       DefaultMaxEntries,
		workers:          DefaultRefreshWorkers,
		queueSize:        DefaultRefreshQueueSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if cfg.refreshThreshold <= 0 || cfg.refreshThreshold > 1 {
		cfg.refreshThreshold = DefaultRefreshThreshold
	}
	if cfg.maxEntries <= 0 {
		cfg.maxEntries = DefaultMaxEntries
	}
	if cfg.workers <= 0 {
		cfg.workers = DefaultRefreshWorkers
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = DefaultRefreshQueueSize
	}

	c := &StatusCache{
		resolver:         resolver,
		ttl:              cfg.ttl,
		refreshThreshold: cfg.refreshThreshold,
		maxEntries:       cfg.maxEntries,
		entries:          make(map[string]*cacheEntry),
		refreshQueue:     make(chan refreshJob, cfg.queueSize),
		stopChan:         make(chan struct{}),
	}
	c.registerMetrics(cfg.registry)

	if c.resolver != nil {
		for range cfg.workers {
			c.wg.Add(1)
			go c.refreshWorker()
		}
	}
	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

func (c *StatusCache) registerMetrics(reg prometheus.Registerer) {
	c.hits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_hits_total",
		Help: "Status cache lookups answered from memory",
	})
	c.misses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_misses_total",
		Help: "Status cache lookups with no usable entry",
	})
	c.size = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "veloauth_premium_cache_entries",
		Help: "Names currently cached",
	})
	c.refreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_refreshes_total",
		Help: "Background refreshes completed",
	})
	c.refreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_refresh_failures_total",
		Help: "Background refreshes that got no definitive answer",
	})
	c.refreshDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_refresh_dropped_total",
		Help: "Refreshes skipped because the queue was full",
	})
	c.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "veloauth_premium_cache_evictions_total",
		Help: "Entries evicted to stay under the size bound",
	})
	if reg != nil {
		reg.MustRegister(c.hits, c.misses, c.size, c.refreshes,
			c.refreshFailures, c.refreshDropped, c.evictions)
	}
}

// GetPremiumStatus returns the cached classification for a username. The
// lookup never blocks on I/O; an entry past the refresh threshold is
// returned as-is while a background refresh is scheduled for it.
func (c *StatusCache) GetPremiumStatus(username string) (*CacheEntry, bool) {
	key := auth.FoldNickname(username)
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Inc()
		return nil, false
	}

	age := now.Sub(entry.FetchedAt)
	if age > c.ttl {
		// Expired entries linger until the sweeper runs, but never
		// serve another hit.
		c.misses.Inc()
		return nil, false
	}

	if c.resolver != nil && float64(age) > float64(c.ttl)*c.refreshThreshold {
		c.scheduleRefresh(key, entry)
	}

	c.hits.Inc()
	return copyEntry(entry), true
}

// Classify is the cache-through read: a usable entry answers directly,
// anything else asks the resolver once. Definitive answers are stored;
// an unknown outcome is passed through and never cached, so the next
// attempt asks again.
func (c *StatusCache) Classify(ctx context.Context, username string) Resolution {
	if entry, ok := c.GetPremiumStatus(username); ok {
		res := Resolution{Source: "cache", CanonicalName: entry.Username}
		if entry.IsPremium() {
			res.State = StatePremium
			res.PremiumUUID = entry.PremiumUUID
		} else {
			res.State = StateOffline
		}
		return res
	}

	if c.resolver == nil {
		return Resolution{State: StateUnknown, Source: "none", Message: "no resolver configured"}
	}

	res := c.resolver.Resolve(ctx, username)
	if res.State == StateUnknown {
		return res
	}

	name := res.CanonicalName
	if name == "" {
		name = username
	}
	c.store(name, res.PremiumUUID)
	return res
}

// scheduleRefresh queues one refresh for an aging entry. The per-entry
// flag guarantees at most one in flight regardless of concurrent hits.
func (c *StatusCache) scheduleRefresh(key string, entry *cacheEntry) {
	if !entry.refreshing.CompareAndSwap(false, true) {
		return
	}
	select {
	case c.refreshQueue <- refreshJob{key: key, username: entry.Username}:
	default:
		entry.refreshing.Store(false)
		c.refreshDropped.Inc()
		slog.Debug("premium refresh queue full, keeping stale entry", "username", entry.Username)
	}
}

func (c *StatusCache) refreshWorker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopChan:
			return
		case job := <-c.refreshQueue:
			c.refresh(job)
		}
	}
}

func (c *StatusCache) refresh(job refreshJob) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	res := c.resolver.Resolve(ctx, job.username)
	if res.State == StateUnknown {
		// Keep serving the stale entry; the next hit past the
		// threshold may try again.
		c.refreshFailures.Inc()
		slog.Debug("premium refresh got no answer, keeping stale entry",
			"username", job.username,
			"source", res.Source,
			"reason", res.Message,
		)
		c.mu.RLock()
		entry, ok := c.entries[job.key]
		c.mu.RUnlock()
		if ok {
			entry.refreshing.Store(false)
		}
		return
	}

	name := res.CanonicalName
	if name == "" {
		name = job.username
	}
	c.store(name, res.PremiumUUID)
	c.refreshes.Inc()
}

// AddPremiumPlayer records a classification for a username. A non-nil
// premiumUUID marks the name premium; nil marks it offline. Either way
// the entry is fresh from now.
func (c *StatusCache) AddPremiumPlayer(username string, premiumUUID *uuid.UUID) {
	c.store(username, premiumUUID)
}

func (c *StatusCache) store(username string, premiumUUID *uuid.UUID) {
	key := auth.FoldNickname(username)
	entry := &cacheEntry{CacheEntry: CacheEntry{
		Username:  username,
		Premium:   premiumUUID != nil,
		FetchedAt: time.Now(),
	}}
	if premiumUUID != nil {
		id := *premiumUUID
		entry.PremiumUUID = &id
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry
	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
	c.size.Set(float64(len(c.entries)))
}

// evictOldestLocked removes the entry with the oldest FetchedAt. Caller
// holds the write lock.
func (c *StatusCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for key, entry := range c.entries {
		if !found || entry.FetchedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.FetchedAt
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions.Inc()
	}
}

// ClearAll drops every cached classification. Safe to call repeatedly.
func (c *StatusCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.size.Set(0)
}

// Len reports entries currently held, expired ones included.
func (c *StatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SweepExpired removes entries past their TTL and reports how many went.
func (c *StatusCache) SweepExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.FetchedAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	c.size.Set(float64(len(c.entries)))
	return removed
}

func (c *StatusCache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				slog.Debug("swept expired premium entries", "count", n)
			}
		}
	}
}

// Close stops the refresh workers and the sweeper. In-flight refreshes
// finish; queued ones are dropped.
func (c *StatusCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

func copyEntry(entry *cacheEntry) *CacheEntry {
	out := entry.CacheEntry
	if entry.PremiumUUID != nil {
		id := *entry.PremiumUUID
		out.PremiumUUID = &id
	}
	return &out
}
