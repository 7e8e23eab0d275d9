// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Default authorization cache values.
const (
	// DefaultAuthTTL is how long an authorization survives without
	// re-verification.
	DefaultAuthTTL = time.Hour

	// DefaultAuthMaxSize caps the number of live authorization entries.
	DefaultAuthMaxSize = 10000

	// DefaultAuthCleanupInterval is how often expired entries are swept.
	DefaultAuthCleanupInterval = 5 * time.Minute

	// authShardCount is the number of independently locked shards. Keeping
	// it a power of two makes the shard index a mask over the first id byte.
	authShardCount = 32
)

// AuthorizedEntry records one identity currently allowed past the gate.
type AuthorizedEntry struct {
	UUID         uuid.UUID
	Nickname     string
	IP           string
	AuthorizedAt time.Time
	Premium      bool
	PremiumUUID  *uuid.UUID
}

// copyAuthorizedEntry returns a copy; callers never hold cache-internal
// pointers.
func copyAuthorizedEntry(e *AuthorizedEntry) *AuthorizedEntry {
	out := *e
	if e.PremiumUUID != nil {
		id := *e.PremiumUUID
		out.PremiumUUID = &id
	}
	return &out
}

type authShard struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*AuthorizedEntry
}

// AuthCacheConfig configures the authorization cache.
type AuthCacheConfig struct {
	// TTL is the maximum age of an entry. Defaults to DefaultAuthTTL if zero.
	TTL time.Duration

	// MaxSize bounds the entry count. Defaults to DefaultAuthMaxSize if zero.
	MaxSize int

	// CleanupInterval is how often the sweeper runs. Defaults to
	// DefaultAuthCleanupInterval if zero.
	CleanupInterval time.Duration

	// IPPinning requires the presented address to match the entry's bound
	// address during authorization checks.
	IPPinning bool
}

// AuthorizationCache is the concurrent store of "is this identity currently
// allowed past the gate". Reads and writes are safe under arbitrary
// interleaving; per-identity check-then-act stays inside one shard lock.
//
// The cache runs a background sweeper for expired entries. Call Close() to
// stop it.
type AuthorizationCache struct {
	shards    [authShardCount]*authShard
	ttl       time.Duration
	maxSize   int
	ipPinning bool
	size      atomic.Int64

	stopChan chan struct{}
	wg       sync.WaitGroup

	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	ipMismatches prometheus.Counter
}

// NewAuthorizationCache creates an authorization cache and starts its
// sweeper goroutine. reg may be nil to skip metrics registration.
func NewAuthorizationCache(cfg AuthCacheConfig, reg prometheus.Registerer) *AuthorizationCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultAuthTTL
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultAuthMaxSize
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultAuthCleanupInterval
	}

	c := &AuthorizationCache{
		ttl:       ttl,
		maxSize:   maxSize,
		ipPinning: cfg.IPPinning,
		stopChan:  make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &authShard{entries: make(map[uuid.UUID]*AuthorizedEntry)}
	}

	if reg != nil {
		c.hits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_authcache_hits_total",
			Help: "Authorization checks that found a valid entry",
		})
		c.misses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_authcache_misses_total",
			Help: "Authorization checks that found no valid entry",
		})
		c.evictions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_authcache_evictions_total",
			Help: "Entries evicted by capacity or TTL",
		})
		c.ipMismatches = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_authcache_ip_mismatch_total",
			Help: "Authorization checks rejected by IP pinning",
		})
		reg.MustRegister(c.hits, c.misses, c.evictions, c.ipMismatches,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "veloauth_authcache_entries",
				Help: "Current number of authorization entries",
			}, func() float64 { return float64(c.size.Load()) }))
	}

	c.wg.Add(1)
	go c.sweepLoop(cleanupInterval)

	return c
}

func (c *AuthorizationCache) shard(id uuid.UUID) *authShard {
	return c.shards[int(id[0])&(authShardCount-1)]
}

// IsPlayerAuthorized reports whether the identity holds a live
// authorization. With IP pinning enabled a mismatched address fails the
// check but does not evict the entry; address drift alone is tolerated
// (NAT and proxy hops), eviction happens only on corroborated identity
// mismatch at the call site.
func (c *AuthorizationCache) IsPlayerAuthorized(id uuid.UUID, ip string) bool {
	s := c.shard(id)
	s.mu.RLock()
	entry, exists := s.entries[id]
	var expired, ipMismatch bool
	if exists {
		expired = time.Since(entry.AuthorizedAt) > c.ttl
		ipMismatch = c.ipPinning && entry.IP != ip
	}
	s.mu.RUnlock()

	switch {
	case !exists, expired:
		c.count(c.misses)
		return false
	case ipMismatch:
		c.count(c.ipMismatches)
		slog.Debug("authorization check rejected by ip pinning",
			"uuid", id.String(),
			"bound_ip", entry.IP,
			"presented_ip", ip,
		)
		return false
	default:
		c.count(c.hits)
		return true
	}
}

// GetEntry returns a copy of the identity's authorization entry, or nil if
// none exists or it has expired.
func (c *AuthorizationCache) GetEntry(id uuid.UUID) *AuthorizedEntry {
	s := c.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	if !exists || time.Since(entry.AuthorizedAt) > c.ttl {
		return nil
	}
	return copyAuthorizedEntry(entry)
}

// AddAuthorizedPlayer inserts or replaces the authorization entry for
// entry.UUID. Exceeding the capacity bound evicts oldest entries first.
func (c *AuthorizationCache) AddAuthorizedPlayer(entry AuthorizedEntry) {
	if entry.AuthorizedAt.IsZero() {
		entry.AuthorizedAt = time.Now()
	}

	s := c.shard(entry.UUID)
	s.mu.Lock()
	_, existed := s.entries[entry.UUID]
	s.entries[entry.UUID] = copyAuthorizedEntry(&entry)
	s.mu.Unlock()

	if !existed && c.size.Add(1) > int64(c.maxSize) {
		c.evictOldest()
	}
}

// RemoveAuthorizedPlayer deletes the identity's entry. Returns true if an
// entry was removed.
func (c *AuthorizationCache) RemoveAuthorizedPlayer(id uuid.UUID) bool {
	s := c.shard(id)
	s.mu.Lock()
	_, exists := s.entries[id]
	if exists {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if exists {
		c.size.Add(-1)
	}
	return exists
}

// ClearAll removes every entry. Safe to call repeatedly.
func (c *AuthorizationCache) ClearAll() {
	for _, s := range c.shards {
		s.mu.Lock()
		removed := len(s.entries)
		s.entries = make(map[uuid.UUID]*AuthorizedEntry)
		s.mu.Unlock()
		c.size.Add(-int64(removed))
	}
}

// Len returns the current entry count.
func (c *AuthorizationCache) Len() int {
	return int(c.size.Load())
}

// evictOldest removes oldest entries until the cache is back under its
// capacity bound. Shard locks are taken one at a time; the scan tolerates
// concurrent mutation because eviction only needs to be approximately
// oldest-first under load.
func (c *AuthorizationCache) evictOldest() {
	for c.size.Load() > int64(c.maxSize) {
		var (
			oldestID uuid.UUID
			oldestAt time.Time
			found    bool
		)
		for _, s := range c.shards {
			s.mu.RLock()
			for id, entry := range s.entries {
				if !found || entry.AuthorizedAt.Before(oldestAt) {
					oldestID = id
					oldestAt = entry.AuthorizedAt
					found = true
				}
			}
			s.mu.RUnlock()
		}
		if !found {
			return
		}
		if c.RemoveAuthorizedPlayer(oldestID) {
			c.count(c.evictions)
		} else {
			return
		}
	}
}

// SweepExpired removes entries past their TTL and returns how many were
// removed.
func (c *AuthorizationCache) SweepExpired() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for id, entry := range s.entries {
			if time.Since(entry.AuthorizedAt) > c.ttl {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.size.Add(-int64(removed))
		if c.evictions != nil {
			c.evictions.Add(float64(removed))
		}
	}
	return removed
}

// sweepLoop runs periodic expiry sweeps in the background.
func (c *AuthorizationCache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if n := c.SweepExpired(); n > 0 {
				slog.Debug("swept expired authorizations", "removed", n)
			}
		}
	}
}

// Close stops the background sweeper. It blocks until the goroutine has
// stopped.
func (c *AuthorizationCache) Close() {
	close(c.stopChan)
	c.wg.Wait()
}

func (c *AuthorizationCache) count(counter prometheus.Counter) {
	if counter != nil {
		counter.Inc()
	}
}
