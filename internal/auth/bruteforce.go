// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default brute-force guard values.
const (
	// DefaultBruteForceMaxAttempts is the consecutive-failure count that
	// triggers a lockout.
	DefaultBruteForceMaxAttempts = 5

	// DefaultBruteForceLockout is how long an address stays blocked,
	// measured from its first failure.
	DefaultBruteForceLockout = 15 * time.Minute
)

// bruteForceEntry tracks consecutive failures for one address.
type bruteForceEntry struct {
	failures     int
	firstFailure time.Time
}

// BruteForceGuardConfig configures the guard.
type BruteForceGuardConfig struct {
	// MaxAttempts is the failure count that triggers a lockout. Defaults
	// to DefaultBruteForceMaxAttempts if zero.
	MaxAttempts int

	// LockoutWindow is the block duration measured from the first failure.
	// Defaults to DefaultBruteForceLockout if zero.
	LockoutWindow time.Duration
}

// BruteForceGuard counts failed logins per raw network address. Counting by
// address, not identity, keeps an attacker from rotating nicknames to dodge
// the limiter. Entries reset themselves once the lockout window elapses, so
// no background goroutine is needed; Sweep exists for memory hygiene.
type BruteForceGuard struct {
	mu            sync.Mutex
	entries       map[string]*bruteForceEntry
	maxAttempts   int
	lockoutWindow time.Duration

	blocks prometheus.Counter
}

// NewBruteForceGuard creates a guard. reg may be nil to skip metrics
// registration.
func NewBruteForceGuard(cfg BruteForceGuardConfig, reg prometheus.Registerer) *BruteForceGuard {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultBruteForceMaxAttempts
	}
	lockoutWindow := cfg.LockoutWindow
	if lockoutWindow <= 0 {
		lockoutWindow = DefaultBruteForceLockout
	}

	g := &BruteForceGuard{
		entries:       make(map[string]*bruteForceEntry),
		maxAttempts:   maxAttempts,
		lockoutWindow: lockoutWindow,
	}

	if reg != nil {
		g.blocks = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_bruteforce_blocks_total",
			Help: "Addresses that crossed the failed-login threshold",
		})
		reg.MustRegister(g.blocks,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "veloauth_bruteforce_tracked_addresses",
				Help: "Addresses currently holding a failure counter",
			}, func() float64 {
				g.mu.Lock()
				defer g.mu.Unlock()
				return float64(len(g.entries))
			}))
	}

	return g
}

// IsBlocked reports whether the address is currently locked out. An entry
// whose window has elapsed resets on the spot.
func (g *BruteForceGuard) IsBlocked(address string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entries[address]
	if !exists {
		return false
	}
	if now.Sub(e.firstFailure) > g.lockoutWindow {
		delete(g.entries, address)
		return false
	}
	return e.failures >= g.maxAttempts
}

// RegisterFailedLogin records a failure for the address and reports whether
// the address is now blocked. A failure landing after the previous window
// elapsed starts a fresh window.
func (g *BruteForceGuard) RegisterFailedLogin(address string) bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entries[address]
	if !exists || now.Sub(e.firstFailure) > g.lockoutWindow {
		e = &bruteForceEntry{firstFailure: now}
		g.entries[address] = e
	}

	e.failures++
	blocked := e.failures >= g.maxAttempts
	if blocked && e.failures == g.maxAttempts && g.blocks != nil {
		g.blocks.Inc()
	}
	return blocked
}

// ResetLoginAttempts clears the failure counter for an address. Called on
// successful authentication.
func (g *BruteForceGuard) ResetLoginAttempts(address string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, address)
}

// FailureCount returns the current consecutive-failure count for an
// address. Intended for diagnostics and tests.
func (g *BruteForceGuard) FailureCount(address string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, exists := g.entries[address]; exists {
		return e.failures
	}
	return 0
}

// Sweep drops entries whose window elapsed and returns how many were
// removed.
func (g *BruteForceGuard) Sweep() int {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for address, e := range g.entries {
		if now.Sub(e.firstFailure) > g.lockoutWindow {
			delete(g.entries, address)
			removed++
		}
	}
	return removed
}
