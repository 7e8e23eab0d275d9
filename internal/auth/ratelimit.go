// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default pre-authentication limiter values.
const (
	// DefaultAttemptsPerMinute bounds connection attempts per address
	// before any identity is known.
	DefaultAttemptsPerMinute = 10

	// DefaultLimiterCleanupInterval is the interval at which the background
	// goroutine runs to clean up idle addresses.
	DefaultLimiterCleanupInterval = 5 * time.Minute

	// DefaultLimiterIdleEviction is how long an address may stay idle
	// before its bucket is dropped.
	DefaultLimiterIdleEviction = 10 * time.Minute
)

// addressBucket tracks rate limiting state for a single address using the
// token bucket algorithm.
type addressBucket struct {
	tokens    float64
	lastCheck time.Time
}

// AddressLimiterConfig configures the pre-authentication limiter.
type AddressLimiterConfig struct {
	// AttemptsPerMinute is the sustained budget per address. It also sets
	// the burst capacity. Defaults to DefaultAttemptsPerMinute if zero.
	AttemptsPerMinute int

	// CleanupInterval is the interval at which background cleanup runs.
	// Defaults to DefaultLimiterCleanupInterval if zero.
	CleanupInterval time.Duration

	// IdleEviction is how long an idle address bucket is kept. Defaults to
	// DefaultLimiterIdleEviction if zero.
	IdleEviction time.Duration
}

// AddressLimiter bounds connection attempts per network address at the
// earliest pre-authentication stage, as defense against enumeration and
// connection floods distinct from the password-failure counter. It is safe
// for concurrent use.
//
// The limiter runs a background goroutine to clean up idle addresses. Call
// Close() to stop it.
type AddressLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*addressBucket
	burst        float64
	ratePerSec   float64
	idleEviction time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup

	addressGauge prometheus.Gauge
	rejections   prometheus.Counter
}

// NewAddressLimiter creates a limiter and starts its cleanup goroutine.
// reg may be nil to skip metrics registration. Call Close() to stop it.
func NewAddressLimiter(cfg AddressLimiterConfig, reg prometheus.Registerer) *AddressLimiter {
	perMinute := cfg.AttemptsPerMinute
	if perMinute <= 0 {
		perMinute = DefaultAttemptsPerMinute
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultLimiterCleanupInterval
	}
	idleEviction := cfg.IdleEviction
	if idleEviction <= 0 {
		idleEviction = DefaultLimiterIdleEviction
	}

	l := &AddressLimiter{
		buckets:      make(map[string]*addressBucket),
		burst:        float64(perMinute),
		ratePerSec:   float64(perMinute) / 60.0,
		idleEviction: idleEviction,
		stopChan:     make(chan struct{}),
	}

	if reg != nil {
		l.addressGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "veloauth_preauth_limiter_addresses",
			Help: "Current number of tracked pre-auth limiter addresses",
		})
		l.rejections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_preauth_limiter_rejections_total",
			Help: "Connection attempts rejected by the pre-auth limiter",
		})
		reg.MustRegister(l.addressGauge, l.rejections)
	}

	l.wg.Add(1)
	go l.cleanupLoop(cleanupInterval)

	return l
}

// Allow checks if a connection attempt is allowed for the address.
// Returns (allowed, retryAfter) where retryAfter is the wait until the next
// token is available (0 if allowed).
//
// Each call consumes one token if available. Tokens refill at the sustained
// rate, up to the burst capacity.
func (l *AddressLimiter) Allow(address string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	bucket, exists := l.buckets[address]
	if !exists {
		// New address starts with a full bucket
		bucket = &addressBucket{
			tokens:    l.burst,
			lastCheck: now,
		}
		l.buckets[address] = bucket
	}

	// Refill tokens based on elapsed time
	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * l.ratePerSec
	if bucket.tokens > l.burst {
		bucket.tokens = l.burst
	}
	bucket.lastCheck = now

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true, 0
	}

	if l.rejections != nil {
		l.rejections.Inc()
	}
	deficit := 1.0 - bucket.tokens
	return false, time.Duration(deficit / l.ratePerSec * float64(time.Second))
}

// Reset drops the address's bucket entirely, restoring its full burst.
// Called after successful authentication so a legitimate player's earlier
// attempts stop counting against them.
func (l *AddressLimiter) Reset(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, address)
}

// AddressCount returns the number of tracked addresses. Useful for testing
// and monitoring.
func (l *AddressLimiter) AddressCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup removes addresses that have been idle since maxIdle ago. Called
// automatically by the background goroutine; exposed for manual use.
func (l *AddressLimiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := time.Now().Add(-maxIdle)
	for address, bucket := range l.buckets {
		if bucket.lastCheck.Before(threshold) {
			delete(l.buckets, address)
		}
	}

	if l.addressGauge != nil {
		l.addressGauge.Set(float64(len(l.buckets)))
	}
}

// cleanupLoop runs periodic cleanup in the background.
func (l *AddressLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup(l.idleEviction)
		}
	}
}

// Close stops the background cleanup goroutine. It blocks until the
// goroutine has stopped.
func (l *AddressLimiter) Close() {
	close(l.stopChan)
	l.wg.Wait()
}
