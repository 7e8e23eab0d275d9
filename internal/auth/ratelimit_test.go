// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
)

func newTestLimiter(t *testing.T, perMinute int) *auth.AddressLimiter {
	t.Helper()
	l := auth.NewAddressLimiter(auth.AddressLimiterConfig{
		AttemptsPerMinute: perMinute,
		CleanupInterval:   time.Hour,
	}, nil)
	t.Cleanup(l.Close)
	return l
}

func TestAddressLimiter_AllowsBurst(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := auth.NewAddressLimiter(auth.AddressLimiterConfig{
		AttemptsPerMinute: 5,
		CleanupInterval:   time.Hour,
	}, nil)

	for i := range 5 {
		allowed, retryAfter := l.Allow("203.0.113.7")
		assert.True(t, allowed, "attempt %d should be allowed", i+1)
		assert.Zero(t, retryAfter)
	}

	allowed, retryAfter := l.Allow("203.0.113.7")
	assert.False(t, allowed)

	// At 5 per minute the next token is 12s out.
	assert.InDelta(t, 12000, retryAfter.Milliseconds(), 200)

	l.Close()
}

func TestAddressLimiter_RefillsOverTime(t *testing.T) {
	l := newTestLimiter(t, 60)

	for range 60 {
		allowed, _ := l.Allow("203.0.113.7")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("203.0.113.7")
	require.False(t, allowed)

	// 60 per minute refills one token per second.
	time.Sleep(1100 * time.Millisecond)

	allowed, _ = l.Allow("203.0.113.7")
	assert.True(t, allowed)
}

func TestAddressLimiter_PerAddressIsolation(t *testing.T) {
	l := newTestLimiter(t, 2)

	for range 2 {
		allowed, _ := l.Allow("203.0.113.7")
		require.True(t, allowed)
	}
	allowed, _ := l.Allow("203.0.113.7")
	require.False(t, allowed)

	allowed, _ = l.Allow("198.51.100.9")
	assert.True(t, allowed, "a drained bucket must not affect other addresses")
}

func TestAddressLimiter_Reset(t *testing.T) {
	l := newTestLimiter(t, 2)

	for range 2 {
		l.Allow("203.0.113.7")
	}
	allowed, _ := l.Allow("203.0.113.7")
	require.False(t, allowed)

	// Successful authentication restores the full burst.
	l.Reset("203.0.113.7")

	allowed, _ = l.Allow("203.0.113.7")
	assert.True(t, allowed)
}

func TestAddressLimiter_DefaultBudget(t *testing.T) {
	l := newTestLimiter(t, 0)

	for i := range auth.DefaultAttemptsPerMinute {
		allowed, _ := l.Allow("203.0.113.7")
		require.True(t, allowed, "attempt %d should be allowed", i+1)
	}
	allowed, _ := l.Allow("203.0.113.7")
	assert.False(t, allowed)
}

func TestAddressLimiter_Cleanup(t *testing.T) {
	t.Run("removes idle addresses", func(t *testing.T) {
		l := newTestLimiter(t, 10)

		for i := range 3 {
			l.Allow(fmt.Sprintf("203.0.113.%d", i))
		}
		require.Equal(t, 3, l.AddressCount())

		time.Sleep(150 * time.Millisecond)
		l.Cleanup(100 * time.Millisecond)

		assert.Equal(t, 0, l.AddressCount())
	})

	t.Run("retains recently active addresses", func(t *testing.T) {
		l := newTestLimiter(t, 10)

		l.Allow("203.0.113.7")
		l.Allow("198.51.100.9")

		time.Sleep(150 * time.Millisecond)
		l.Allow("203.0.113.7")
		l.Cleanup(100 * time.Millisecond)

		assert.Equal(t, 1, l.AddressCount())
	})
}
