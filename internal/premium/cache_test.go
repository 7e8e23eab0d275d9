// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package premium_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fR0Z863xF/VeloAuth/internal/premium"
)

// stubResolver counts Resolve calls and optionally blocks until released.
type stubResolver struct {
	calls atomic.Int32
	res   premium.Resolution
	gate  chan struct{}
	once  sync.Once
}

func (s *stubResolver) Resolve(ctx context.Context, _ string) premium.Resolution {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
		}
	}
	return s.res
}

func (s *stubResolver) unblock() {
	if s.gate != nil {
		s.once.Do(func() { close(s.gate) })
	}
}

func newTestCache(t *testing.T, resolver premium.Resolver, opts ...premium.CacheOption) *premium.StatusCache {
	t.Helper()
	c := premium.NewStatusCache(resolver, opts...)
	t.Cleanup(c.Close)
	return c
}

func TestStatusCache_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := premium.NewStatusCache(&stubResolver{})
	id := uuid.MustParse(notchUUID)
	c.AddPremiumPlayer("Notch", &id)

	_, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)

	c.Close()
	c.Close()
}

func TestStatusCache_RoundTrip(t *testing.T) {
	c := newTestCache(t, nil)
	id := uuid.MustParse(notchUUID)

	t.Run("premium name carries its identity id", func(t *testing.T) {
		c.AddPremiumPlayer("Notch", &id)

		entry, ok := c.GetPremiumStatus("Notch")
		require.True(t, ok)
		assert.True(t, entry.IsPremium())
		require.NotNil(t, entry.PremiumUUID)
		assert.Equal(t, id, *entry.PremiumUUID)
		assert.Equal(t, "Notch", entry.Username)
	})

	t.Run("lookups fold case", func(t *testing.T) {
		entry, ok := c.GetPremiumStatus("NOTCH")
		require.True(t, ok)
		assert.True(t, entry.IsPremium())
		assert.Equal(t, 1, c.Len())
	})

	t.Run("offline name has no identity id", func(t *testing.T) {
		c.AddPremiumPlayer("cracked_player", nil)

		entry, ok := c.GetPremiumStatus("cracked_player")
		require.True(t, ok)
		assert.False(t, entry.IsPremium())
		assert.Nil(t, entry.PremiumUUID)
	})

	t.Run("unknown name misses", func(t *testing.T) {
		entry, ok := c.GetPremiumStatus("never_seen")
		assert.False(t, ok)
		assert.Nil(t, entry)
	})
}

func TestStatusCache_ReclassifyReplaces(t *testing.T) {
	c := newTestCache(t, nil)
	id := uuid.MustParse(notchUUID)

	c.AddPremiumPlayer("Notch", nil)
	c.AddPremiumPlayer("notch", &id)

	assert.Equal(t, 1, c.Len())
	entry, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)
	assert.True(t, entry.IsPremium())
}

func TestStatusCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, nil, premium.WithTTL(50*time.Millisecond))
	c.AddPremiumPlayer("Notch", nil)

	_, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)
	time.Sleep(80 * time.Millisecond)

	// Expired entries never serve, even before the sweeper reclaims them.
	_, ok = c.GetPremiumStatus("Notch")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.SweepExpired())
	assert.Equal(t, 0, c.Len())
}

func TestStatusCache_Classify(t *testing.T) {
	id := uuid.MustParse(notchUUID)
	ctx := context.Background()

	t.Run("miss resolves once and stores the answer", func(t *testing.T) {
		stub := &stubResolver{res: premium.Resolution{
			State:         premium.StatePremium,
			PremiumUUID:   &id,
			CanonicalName: "Notch",
			Source:        "test",
		}}
		c := newTestCache(t, stub)

		res := c.Classify(ctx, "notch")
		assert.Equal(t, premium.StatePremium, res.State)
		assert.Equal(t, "test", res.Source)
		assert.Equal(t, int32(1), stub.calls.Load())

		// The stored entry answers the next read without the resolver.
		res = c.Classify(ctx, "NOTCH")
		assert.Equal(t, premium.StatePremium, res.State)
		assert.Equal(t, "cache", res.Source)
		assert.Equal(t, "Notch", res.CanonicalName)
		require.NotNil(t, res.PremiumUUID)
		assert.Equal(t, id, *res.PremiumUUID)
		assert.Equal(t, int32(1), stub.calls.Load())
	})

	t.Run("offline answer is cached too", func(t *testing.T) {
		stub := &stubResolver{res: premium.Resolution{State: premium.StateOffline, Source: "test", Message: "not found"}}
		c := newTestCache(t, stub)

		res := c.Classify(ctx, "cracked_player")
		assert.Equal(t, premium.StateOffline, res.State)

		res = c.Classify(ctx, "cracked_player")
		assert.Equal(t, premium.StateOffline, res.State)
		assert.Equal(t, "cache", res.Source)
		assert.Equal(t, int32(1), stub.calls.Load())
	})

	t.Run("unknown is never cached", func(t *testing.T) {
		stub := &stubResolver{res: premium.Resolution{State: premium.StateUnknown, Source: "test", Message: "rate limited"}}
		c := newTestCache(t, stub)

		res := c.Classify(ctx, "notch")
		assert.Equal(t, premium.StateUnknown, res.State)
		assert.Equal(t, "rate limited", res.Message)
		assert.Equal(t, 0, c.Len())

		// Each attempt asks again until an authority answers.
		c.Classify(ctx, "notch")
		assert.Equal(t, int32(2), stub.calls.Load())
	})

	t.Run("no resolver means unknown", func(t *testing.T) {
		c := newTestCache(t, nil)

		res := c.Classify(ctx, "notch")
		assert.Equal(t, premium.StateUnknown, res.State)
		assert.Equal(t, "no resolver configured", res.Message)
	})
}

func TestStatusCache_BackgroundRefresh(t *testing.T) {
	id := uuid.MustParse(notchUUID)
	stub := &stubResolver{
		res: premium.Resolution{
			State:         premium.StatePremium,
			PremiumUUID:   &id,
			CanonicalName: "Notch",
			Source:        "test",
		},
		gate: make(chan struct{}),
	}
	t.Cleanup(stub.unblock)

	c := newTestCache(t, stub,
		premium.WithTTL(400*time.Millisecond),
		premium.WithRefreshThreshold(0.25),
	)
	c.AddPremiumPlayer("notch", nil)
	time.Sleep(150 * time.Millisecond)

	// A burst of stale hits serves the old entry and schedules exactly
	// one refresh between them.
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, ok := c.GetPremiumStatus("notch")
			assert.True(t, ok)
			assert.False(t, entry.IsPremium())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return stub.calls.Load() == 1 },
		time.Second, 5*time.Millisecond, "refresh never started")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), stub.calls.Load(), "duplicate refresh scheduled")

	stub.unblock()
	require.Eventually(t, func() bool {
		entry, ok := c.GetPremiumStatus("notch")
		return ok && entry.IsPremium()
	}, time.Second, 5*time.Millisecond, "refresh never landed")

	// The authority's exact-case spelling replaces the presented one.
	entry, ok := c.GetPremiumStatus("notch")
	require.True(t, ok)
	assert.Equal(t, "Notch", entry.Username)
	require.NotNil(t, entry.PremiumUUID)
	assert.Equal(t, id, *entry.PremiumUUID)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestStatusCache_FailedRefreshKeepsStaleEntry(t *testing.T) {
	id := uuid.MustParse(notchUUID)
	stub := &stubResolver{
		res: premium.Resolution{State: premium.StateUnknown, Source: "test", Message: "io error after retries"},
	}

	c := newTestCache(t, stub,
		premium.WithTTL(600*time.Millisecond),
		premium.WithRefreshThreshold(0.2),
	)
	c.AddPremiumPlayer("Steve", &id)
	time.Sleep(150 * time.Millisecond)

	_, ok := c.GetPremiumStatus("Steve")
	require.True(t, ok)
	require.Eventually(t, func() bool { return stub.calls.Load() >= 1 },
		time.Second, 5*time.Millisecond)

	// The stale answer keeps serving.
	entry, ok := c.GetPremiumStatus("Steve")
	require.True(t, ok)
	assert.True(t, entry.IsPremium())
	require.NotNil(t, entry.PremiumUUID)
	assert.Equal(t, id, *entry.PremiumUUID)

	// A failed refresh releases its slot so a later hit can try again.
	require.Eventually(t, func() bool {
		c.GetPremiumStatus("Steve")
		return stub.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestStatusCache_FreshEntryDoesNotRefresh(t *testing.T) {
	stub := &stubResolver{res: premium.Resolution{State: premium.StateOffline}}
	c := newTestCache(t, stub, premium.WithTTL(time.Hour))

	c.AddPremiumPlayer("Notch", nil)
	for range 5 {
		_, ok := c.GetPremiumStatus("Notch")
		require.True(t, ok)
	}

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), stub.calls.Load())
}

func TestStatusCache_NilResolverServesStaleWithoutRefresh(t *testing.T) {
	c := newTestCache(t, nil,
		premium.WithTTL(300*time.Millisecond),
		premium.WithRefreshThreshold(0.1),
	)
	c.AddPremiumPlayer("Notch", nil)
	time.Sleep(100 * time.Millisecond)

	entry, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)
	assert.False(t, entry.IsPremium())
}

func TestStatusCache_CapacityEviction(t *testing.T) {
	c := newTestCache(t, nil, premium.WithMaxEntries(2))

	c.AddPremiumPlayer("first", nil)
	time.Sleep(5 * time.Millisecond)
	c.AddPremiumPlayer("second", nil)
	time.Sleep(5 * time.Millisecond)
	c.AddPremiumPlayer("third", nil)

	assert.Equal(t, 2, c.Len())
	_, ok := c.GetPremiumStatus("first")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.GetPremiumStatus("second")
	assert.True(t, ok)
	_, ok = c.GetPremiumStatus("third")
	assert.True(t, ok)
}

func TestStatusCache_ClearAll(t *testing.T) {
	c := newTestCache(t, nil)
	c.AddPremiumPlayer("Notch", nil)
	c.AddPremiumPlayer("Steve", nil)

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
	_, ok := c.GetPremiumStatus("Notch")
	assert.False(t, ok)

	c.ClearAll()
	assert.Equal(t, 0, c.Len())
}

func TestStatusCache_EntryCopies(t *testing.T) {
	c := newTestCache(t, nil)
	id := uuid.MustParse(notchUUID)
	c.AddPremiumPlayer("Notch", &id)

	// Mutating the caller's id after the fact must not reach the cache.
	id = uuid.Nil
	entry, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)
	require.NotNil(t, entry.PremiumUUID)
	assert.Equal(t, notchUUID, entry.PremiumUUID.String())

	// Nor may mutating a returned entry.
	entry.Premium = false
	*entry.PremiumUUID = uuid.Nil

	again, ok := c.GetPremiumStatus("Notch")
	require.True(t, ok)
	assert.True(t, again.IsPremium())
	assert.Equal(t, notchUUID, again.PremiumUUID.String())
}
