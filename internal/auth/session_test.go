// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

func newTestRegistry(t *testing.T, cfg auth.SessionRegistryConfig) *auth.SessionRegistry {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Hour
	}
	r := auth.NewSessionRegistry(cfg)
	t.Cleanup(r.Close)
	return r
}

func TestSessionRegistry_StartAndCheck(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := auth.NewSessionRegistry(auth.SessionRegistryConfig{SweepInterval: time.Hour})

	id := uuid.New()
	require.True(t, r.StartSession(id, "Notch", "203.0.113.7"))

	assert.True(t, r.HasActiveSession(id, "Notch", "203.0.113.7"))
	assert.True(t, r.HasActiveSession(id, "notch", "203.0.113.7"), "nickname match is case-insensitive")
	assert.False(t, r.HasActiveSession(id, "Notch", "198.51.100.9"), "address must match")
	assert.False(t, r.HasActiveSession(id, "Steve", "203.0.113.7"), "nickname must match")
	assert.False(t, r.HasActiveSession(uuid.New(), "Notch", "203.0.113.7"))

	s := r.GetSession(id)
	require.NotNil(t, s)
	assert.Equal(t, "Notch", s.Nickname)
	assert.Equal(t, "203.0.113.7", s.IP)

	r.Close()
}

func TestSessionRegistry_ConcurrencyCap(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{MaxConcurrent: 2})

	first := uuid.New()
	second := uuid.New()
	third := uuid.New()

	// Distinct identities may share a nickname up to the cap; during a
	// claim conflict the premium claimant and the cracked owner coexist.
	require.True(t, r.StartSession(first, "Notch", "203.0.113.7"))
	require.True(t, r.StartSession(second, "notch", "198.51.100.9"))
	assert.False(t, r.StartSession(third, "NOTCH", "192.0.2.1"))

	assert.Equal(t, 2, r.ActiveCount("Notch"))
	assert.Nil(t, r.GetSession(third), "rejected start must not create a session")

	// A different nickname is unaffected.
	assert.True(t, r.StartSession(third, "Steve", "192.0.2.1"))
}

func TestSessionRegistry_RebindDoesNotCountAgainstCap(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{MaxConcurrent: 2})

	first := uuid.New()
	second := uuid.New()
	require.True(t, r.StartSession(first, "Notch", "203.0.113.7"))
	require.True(t, r.StartSession(second, "Notch", "198.51.100.9"))

	// Reconnecting with an existing identity rebinds in place even at the
	// cap, picking up the new address.
	require.True(t, r.StartSession(first, "Notch", "192.0.2.1"))
	assert.Equal(t, 2, r.Len())

	s := r.GetSession(first)
	require.NotNil(t, s)
	assert.Equal(t, "192.0.2.1", s.IP)
}

func TestSessionRegistry_Timeout(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{
		Timeout:       50 * time.Millisecond,
		MaxConcurrent: 1,
	})

	id := uuid.New()
	require.True(t, r.StartSession(id, "Notch", "203.0.113.7"))

	time.Sleep(80 * time.Millisecond)

	// The check is where expiry bites; storage shrinks on sweep.
	assert.False(t, r.HasActiveSession(id, "Notch", "203.0.113.7"))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.ActiveCount("Notch"))

	// An expired session no longer occupies a concurrency slot.
	assert.True(t, r.StartSession(uuid.New(), "Notch", "198.51.100.9"))

	assert.Equal(t, 1, r.SweepExpired())
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_ActivityRefresh(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{Timeout: 100 * time.Millisecond})

	id := uuid.New()
	require.True(t, r.StartSession(id, "Notch", "203.0.113.7"))

	// Keep checking at intervals shorter than the timeout; each passing
	// check refreshes activity, so the session outlives the raw timeout.
	for range 3 {
		time.Sleep(60 * time.Millisecond)
		assert.True(t, r.HasActiveSession(id, "Notch", "203.0.113.7"))
	}
}

func TestSessionRegistry_EndSession(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{})

	id := uuid.New()
	require.True(t, r.StartSession(id, "Notch", "203.0.113.7"))

	require.NoError(t, r.EndSession(id))
	assert.Nil(t, r.GetSession(id))

	err := r.EndSession(id)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
}

func TestSessionRegistry_EndAllSessions(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{MaxConcurrent: 2})

	require.True(t, r.StartSession(uuid.New(), "Notch", "203.0.113.7"))
	require.True(t, r.StartSession(uuid.New(), "notch", "198.51.100.9"))
	require.True(t, r.StartSession(uuid.New(), "Steve", "192.0.2.1"))

	assert.Equal(t, 2, r.EndAllSessions("NOTCH"))
	assert.Equal(t, 0, r.ActiveCount("Notch"))
	assert.Equal(t, 1, r.ActiveCount("Steve"))

	assert.Equal(t, 0, r.EndAllSessions("Notch"))
}

func TestSessionRegistry_SessionCopies(t *testing.T) {
	r := newTestRegistry(t, auth.SessionRegistryConfig{})

	id := uuid.New()
	require.True(t, r.StartSession(id, "Notch", "203.0.113.7"))

	s := r.GetSession(id)
	require.NotNil(t, s)
	s.Nickname = "mutated"

	again := r.GetSession(id)
	require.NotNil(t, again)
	assert.Equal(t, "Notch", again.Nickname)
}
