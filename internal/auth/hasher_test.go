// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

// Tests use the minimum cost so hashing stays fast.
func newTestHasher(t *testing.T) *auth.BcryptHasher {
	t.Helper()
	h, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestNewBcryptHasher(t *testing.T) {
	t.Run("accepts valid cost", func(t *testing.T) {
		h, err := auth.NewBcryptHasher(bcrypt.MinCost)
		require.NoError(t, err)
		require.NotNil(t, h)
	})

	t.Run("zero cost falls back to default", func(t *testing.T) {
		h, err := auth.NewBcryptHasher(0)
		require.NoError(t, err)
		require.NotNil(t, h)
	})

	t.Run("rejects cost below minimum", func(t *testing.T) {
		_, err := auth.NewBcryptHasher(2)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_COST")
	})

	t.Run("rejects cost above maximum", func(t *testing.T) {
		_, err := auth.NewBcryptHasher(bcrypt.MaxCost + 1)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_COST")
	})
}

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("hunter2pass")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	ok, err := h.Verify("hunter2pass", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBcryptHasher_WrongPassword(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("hunter2pass")
	require.NoError(t, err)

	// A mismatch is a normal outcome, not an error.
	ok, err := h.Verify("wrongpass", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_InvalidHash(t *testing.T) {
	h := newTestHasher(t)

	ok, err := h.Verify("not-a-bcrypt-hash", "hunter2pass")
	require.Error(t, err)
	assert.False(t, ok)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
}

func TestBcryptHasher_EmptyPassword(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash("")
	require.Error(t, err)
	require.ErrorIs(t, err, auth.ErrEmptyPassword)
}

func TestBcryptHasher_PasswordTooLong(t *testing.T) {
	h := newTestHasher(t)

	_, err := h.Hash(strings.Repeat("a", auth.MaxPasswordBytes+1))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_PASSWORD_TOO_LONG")

	// Exactly at the limit still hashes.
	_, err = h.Hash(strings.Repeat("a", auth.MaxPasswordBytes))
	require.NoError(t, err)
}

func TestBcryptHasher_NeedsRehash(t *testing.T) {
	low := newTestHasher(t)

	hash, err := low.Hash("hunter2pass")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(hash))

	high, err := auth.NewBcryptHasher(bcrypt.MinCost + 1)
	require.NoError(t, err)
	assert.True(t, high.NeedsRehash(hash))

	// Garbage hashes always need a rehash.
	assert.True(t, low.NeedsRehash("not-a-bcrypt-hash"))
}
