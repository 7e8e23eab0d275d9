// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package observability_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fR0Z863xF/VeloAuth/internal/observability"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewTokenManager_Validation(t *testing.T) {
	t.Run("rejects short secret", func(t *testing.T) {
		_, err := observability.NewTokenManager(observability.TokenConfig{Secret: []byte("short")})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_SECRET_TOO_SHORT")
	})

	t.Run("rejects negative leeway", func(t *testing.T) {
		_, err := observability.NewTokenManager(observability.TokenConfig{
			Secret: testSecret,
			Leeway: -time.Second,
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_TOKEN_CONFIG_INVALID")
	})

	t.Run("accepts defaults", func(t *testing.T) {
		_, err := observability.NewTokenManager(observability.TokenConfig{Secret: testSecret})
		require.NoError(t, err)
	})
}

func TestTokenManager_MintAndVerify(t *testing.T) {
	m, err := observability.NewTokenManager(observability.TokenConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := m.Mint("ops")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	actor, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", actor)
}

func TestTokenManager_MintRequiresActor(t *testing.T) {
	m, err := observability.NewTokenManager(observability.TokenConfig{Secret: testSecret})
	require.NoError(t, err)

	_, err = m.Mint("   ")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ADMIN_ACTOR_REQUIRED")
}

func TestTokenManager_VerifyRejections(t *testing.T) {
	m, err := observability.NewTokenManager(observability.TokenConfig{Secret: testSecret})
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Verify("not.a.token")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_TOKEN_INVALID")
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := observability.NewTokenManager(observability.TokenConfig{
			Secret: []byte("ffffffffffffffffffffffffffffffff"),
		})
		require.NoError(t, err)
		token, err := other.Mint("ops")
		require.NoError(t, err)

		_, err = m.Verify(token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_TOKEN_INVALID")
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := observability.NewTokenManager(observability.TokenConfig{
			Secret: testSecret,
			Issuer: "someone-else",
		})
		require.NoError(t, err)
		token, err := other.Mint("ops")
		require.NoError(t, err)

		_, err = m.Verify(token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_TOKEN_INVALID")
	})

	t.Run("expired", func(t *testing.T) {
		short, err := observability.NewTokenManager(observability.TokenConfig{
			Secret: testSecret,
			TTL:    time.Nanosecond,
		})
		require.NoError(t, err)
		token, err := short.Mint("ops")
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		_, err = short.Verify(token)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ADMIN_TOKEN_INVALID")
	})
}
