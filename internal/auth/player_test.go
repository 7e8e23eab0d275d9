// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name     string
		nickname string
		wantErr  bool
	}{
		{name: "valid simple", nickname: "Notch", wantErr: false},
		{name: "valid with underscore", nickname: "the_builder", wantErr: false},
		{name: "valid with digits", nickname: "steve42", wantErr: false},
		{name: "valid at min length", nickname: "abc", wantErr: false},
		{name: "valid at max length", nickname: "abcdefghijklmnop", wantErr: false},
		{name: "empty", nickname: "", wantErr: true},
		{name: "too short", nickname: "ab", wantErr: true},
		{name: "too long", nickname: "abcdefghijklmnopq", wantErr: true},
		{name: "starts with digit", nickname: "1steve", wantErr: true},
		{name: "starts with underscore", nickname: "_steve", wantErr: true},
		{name: "contains space", nickname: "ste ve", wantErr: true},
		{name: "contains dash", nickname: "ste-ve", wantErr: true},
		{name: "contains unicode", nickname: "stevé", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateNickname(tt.nickname, 0, 0)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_NICKNAME")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateNickname_CustomBounds(t *testing.T) {
	require.NoError(t, auth.ValidateNickname("ab", 2, 8))
	require.Error(t, auth.ValidateNickname("abcdefghi", 2, 8))
	// Zero bounds fall back to defaults.
	require.Error(t, auth.ValidateNickname("ab", 0, 0))
}

func TestFoldNickname(t *testing.T) {
	assert.Equal(t, "notch", auth.FoldNickname("Notch"))
	assert.Equal(t, "notch", auth.FoldNickname("NOTCH"))
	assert.Equal(t, "steve_42", auth.FoldNickname("Steve_42"))
}

func TestOfflineUUID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, auth.OfflineUUID("Notch"), auth.OfflineUUID("Notch"))
	})

	t.Run("case sensitive", func(t *testing.T) {
		assert.NotEqual(t, auth.OfflineUUID("Notch"), auth.OfflineUUID("notch"))
	})

	t.Run("distinct per nickname", func(t *testing.T) {
		assert.NotEqual(t, auth.OfflineUUID("Notch"), auth.OfflineUUID("Steve"))
	})

	t.Run("version 3 rfc 4122", func(t *testing.T) {
		id := auth.OfflineUUID("Notch")
		assert.Equal(t, byte(0x30), id[6]&0xf0, "version nibble must be 3")
		assert.Equal(t, byte(0x80), id[8]&0xc0, "variant bits must be RFC 4122")
	})
}

func TestRegisteredPlayer_IsPremiumOwned(t *testing.T) {
	p := &auth.RegisteredPlayer{Nickname: "steve"}
	assert.False(t, p.IsPremiumOwned())

	id := auth.OfflineUUID("steve")
	p.PremiumUUID = &id
	assert.True(t, p.IsPremiumOwned())
}
