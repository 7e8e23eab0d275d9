// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth

import (
	"context"
	"crypto/md5" //nolint:gosec // offline UUID derivation is defined over MD5
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Nickname validation constraints.
const (
	DefaultMinNicknameLength = 3
	DefaultMaxNicknameLength = 16
)

// nicknameRegex matches nicknames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var nicknameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// RegisteredPlayer is one row of the local password database. Nickname
// preserves the case used at registration; lookups are case-insensitive.
type RegisteredPlayer struct {
	Nickname      string
	UUID          uuid.UUID
	PasswordHash  string
	PremiumUUID   *uuid.UUID
	ConflictMode  bool
	ConflictSince *time.Time
	RegisteredIP  string
	LastLoginIP   string
	RegisteredAt  time.Time
	LastLoginAt   time.Time
}

// IsPremiumOwned reports whether the row belongs to a verified premium
// identity.
func (p *RegisteredPlayer) IsPremiumOwned() bool {
	return p.PremiumUUID != nil
}

// FoldNickname returns the case-folded form used as the storage and cache
// key for a nickname.
func FoldNickname(nickname string) string {
	return strings.ToLower(nickname)
}

// OfflineUUID derives the deterministic identity id used for non-premium
// connections: a name-based (version 3) UUID over "OfflinePlayer:<name>".
// The derivation uses the exact nickname case presented at connect time.
func OfflineUUID(nickname string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + nickname)) //nolint:gosec // not used for secrecy
	sum[6] = (sum[6] & 0x0f) | 0x30                     // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80                     // RFC 4122 variant
	return uuid.UUID(sum)
}

// ValidateNickname validates a nickname against rules. Zero bounds fall
// back to the defaults.
// Nickname requirements:
// - Length: minLen to maxLen characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateNickname(nickname string, minLen, maxLen int) error {
	if minLen <= 0 {
		minLen = DefaultMinNicknameLength
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxNicknameLength
	}
	if nickname == "" {
		return oops.Code("AUTH_INVALID_NICKNAME").Errorf("nickname cannot be empty")
	}
	if len(nickname) < minLen {
		return oops.Code("AUTH_INVALID_NICKNAME").
			With("min", minLen).
			Errorf("nickname must be at least %d characters", minLen)
	}
	if len(nickname) > maxLen {
		return oops.Code("AUTH_INVALID_NICKNAME").
			With("max", maxLen).
			Errorf("nickname must be at most %d characters", maxLen)
	}
	if !nicknameRegex.MatchString(nickname) {
		return oops.Code("AUTH_INVALID_NICKNAME").
			Errorf("nickname must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// PlayerStore manages registered-player persistence. Every method must
// distinguish ErrNotFound from infrastructure failure; callers treat
// failures as deny, never as absence.
type PlayerStore interface {
	// FindByNickname retrieves a registration by case-folded nickname.
	FindByNickname(ctx context.Context, nickname string) (*RegisteredPlayer, error)

	// Save stores a new registration. A nickname collision surfaces as an
	// error with code AUTH_ALREADY_REGISTERED.
	Save(ctx context.Context, player *RegisteredPlayer) error

	// UpdatePassword replaces the password hash for a nickname.
	UpdatePassword(ctx context.Context, nickname, passwordHash string) error

	// UpdateLoginMetadata records the ip and time of a successful login.
	UpdateLoginMetadata(ctx context.Context, nickname, ip string, at time.Time) error

	// SetConflictMode sets or clears the sticky conflict flag for a
	// nickname, recording when the conflict began.
	SetConflictMode(ctx context.Context, nickname string, active bool, since time.Time) error

	// BindPremiumUUID records the verified premium identity id for a
	// nickname, marking the registration premium-owned.
	BindPremiumUUID(ctx context.Context, nickname string, premiumUUID uuid.UUID) error

	// ListConflicts returns all registrations currently in conflict mode.
	ListConflicts(ctx context.Context) ([]*RegisteredPlayer, error)

	// Delete removes a registration by case-folded nickname.
	Delete(ctx context.Context, nickname string) error
}
