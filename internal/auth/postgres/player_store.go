// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the store needs. pgxmock
// implements it, which keeps the store testable without a live database.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PlayerStore implements auth.PlayerStore using PostgreSQL.
type PlayerStore struct {
	pool poolIface
}

// NewPlayerStore creates a new PlayerStore.
func NewPlayerStore(pool poolIface) *PlayerStore {
	return &PlayerStore{pool: pool}
}

// FindByNickname retrieves a registration by nickname (case-insensitive).
func (s *PlayerStore) FindByNickname(ctx context.Context, nickname string) (*auth.RegisteredPlayer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT nickname, uuid, password_hash, premium_uuid, conflict_mode,
		       conflict_since, registered_ip, last_login_ip, registered_at,
		       last_login_at
		FROM players
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname)

	player, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PLAYER_FIND_FAILED").
			With("operation", "find player by nickname").
			With("nickname", nickname).
			Wrap(err)
	}
	return player, nil
}

// Save stores a new registration. A nickname collision surfaces as
// AUTH_ALREADY_REGISTERED.
func (s *PlayerStore) Save(ctx context.Context, player *auth.RegisteredPlayer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (
			nickname, uuid, password_hash, premium_uuid, conflict_mode,
			conflict_since, registered_ip, last_login_ip, registered_at,
			last_login_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		player.Nickname,
		player.UUID.String(),
		player.PasswordHash,
		uuidToStringPtr(player.PremiumUUID),
		player.ConflictMode,
		player.ConflictSince,
		player.RegisteredIP,
		player.LastLoginIP,
		player.RegisteredAt,
		timeToPtr(player.LastLoginAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("AUTH_ALREADY_REGISTERED").
				With("nickname", player.Nickname).
				Wrap(err)
		}
		return oops.Code("PLAYER_SAVE_FAILED").
			With("operation", "insert player").
			With("nickname", player.Nickname).
			Wrap(err)
	}
	return nil
}

// UpdatePassword replaces only the password hash for a nickname.
func (s *PlayerStore) UpdatePassword(ctx context.Context, nickname, passwordHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE players SET password_hash = $2
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname, passwordHash)
	if err != nil {
		return oops.Code("PLAYER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password").
			With("nickname", nickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateLoginMetadata records the address and time of a successful login.
func (s *PlayerStore) UpdateLoginMetadata(ctx context.Context, nickname, ip string, at time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE players SET last_login_ip = $2, last_login_at = $3
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname, ip, at)
	if err != nil {
		return oops.Code("PLAYER_UPDATE_LOGIN_FAILED").
			With("operation", "update login metadata").
			With("nickname", nickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetConflictMode sets or clears the sticky conflict flag for a nickname.
func (s *PlayerStore) SetConflictMode(ctx context.Context, nickname string, active bool, since time.Time) error {
	var sinceArg *time.Time
	if active {
		sinceArg = &since
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE players SET conflict_mode = $2, conflict_since = $3
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname, active, sinceArg)
	if err != nil {
		return oops.Code("PLAYER_SET_CONFLICT_FAILED").
			With("operation", "set conflict mode").
			With("nickname", nickname).
			With("active", active).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// BindPremiumUUID records the verified premium identity id for a nickname.
func (s *PlayerStore) BindPremiumUUID(ctx context.Context, nickname string, premiumUUID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE players SET premium_uuid = $2
		WHERE LOWER(nickname) = LOWER($1)
	`, nickname, premiumUUID.String())
	if err != nil {
		return oops.Code("PLAYER_BIND_PREMIUM_FAILED").
			With("operation", "bind premium uuid").
			With("nickname", nickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// ListConflicts returns all registrations currently in conflict mode,
// oldest conflict first.
func (s *PlayerStore) ListConflicts(ctx context.Context) ([]*auth.RegisteredPlayer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT nickname, uuid, password_hash, premium_uuid, conflict_mode,
		       conflict_since, registered_ip, last_login_ip, registered_at,
		       last_login_at
		FROM players
		WHERE conflict_mode
		ORDER BY conflict_since
	`)
	if err != nil {
		return nil, oops.Code("PLAYER_LIST_CONFLICTS_FAILED").
			With("operation", "list conflicts").
			Wrap(err)
	}
	defer rows.Close()

	var players []*auth.RegisteredPlayer
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, oops.Code("PLAYER_LIST_CONFLICTS_FAILED").
				With("operation", "scan conflict row").
				Wrap(err)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PLAYER_LIST_CONFLICTS_FAILED").
			With("operation", "iterate conflicts").
			Wrap(err)
	}
	return players, nil
}

// Delete removes a registration by nickname (case-insensitive).
func (s *PlayerStore) Delete(ctx context.Context, nickname string) error {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM players WHERE LOWER(nickname) = LOWER($1)
	`, nickname)
	if err != nil {
		return oops.Code("PLAYER_DELETE_FAILED").
			With("operation", "delete player").
			With("nickname", nickname).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("PLAYER_NOT_FOUND").
			With("nickname", nickname).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanPlayer scans a single row into a RegisteredPlayer.
// Callers are responsible for handling pgx.ErrNoRows.
func scanPlayer(row pgx.Row) (*auth.RegisteredPlayer, error) {
	var (
		nickname       string
		uuidStr        string
		passwordHash   string
		premiumUUIDStr *string
		conflictMode   bool
		conflictSince  *time.Time
		registeredIP   string
		lastLoginIP    string
		registeredAt   time.Time
		lastLoginAt    *time.Time
	)

	err := row.Scan(
		&nickname,
		&uuidStr,
		&passwordHash,
		&premiumUUIDStr,
		&conflictMode,
		&conflictSince,
		&registeredIP,
		&lastLoginIP,
		&registeredAt,
		&lastLoginAt,
	)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("PLAYER_SCAN_FAILED").
			With("operation", "scan player").
			Wrap(err)
	}

	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return nil, oops.Code("PLAYER_INVALID_ID").
			With("operation", "parse player uuid").
			With("uuid", uuidStr).
			Wrap(err)
	}

	premiumUUID, err := parseOptionalUUID(premiumUUIDStr, "premium_uuid")
	if err != nil {
		return nil, err
	}

	player := &auth.RegisteredPlayer{
		Nickname:      nickname,
		UUID:          id,
		PasswordHash:  passwordHash,
		PremiumUUID:   premiumUUID,
		ConflictMode:  conflictMode,
		ConflictSince: conflictSince,
		RegisteredIP:  registeredIP,
		LastLoginIP:   lastLoginIP,
		RegisteredAt:  registeredAt,
	}
	if lastLoginAt != nil {
		player.LastLoginAt = *lastLoginAt
	}
	return player, nil
}

// uuidToStringPtr converts a UUID pointer to a string pointer for SQL
// parameters. Returns nil if the input is nil.
func uuidToStringPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// parseOptionalUUID parses an optional UUID string pointer. Returns nil if
// the input is nil. Wraps parse errors with the field name for context.
func parseOptionalUUID(strPtr *string, fieldName string) (*uuid.UUID, error) {
	if strPtr == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*strPtr)
	if err != nil {
		return nil, oops.Code("PLAYER_INVALID_PREMIUM_ID").
			With("operation", "parse "+fieldName).
			With(fieldName, *strPtr).
			Wrap(err)
	}
	return &id, nil
}

// timeToPtr converts a zero time to a SQL NULL.
func timeToPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ auth.PlayerStore = (*PlayerStore)(nil)
