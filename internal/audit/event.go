// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package audit records security-relevant authorization events.
package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Type names one auditable event.
type Type string

// Account and session lifecycle events.
const (
	TypeLoginSuccess           Type = "LOGIN_SUCCESS"
	TypeLoginFailure           Type = "LOGIN_FAILURE"
	TypeRegistration           Type = "REGISTRATION"
	TypePasswordChange         Type = "PASSWORD_CHANGE"
	TypeSessionStart           Type = "SESSION_START"
	TypeSessionEnd             Type = "SESSION_END"
	TypeAccountDeletion        Type = "ACCOUNT_DELETION"
	TypeAllSessionsInvalidated Type = "ALL_SESSIONS_INVALIDATED"
	TypePremiumStatus          Type = "PREMIUM_STATUS"
	TypeConflictEnter          Type = "CONFLICT_ENTER"
	TypeConflictAccess         Type = "CONFLICT_ACCESS"
	TypeAdminAction            Type = "ADMIN_ACTION"
)

// Abuse and denial events.
const (
	TypeSessionHijack          Type = "SESSION_HIJACK"
	TypeRateLimit              Type = "RATE_LIMIT"
	TypePreLoginRateLimit      Type = "PRELOGIN_RATE_LIMIT"
	TypeBruteForceBlock        Type = "BRUTE_FORCE_BLOCK"
	TypeConcurrentSessionLimit Type = "CONCURRENT_SESSION_LIMIT"
	TypePremiumConflictBlocked Type = "PREMIUM_CONFLICT_BLOCKED"
	TypeGeoBlock               Type = "GEO_BLOCK"
)

// Level maps the event to its log severity. Failed logins and every
// abuse or denial event log at warning; the rest are informational.
func (t Type) Level() slog.Level {
	switch t {
	case TypeLoginFailure, TypeSessionHijack, TypeRateLimit,
		TypePreLoginRateLimit, TypeBruteForceBlock,
		TypeConcurrentSessionLimit, TypePremiumConflictBlocked,
		TypeGeoBlock:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Event is one audit record. An empty ID and zero At are stamped when
// the event is recorded.
type Event struct {
	ID       string
	Type     Type
	Nickname string

	// PlayerUUID identifies the account when one is involved.
	PlayerUUID *uuid.UUID

	// IP is the raw remote address, when known.
	IP string

	// Reason qualifies failures and denials.
	Reason string

	// Detail carries event-specific fields, e.g. attempt counts.
	Detail map[string]any

	At time.Time
}
