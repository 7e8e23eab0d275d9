// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
	"github.com/fR0Z863xF/VeloAuth/internal/auth"
)

// Administrative operations. Each carries the acting operator's name into
// the audit trail; none of them require a password proof because access to
// the admin surface is authenticated separately.

// ListConflicts returns every registration currently in conflict mode.
func (e *Engine) ListConflicts(ctx context.Context) ([]*auth.RegisteredPlayer, error) {
	return e.store.ListConflicts(ctx)
}

// FindRegistration looks up a registration for inspection. Absence is
// reported by wrapping auth.ErrNotFound.
func (e *Engine) FindRegistration(ctx context.Context, nickname string) (*auth.RegisteredPlayer, error) {
	return e.store.FindByNickname(ctx, nickname)
}

// DeleteRegistration removes a registration administratively, ending its
// sessions and revoking its authorizations. This is the only path out of
// the conflict state: with the registration gone the name is unclaimed
// again and the premium identity may take it cleanly.
func (e *Engine) DeleteRegistration(ctx context.Context, nickname, actor string) error {
	row, err := e.store.FindByNickname(ctx, nickname)
	if err != nil {
		return oops.Code("GATE_ADMIN_DELETE_FAILED").
			With("nickname", nickname).
			Wrap(err)
	}
	if err := e.store.Delete(ctx, nickname); err != nil {
		return oops.Code("GATE_ADMIN_DELETE_FAILED").
			With("nickname", nickname).
			Wrap(err)
	}

	ended := e.invalidateAccess(row)

	e.audit.Record(audit.Event{
		Type:     audit.TypeAdminAction,
		Nickname: nickname,
		Reason:   "registration deleted",
		Detail: map[string]any{
			"actor":          actor,
			"was_conflicted": row.ConflictMode,
			"sessions_ended": ended,
		},
	})
	e.audit.Record(audit.Event{
		Type:     audit.TypeAccountDeletion,
		Nickname: nickname,
		Reason:   "administrative removal",
		Detail:   map[string]any{"actor": actor},
	})
	return nil
}

// InvalidateSessions ends every session held by the nickname and revokes
// its authorization entries. Returns how many sessions were ended. The
// registration itself is untouched; affected players simply authenticate
// again.
func (e *Engine) InvalidateSessions(ctx context.Context, nickname, actor string) (int, error) {
	ended := e.sessions.EndAllSessions(nickname)

	// Revoke cached authorizations when a registration tells us which
	// identity ids to look for. A missing registration is fine: the
	// sessions are gone either way and routing re-checks from scratch.
	row, err := e.store.FindByNickname(ctx, nickname)
	if err == nil {
		e.authorized.RemoveAuthorizedPlayer(row.UUID)
		if row.PremiumUUID != nil {
			e.authorized.RemoveAuthorizedPlayer(*row.PremiumUUID)
		}
	}

	e.audit.Record(audit.Event{
		Type:     audit.TypeAdminAction,
		Nickname: nickname,
		Reason:   "sessions invalidated",
		Detail:   map[string]any{"actor": actor, "sessions_ended": ended},
	})
	e.audit.Record(audit.Event{
		Type:     audit.TypeAllSessionsInvalidated,
		Nickname: nickname,
		Reason:   "administrative invalidation",
		Detail:   map[string]any{"actor": actor, "sessions_ended": ended},
	})
	return ended, nil
}

// ResolveConflict clears the conflict flag without deleting the
// registration, for the case where the operator decides the non-premium
// owner is legitimate. The premium claimant will trigger a fresh conflict
// on its next connection, so this is a judgment call, not a fix; deleting
// the registration is the durable resolution.
func (e *Engine) ResolveConflict(ctx context.Context, nickname, actor string) error {
	if err := e.store.SetConflictMode(ctx, nickname, false, time.Time{}); err != nil {
		return oops.Code("GATE_ADMIN_RESOLVE_FAILED").
			With("nickname", nickname).
			Wrap(err)
	}
	e.audit.Record(audit.Event{
		Type:     audit.TypeAdminAction,
		Nickname: nickname,
		Reason:   "conflict flag cleared",
		Detail:   map[string]any{"actor": actor},
	})
	return nil
}
