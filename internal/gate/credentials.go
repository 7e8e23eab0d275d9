// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

// LoginRequest proves a password for an offline-mode connection. UUID is
// the identity id the connection presented, derived from the nickname for
// offline connections.
type LoginRequest struct {
	UUID     uuid.UUID
	Nickname string
	IP       string
	Password string
}

// Login verifies a password against the registration and, on success,
// authorizes the identity and starts its session. Unknown nicknames still
// pay the hash verification cost so response timing does not reveal which
// names exist.
func (e *Engine) Login(ctx context.Context, req LoginRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opLogin, ReasonEngineNotReady)
	}
	if e.guard.IsBlocked(req.IP) {
		return e.deny(opLogin, ReasonBruteForceLocked)
	}

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return e.deny(opLogin, ReasonDatabaseError)
	}
	if row == nil {
		_, _ = e.hasher.Verify(req.Password, dummyPasswordHash)
		e.recordLoginFailure(req.Nickname, req.IP, "login for unregistered nickname")
		return e.deny(opLogin, ReasonNotRegistered)
	}

	ok, err := e.hasher.Verify(req.Password, row.PasswordHash)
	if err != nil {
		// The stored hash is unreadable. That is an integrity failure on
		// our side, not a wrong password, so it neither counts against
		// the address nor falls open.
		slog.Error("stored password hash unreadable", "nickname", req.Nickname, "error", err)
		return e.deny(opLogin, ReasonDatabaseError)
	}
	if !ok {
		e.recordLoginFailure(req.Nickname, req.IP, "wrong password")
		return e.deny(opLogin, ReasonInvalidCredentials)
	}

	if !rowMatchesIdentity(row, req.UUID) && !row.ConflictMode {
		e.audit.Record(audit.Event{
			Type:       audit.TypeLoginFailure,
			Nickname:   req.Nickname,
			PlayerUUID: &req.UUID,
			IP:         req.IP,
			Reason:     "identity id does not match registration",
			Detail:     map[string]any{"registered_uuid": row.UUID.String()},
		})
		return e.deny(opLogin, ReasonUUIDMismatch)
	}
	if row.ConflictMode {
		e.recordConflictAccess(req.Nickname, &req.UUID, req.IP, "login under conflict")
	}

	// Proven password, stale parameters: transparently re-hash.
	if e.hasher.NeedsRehash(row.PasswordHash) {
		if newHash, hashErr := e.hasher.Hash(req.Password); hashErr == nil {
			if updateErr := e.store.UpdatePassword(ctx, req.Nickname, newHash); updateErr != nil {
				slog.Warn("password re-hash not persisted", "nickname", req.Nickname, "error", updateErr)
			}
		}
	}

	now := time.Now()
	var premiumUUID *uuid.UUID
	if row.PremiumUUID != nil {
		id := *row.PremiumUUID
		premiumUUID = &id
	}
	e.authorized.AddAuthorizedPlayer(auth.AuthorizedEntry{
		UUID:         req.UUID,
		Nickname:     req.Nickname,
		IP:           req.IP,
		AuthorizedAt: now,
		PremiumUUID:  premiumUUID,
	})
	if !e.sessions.StartSession(req.UUID, req.Nickname, req.IP) {
		e.authorized.RemoveAuthorizedPlayer(req.UUID)
		e.audit.Record(audit.Event{
			Type:       audit.TypeConcurrentSessionLimit,
			Nickname:   req.Nickname,
			PlayerUUID: &req.UUID,
			IP:         req.IP,
			Reason:     "session limit reached",
		})
		return e.deny(opLogin, ReasonSessionLimit)
	}

	if err := e.store.UpdateLoginMetadata(ctx, req.Nickname, req.IP, now); err != nil {
		slog.Warn("login metadata not persisted", "nickname", req.Nickname, "error", err)
	}
	e.guard.ResetLoginAttempts(req.IP)
	e.limiter.Reset(req.IP)

	e.audit.Record(audit.Event{
		Type:       audit.TypeLoginSuccess,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})
	e.audit.Record(audit.Event{
		Type:       audit.TypeSessionStart,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})

	d := e.allow(opLogin)
	d.ConflictNotice = row.ConflictMode
	return d
}

// RegisterRequest creates a registration for an offline-mode connection.
type RegisterRequest struct {
	UUID     uuid.UUID
	Nickname string
	IP       string
	Password string
}

// Register creates a registration and logs the identity straight in.
// Names held by a premium identity cannot be registered at all; that
// denial is absolute and never enters the conflict state.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opRegister, ReasonEngineNotReady)
	}
	if e.guard.IsBlocked(req.IP) {
		return e.deny(opRegister, ReasonBruteForceLocked)
	}
	if err := auth.ValidateNickname(req.Nickname, e.cfg.MinNicknameLength, e.cfg.MaxNicknameLength); err != nil {
		return e.deny(opRegister, ReasonInvalidName)
	}
	if !e.passwordInBounds(req.Password) {
		return e.deny(opRegister, ReasonPasswordPolicy)
	}

	if res := e.premium.Classify(ctx, req.Nickname); res.IsPremium() {
		e.audit.Record(audit.Event{
			Type:     audit.TypePremiumConflictBlocked,
			Nickname: req.Nickname,
			IP:       req.IP,
			Reason:   "registration of a premium-owned name",
		})
		return e.deny(opRegister, ReasonPremiumNameRequired)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		slog.Error("password hash failed", "nickname", req.Nickname, "error", err)
		return e.deny(opRegister, ReasonDatabaseError)
	}

	now := time.Now()
	row := &auth.RegisteredPlayer{
		Nickname:     req.Nickname,
		UUID:         req.UUID,
		PasswordHash: hash,
		RegisteredIP: req.IP,
		LastLoginIP:  req.IP,
		RegisteredAt: now,
		LastLoginAt:  now,
	}
	if err := e.store.Save(ctx, row); err != nil {
		if errutil.CodeOf(err) == "AUTH_ALREADY_REGISTERED" {
			return e.deny(opRegister, ReasonAlreadyRegistered)
		}
		return e.deny(opRegister, ReasonDatabaseError)
	}

	e.authorized.AddAuthorizedPlayer(auth.AuthorizedEntry{
		UUID:         req.UUID,
		Nickname:     req.Nickname,
		IP:           req.IP,
		AuthorizedAt: now,
	})
	if !e.sessions.StartSession(req.UUID, req.Nickname, req.IP) {
		e.authorized.RemoveAuthorizedPlayer(req.UUID)
		e.audit.Record(audit.Event{
			Type:       audit.TypeConcurrentSessionLimit,
			Nickname:   req.Nickname,
			PlayerUUID: &req.UUID,
			IP:         req.IP,
			Reason:     "session limit reached",
		})
		return e.deny(opRegister, ReasonSessionLimit)
	}

	e.guard.ResetLoginAttempts(req.IP)
	e.limiter.Reset(req.IP)

	e.audit.Record(audit.Event{
		Type:       audit.TypeRegistration,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})
	e.audit.Record(audit.Event{
		Type:       audit.TypeSessionStart,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})

	return e.allow(opRegister)
}

// ChangePasswordRequest replaces a registration's password.
type ChangePasswordRequest struct {
	UUID        uuid.UUID
	Nickname    string
	IP          string
	OldPassword string
	NewPassword string
}

// ChangePassword verifies the old password, stores a new hash, and ends
// every session held by the nickname. Live connections must authenticate
// again with the new password.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opChangePass, ReasonEngineNotReady)
	}

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return e.deny(opChangePass, ReasonDatabaseError)
	}
	if row == nil {
		_, _ = e.hasher.Verify(req.OldPassword, dummyPasswordHash)
		e.recordLoginFailure(req.Nickname, req.IP, "password change for unregistered nickname")
		return e.deny(opChangePass, ReasonNotRegistered)
	}

	ok, err := e.hasher.Verify(req.OldPassword, row.PasswordHash)
	if err != nil {
		slog.Error("stored password hash unreadable", "nickname", req.Nickname, "error", err)
		return e.deny(opChangePass, ReasonDatabaseError)
	}
	if !ok {
		e.recordLoginFailure(req.Nickname, req.IP, "password change with wrong password")
		return e.deny(opChangePass, ReasonInvalidCredentials)
	}

	if !e.passwordInBounds(req.NewPassword) {
		return e.deny(opChangePass, ReasonPasswordPolicy)
	}
	hash, err := e.hasher.Hash(req.NewPassword)
	if err != nil {
		slog.Error("password hash failed", "nickname", req.Nickname, "error", err)
		return e.deny(opChangePass, ReasonDatabaseError)
	}
	if err := e.store.UpdatePassword(ctx, req.Nickname, hash); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return e.deny(opChangePass, ReasonNotRegistered)
		}
		return e.deny(opChangePass, ReasonDatabaseError)
	}

	ended := e.invalidateAccess(row)
	e.guard.ResetLoginAttempts(req.IP)

	e.audit.Record(audit.Event{
		Type:       audit.TypePasswordChange,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})
	e.audit.Record(audit.Event{
		Type:       audit.TypeAllSessionsInvalidated,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
		Reason:     "password changed",
		Detail:     map[string]any{"sessions_ended": ended},
	})

	return e.allow(opChangePass)
}

// DeleteAccountRequest removes a registration after a password proof.
type DeleteAccountRequest struct {
	UUID     uuid.UUID
	Nickname string
	IP       string
	Password string
}

// DeleteAccount verifies the password, removes the registration, and ends
// every session held by the nickname. The name returns to the unclaimed
// state.
func (e *Engine) DeleteAccount(ctx context.Context, req DeleteAccountRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opDelete, ReasonEngineNotReady)
	}

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return e.deny(opDelete, ReasonDatabaseError)
	}
	if row == nil {
		_, _ = e.hasher.Verify(req.Password, dummyPasswordHash)
		e.recordLoginFailure(req.Nickname, req.IP, "account deletion for unregistered nickname")
		return e.deny(opDelete, ReasonNotRegistered)
	}

	ok, err := e.hasher.Verify(req.Password, row.PasswordHash)
	if err != nil {
		slog.Error("stored password hash unreadable", "nickname", req.Nickname, "error", err)
		return e.deny(opDelete, ReasonDatabaseError)
	}
	if !ok {
		e.recordLoginFailure(req.Nickname, req.IP, "account deletion with wrong password")
		return e.deny(opDelete, ReasonInvalidCredentials)
	}

	if err := e.store.Delete(ctx, req.Nickname); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return e.deny(opDelete, ReasonNotRegistered)
		}
		return e.deny(opDelete, ReasonDatabaseError)
	}

	ended := e.invalidateAccess(row)
	e.guard.ResetLoginAttempts(req.IP)

	e.audit.Record(audit.Event{
		Type:       audit.TypeAccountDeletion,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})
	e.audit.Record(audit.Event{
		Type:       audit.TypeAllSessionsInvalidated,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
		Reason:     "account deleted",
		Detail:     map[string]any{"sessions_ended": ended},
	})

	return e.allow(opDelete)
}

// LogoutRequest ends an identity's session voluntarily.
type LogoutRequest struct {
	UUID     uuid.UUID
	Nickname string
	IP       string
}

// Logout revokes the identity's authorization and ends its session.
// Revocation always proceeds, even while the engine is stopping; denial
// only reports that no session existed.
func (e *Engine) Logout(req LogoutRequest) Decision {
	e.authorized.RemoveAuthorizedPlayer(req.UUID)
	if err := e.sessions.EndSession(req.UUID); err != nil {
		return e.deny(opLogout, ReasonNoActiveSession)
	}
	e.audit.Record(audit.Event{
		Type:       audit.TypeSessionEnd,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
		Reason:     "logout",
	})
	return e.allow(opLogout)
}

// invalidateAccess ends every session for the registration's nickname and
// removes authorization entries for both of its identity ids. Returns the
// number of sessions ended.
func (e *Engine) invalidateAccess(row *auth.RegisteredPlayer) int {
	ended := e.sessions.EndAllSessions(row.Nickname)
	e.authorized.RemoveAuthorizedPlayer(row.UUID)
	if row.PremiumUUID != nil {
		e.authorized.RemoveAuthorizedPlayer(*row.PremiumUUID)
	}
	return ended
}
