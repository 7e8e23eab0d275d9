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
)

// Operation labels for the decision counter.
const (
	opPreAuth     = "preauth"
	opPremiumAuth = "premium_auth"
	opLogin       = "login"
	opRegister    = "register"
	opChangePass  = "change_password"
	opDelete      = "delete_account"
	opLogout      = "logout"
	opRoute       = "route"
	opCommand     = "command"
)

// PreAuthRequest describes a connection before any identity proof. Only
// the presented nickname and source address are known.
type PreAuthRequest struct {
	Nickname string
	IP       string
}

// PreAuth decides whether a connection may proceed to authentication and
// in which mode. An allowed decision with Premium set tells the host to
// complete the online-mode handshake and then call CompletePremiumAuth;
// without Premium the connection stays offline and must prove a password.
//
// Checks run cheapest first: the address limiter, the geographic screen,
// nickname validation, and the brute-force guard all decide before any
// classification or database work happens.
func (e *Engine) PreAuth(ctx context.Context, req PreAuthRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opPreAuth, ReasonEngineNotReady)
	}

	if allowed, retryAfter := e.limiter.Allow(req.IP); !allowed {
		e.audit.Record(audit.Event{
			Type:     audit.TypePreLoginRateLimit,
			Nickname: req.Nickname,
			IP:       req.IP,
			Reason:   "connection budget exceeded",
			Detail:   map[string]any{"retry_after": retryAfter.String()},
		})
		d := e.deny(opPreAuth, ReasonRateLimited)
		d.RetryAfter = retryAfter
		return d
	}

	if e.geo != nil {
		if allowed, country := e.geo.Screen(req.IP); !allowed {
			e.audit.Record(audit.Event{
				Type:     audit.TypeGeoBlock,
				Nickname: req.Nickname,
				IP:       req.IP,
				Reason:   "country blocked",
				Detail:   map[string]any{"country": country},
			})
			return e.deny(opPreAuth, ReasonGeoBlocked)
		}
	}

	if err := auth.ValidateNickname(req.Nickname, e.cfg.MinNicknameLength, e.cfg.MaxNicknameLength); err != nil {
		return e.deny(opPreAuth, ReasonInvalidName)
	}

	if e.guard.IsBlocked(req.IP) {
		e.audit.Record(audit.Event{
			Type:     audit.TypeBruteForceBlock,
			Nickname: req.Nickname,
			IP:       req.IP,
			Reason:   "address locked out",
		})
		return e.deny(opPreAuth, ReasonBruteForceLocked)
	}

	res := e.premium.Classify(ctx, req.Nickname)

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return e.deny(opPreAuth, ReasonDatabaseError)
	}

	// Unregistered name: premium identities skip the password flow
	// entirely, everyone else connects offline and must register.
	if row == nil {
		d := e.allow(opPreAuth)
		d.Premium = res.IsPremium()
		return d
	}

	// A name already in conflict admits both claimants through the
	// password flow. Every access under conflict is audited.
	if row.ConflictMode {
		e.recordConflictAccess(req.Nickname, nil, req.IP, "preauth under conflict")
		d := e.allow(opPreAuth)
		d.ConflictNotice = true
		return d
	}

	if res.IsPremium() && res.PremiumUUID != nil {
		if row.IsPremiumOwned() {
			if *row.PremiumUUID == *res.PremiumUUID {
				d := e.allow(opPreAuth)
				d.Premium = true
				return d
			}
			// A different premium identity owns this registration.
			e.audit.Record(audit.Event{
				Type:     audit.TypePremiumConflictBlocked,
				Nickname: req.Nickname,
				IP:       req.IP,
				Reason:   "premium identity does not match premium-owned registration",
				Detail: map[string]any{
					"claimant_uuid": res.PremiumUUID.String(),
					"owner_uuid":    row.PremiumUUID.String(),
				},
			})
			return e.deny(opPreAuth, ReasonPremiumConflict)
		}

		// Premium claimant against a cracked registration: enter the
		// sticky conflict state. The claimant continues offline and must
		// prove the registered password like anyone else.
		if err := e.store.SetConflictMode(ctx, req.Nickname, true, time.Now()); err != nil {
			return e.deny(opPreAuth, ReasonDatabaseError)
		}
		e.audit.Record(audit.Event{
			Type:     audit.TypeConflictEnter,
			Nickname: req.Nickname,
			IP:       req.IP,
			Reason:   "premium identity claims a cracked nickname",
			Detail: map[string]any{
				"claimant_uuid": res.PremiumUUID.String(),
				"owner_uuid":    row.UUID.String(),
			},
		})
		d := e.allow(opPreAuth)
		d.ConflictNotice = true
		return d
	}

	// Offline claimant on an existing registration: password flow.
	return e.allow(opPreAuth)
}

// PremiumAuthRequest describes a connection that completed the online-mode
// handshake. UUID is the identity id the handshake vouched for.
type PremiumAuthRequest struct {
	UUID     uuid.UUID
	Nickname string
	IP       string
}

// CompletePremiumAuth authorizes a connection whose premium identity was
// verified by the handshake. No password is involved; the checks protect
// registrations that predate the premium claim.
//
// A denied decision leaves no authorization or session state behind. In
// particular a session-limit denial rolls the authorization entry back out
// before returning.
func (e *Engine) CompletePremiumAuth(ctx context.Context, req PremiumAuthRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opPremiumAuth, ReasonEngineNotReady)
	}

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return e.deny(opPremiumAuth, ReasonDatabaseError)
	}

	notice := false
	if row != nil {
		switch {
		case row.ConflictMode:
			// Identity checks relax while the conflict stands.
			notice = true
			e.recordConflictAccess(req.Nickname, &req.UUID, req.IP, "premium completion under conflict")
		case !rowMatchesIdentity(row, req.UUID):
			e.audit.Record(audit.Event{
				Type:       audit.TypePremiumConflictBlocked,
				Nickname:   req.Nickname,
				PlayerUUID: &req.UUID,
				IP:         req.IP,
				Reason:     "verified identity does not match registration",
				Detail:     map[string]any{"registered_uuid": row.UUID.String()},
			})
			return e.deny(opPremiumAuth, ReasonPremiumConflict)
		}
	}

	premiumUUID := req.UUID
	if entry, ok := e.premium.GetPremiumStatus(req.Nickname); ok && entry.PremiumUUID != nil {
		premiumUUID = *entry.PremiumUUID
	}

	// First verified completion upgrades a plain registration to
	// premium-owned. Best effort: a failed write leaves the row cracked,
	// which is the stricter state.
	if row != nil && !row.ConflictMode && !row.IsPremiumOwned() {
		if err := e.store.BindPremiumUUID(ctx, req.Nickname, premiumUUID); err != nil {
			slog.Warn("premium binding not persisted", "nickname", req.Nickname, "error", err)
		} else {
			e.audit.Record(audit.Event{
				Type:       audit.TypePremiumStatus,
				Nickname:   req.Nickname,
				PlayerUUID: &req.UUID,
				IP:         req.IP,
				Reason:     "registration bound to premium identity",
				Detail:     map[string]any{"premium_uuid": premiumUUID.String()},
			})
		}
	}

	now := time.Now()
	e.authorized.AddAuthorizedPlayer(auth.AuthorizedEntry{
		UUID:         req.UUID,
		Nickname:     req.Nickname,
		IP:           req.IP,
		AuthorizedAt: now,
		Premium:      true,
		PremiumUUID:  &premiumUUID,
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
		return e.deny(opPremiumAuth, ReasonSessionLimit)
	}

	e.audit.Record(audit.Event{
		Type:       audit.TypeLoginSuccess,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
		Detail:     map[string]any{"premium": true},
	})
	e.audit.Record(audit.Event{
		Type:       audit.TypeSessionStart,
		Nickname:   req.Nickname,
		PlayerUUID: &req.UUID,
		IP:         req.IP,
	})

	d := e.allow(opPremiumAuth)
	d.Premium = true
	d.ConflictNotice = notice
	return d
}

// recordConflictAccess audits one access to a nickname in conflict mode.
func (e *Engine) recordConflictAccess(nickname string, id *uuid.UUID, ip, detail string) {
	e.audit.Record(audit.Event{
		Type:       audit.TypeConflictAccess,
		Nickname:   nickname,
		PlayerUUID: id,
		IP:         ip,
		Reason:     detail,
	})
}
