// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
	"github.com/fR0Z863xF/VeloAuth/internal/auth"
)

// RouteRequest asks where a connection may go. Initial marks the first
// routing of a connection's life; ToAuthServer marks the holding server as
// the requested target.
type RouteRequest struct {
	UUID         uuid.UUID
	Nickname     string
	IP           string
	Initial      bool
	ToAuthServer bool
}

// RouteDecision decides a connection's destination.
//
// The first routing of every connection lands on the holding server, where
// authentication happens. After that, reaching a backend requires all
// three proofs: an authorization entry, a live session, and an identity id
// the stored registration answers for. A failed identity check that the
// cache and registry both vouched for is treated as a hijacked
// authorization: the entry and session are revoked on the spot.
//
// Denial reasons keep a fixed precedence: unauthorized, then
// no_active_session, then uuid_mismatch.
func (e *Engine) RouteDecision(ctx context.Context, req RouteRequest) Decision {
	if !e.ready.Load() {
		return e.deny(opRoute, ReasonEngineNotReady)
	}

	if req.Initial {
		d := e.allow(opRoute)
		d.Route = RouteAuthServer
		return d
	}

	if req.ToAuthServer {
		// An authenticated identity has no business back on the holding
		// server; bounce it to a backend instead.
		d := e.allow(opRoute)
		if e.authorized.IsPlayerAuthorized(req.UUID, req.IP) {
			d.Route = RouteBackend
		} else {
			d.Route = RouteAuthServer
		}
		return d
	}

	if !e.authorized.IsPlayerAuthorized(req.UUID, req.IP) {
		return e.deny(opRoute, ReasonUnauthorized)
	}
	if !e.sessions.HasActiveSession(req.UUID, req.Nickname, req.IP) {
		return e.deny(opRoute, ReasonNoActiveSession)
	}

	row, err := e.store.FindByNickname(ctx, req.Nickname)
	switch {
	case err != nil && errors.Is(err, auth.ErrNotFound):
		// No registration backs this name; premium identities routinely
		// have none.
	case err != nil:
		// Could not corroborate the identity. Deny without revoking:
		// a database outage is not evidence of hijack.
		return e.deny(opRoute, ReasonDatabaseError)
	case row.ConflictMode:
		e.recordConflictAccess(req.Nickname, &req.UUID, req.IP, "routing under conflict")
	case !rowMatchesIdentity(row, req.UUID):
		e.authorized.RemoveAuthorizedPlayer(req.UUID)
		_ = e.sessions.EndSession(req.UUID) //nolint:errcheck // session may already be gone; revocation stands
		e.audit.Record(audit.Event{
			Type:       audit.TypeSessionHijack,
			Nickname:   req.Nickname,
			PlayerUUID: &req.UUID,
			IP:         req.IP,
			Reason:     "authorized identity contradicts registration",
			Detail:     map[string]any{"registered_uuid": row.UUID.String()},
		})
		return e.deny(opRoute, ReasonUUIDMismatch)
	}

	d := e.allow(opRoute)
	d.Route = RouteBackend
	return d
}

// FilterCommand decides whether an identity may run a command. Allowlisted
// commands always pass so players can authenticate; everything else
// requires an authorization entry.
func (e *Engine) FilterCommand(id uuid.UUID, ip, command string) Decision {
	if e.commands.Allowed(command) {
		return e.allow(opCommand)
	}
	if e.authorized.IsPlayerAuthorized(id, ip) {
		return e.allow(opCommand)
	}
	return e.deny(opCommand, ReasonUnauthorized)
}
