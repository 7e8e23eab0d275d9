// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import "time"

// Reason is the machine-readable cause of a denial. Hosts map reasons to
// player-facing text; the engine never renders messages itself.
type Reason string

// Denial reasons, stable across releases.
const (
	// ReasonNone marks an allowed decision.
	ReasonNone Reason = ""

	// ReasonRateLimited denies a connection attempt that exceeded the
	// per-address pre-authentication budget.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonGeoBlocked denies an address whose country failed the
	// geographic screen.
	ReasonGeoBlocked Reason = "geo_blocked"

	// ReasonInvalidName denies a nickname that fails validation.
	ReasonInvalidName Reason = "invalid_name"

	// ReasonBruteForceLocked denies an address locked out by failed
	// login attempts.
	ReasonBruteForceLocked Reason = "brute_force_locked"

	// ReasonPremiumNameRequired denies registration of a name owned by a
	// premium identity.
	ReasonPremiumNameRequired Reason = "premium_name_required"

	// ReasonPremiumConflict denies a premium connection whose identity id
	// does not match the registration holding the name.
	ReasonPremiumConflict Reason = "premium_conflict"

	// ReasonDatabaseError denies because persistence failed and the
	// engine could not verify; failures never fall open.
	ReasonDatabaseError Reason = "database_error"

	// ReasonInvalidCredentials denies a wrong password.
	ReasonInvalidCredentials Reason = "invalid_credentials"

	// ReasonAlreadyRegistered denies registration of a taken name.
	ReasonAlreadyRegistered Reason = "already_registered"

	// ReasonNotRegistered denies a credential operation on an unknown
	// name.
	ReasonNotRegistered Reason = "not_registered"

	// ReasonSessionLimit denies because the nickname already holds the
	// maximum number of live sessions.
	ReasonSessionLimit Reason = "session_limit"

	// ReasonUnauthorized denies an identity with no authorization entry.
	ReasonUnauthorized Reason = "unauthorized"

	// ReasonNoActiveSession denies an authorized identity whose session
	// expired or never started.
	ReasonNoActiveSession Reason = "no_active_session"

	// ReasonUUIDMismatch denies an identity id that contradicts the
	// stored registration.
	ReasonUUIDMismatch Reason = "uuid_mismatch"

	// ReasonEngineNotReady denies every operation before startup
	// completes or after shutdown begins.
	ReasonEngineNotReady Reason = "engine_not_ready"

	// ReasonPasswordPolicy denies a password outside the configured
	// length bounds.
	ReasonPasswordPolicy Reason = "password_policy"
)

// Route tells the host where a connection may go. It is meaningful only on
// decisions returned by RouteDecision.
type Route int

const (
	// RouteNone means the decision carries no routing target.
	RouteNone Route = iota

	// RouteAuthServer sends the connection to the holding server where
	// authentication happens.
	RouteAuthServer

	// RouteBackend admits the connection to the requested backend server.
	RouteBackend
)

var routeStrings = [...]string{"none", "auth_server", "backend"}

func (r Route) String() string {
	if r < 0 || int(r) >= len(routeStrings) {
		return "route(?)"
	}
	return routeStrings[r]
}

// Decision is the engine's verdict for one operation.
type Decision struct {
	// Allow reports whether the operation may proceed.
	Allow bool

	// Reason carries the denial cause. Empty on allowed decisions.
	Reason Reason

	// Route is the connection's destination for routing decisions.
	Route Route

	// Premium instructs the host to complete the online-mode handshake
	// for this connection.
	Premium bool

	// ConflictNotice instructs the host to tell the player their nickname
	// is in conflict between a premium and a non-premium claimant.
	ConflictNotice bool

	// RetryAfter is how long a rate-limited address must wait. Zero
	// unless Reason is ReasonRateLimited.
	RetryAfter time.Duration
}

// Denied reports whether the decision blocks the operation.
func (d Decision) Denied() bool {
	return !d.Allow
}
