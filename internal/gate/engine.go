// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/internal/premium"
)

// Password policy defaults.
const (
	DefaultMinPasswordLength = 6
	DefaultMaxPasswordLength = auth.MaxPasswordBytes
)

// dummyPasswordHash is verified when no registration exists so unknown and
// known nicknames cost the same time. It is a syntactically valid bcrypt
// hash that matches no password.
//
//nolint:gosec // G101: intentionally fake hash for timing parity, not a credential.
const dummyPasswordHash = "$2a$10$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Config holds the engine's own policy knobs. Zero values fall back to
// defaults.
type Config struct {
	// MinNicknameLength and MaxNicknameLength bound nicknames. Defaults
	// follow auth.ValidateNickname.
	MinNicknameLength int
	MaxNicknameLength int

	// MinPasswordLength and MaxPasswordLength bound passwords for
	// registration and password changes.
	MinPasswordLength int
	MaxPasswordLength int
}

// Deps are the engine's collaborators. Store, Hasher, Authorized,
// Sessions, Guard, Limiter, and Premium are required. Commands defaults to
// the standard allowlist, Audit to a no-op recorder, and a nil Geo
// disables geographic screening.
type Deps struct {
	Store      auth.PlayerStore
	Hasher     auth.PasswordHasher
	Authorized *auth.AuthorizationCache
	Sessions   *auth.SessionRegistry
	Guard      *auth.BruteForceGuard
	Limiter    *auth.AddressLimiter
	Premium    *premium.StatusCache
	Commands   *CommandGate
	Geo        AddressScreen
	Audit      audit.Recorder
}

// Engine is the authorization decision engine. It owns no goroutines and
// performs no I/O beyond its collaborators; every operation is safe for
// concurrent use.
//
// A new engine denies everything with ReasonEngineNotReady until SetReady
// is called, and again after Stop. Hosts flip readiness once persistence
// is migrated and verified, and flip it back as the first step of
// shutdown.
type Engine struct {
	cfg Config

	store      auth.PlayerStore
	hasher     auth.PasswordHasher
	authorized *auth.AuthorizationCache
	sessions   *auth.SessionRegistry
	guard      *auth.BruteForceGuard
	limiter    *auth.AddressLimiter
	premium    *premium.StatusCache
	commands   *CommandGate
	geo        AddressScreen
	audit      audit.Recorder

	ready atomic.Bool

	decisions *prometheus.CounterVec
}

// NewEngine validates collaborators and builds an engine. A missing
// required dependency is a construction error, not a runtime denial. reg
// may be nil to skip metrics registration.
func NewEngine(cfg Config, deps Deps, reg prometheus.Registerer) (*Engine, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"store", deps.Store != nil},
		{"hasher", deps.Hasher != nil},
		{"authorized", deps.Authorized != nil},
		{"sessions", deps.Sessions != nil},
		{"guard", deps.Guard != nil},
		{"limiter", deps.Limiter != nil},
		{"premium", deps.Premium != nil},
	}
	for _, r := range required {
		if !r.ok {
			return nil, oops.Code("GATE_MISSING_DEPENDENCY").
				With("dependency", r.name).
				Errorf("engine requires a %s", r.name)
		}
	}

	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.MaxPasswordLength <= 0 || cfg.MaxPasswordLength > auth.MaxPasswordBytes {
		cfg.MaxPasswordLength = DefaultMaxPasswordLength
	}

	commands := deps.Commands
	if commands == nil {
		var err error
		commands, err = NewCommandGate(nil)
		if err != nil {
			return nil, err
		}
	}
	recorder := deps.Audit
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	e := &Engine{
		cfg:        cfg,
		store:      deps.Store,
		hasher:     deps.Hasher,
		authorized: deps.Authorized,
		sessions:   deps.Sessions,
		guard:      deps.Guard,
		limiter:    deps.Limiter,
		premium:    deps.Premium,
		commands:   commands,
		geo:        deps.Geo,
		audit:      recorder,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veloauth_gate_decisions_total",
			Help: "Engine decisions by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(e.decisions)
	}
	return e, nil
}

// SetReady opens the gate for decisions.
func (e *Engine) SetReady() {
	e.ready.Store(true)
}

// Stop closes the gate again. In-flight operations finish; new ones deny
// with ReasonEngineNotReady.
func (e *Engine) Stop() {
	e.ready.Store(false)
}

// Ready reports whether the engine is accepting decisions.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

func (e *Engine) allow(operation string) Decision {
	e.decisions.WithLabelValues(operation, "allow").Inc()
	return Decision{Allow: true}
}

func (e *Engine) deny(operation string, reason Reason) Decision {
	e.decisions.WithLabelValues(operation, string(reason)).Inc()
	return Decision{Reason: reason}
}

// passwordInBounds applies the length policy. Hash-level limits still
// apply afterwards.
func (e *Engine) passwordInBounds(password string) bool {
	return len(password) >= e.cfg.MinPasswordLength && len(password) <= e.cfg.MaxPasswordLength
}

// recordLoginFailure counts a failed credential proof against the address
// and audits it, escalating to a brute-force event on the attempt that
// crosses the lockout threshold.
func (e *Engine) recordLoginFailure(nickname, ip, detail string) {
	if e.guard.RegisterFailedLogin(ip) {
		e.audit.Record(audit.Event{
			Type:     audit.TypeBruteForceBlock,
			Nickname: nickname,
			IP:       ip,
			Reason:   detail,
			Detail:   map[string]any{"failures": e.guard.FailureCount(ip)},
		})
		return
	}
	e.audit.Record(audit.Event{
		Type:     audit.TypeLoginFailure,
		Nickname: nickname,
		IP:       ip,
		Reason:   detail,
	})
}
