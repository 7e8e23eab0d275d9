// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package auth

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Default session registry values.
const (
	// DefaultSessionTimeout is the idle gap after which a session is
	// treated as absent.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultMaxConcurrentSessions caps live sessions per nickname. Two
	// covers the one legitimate coexistence case: a premium claimant and
	// the cracked owner of the same nickname during a conflict.
	DefaultMaxConcurrentSessions = 2

	// DefaultSessionSweepInterval is how often expired sessions are
	// physically removed. Expiry itself is enforced lazily on every check.
	DefaultSessionSweepInterval = 5 * time.Minute
)

// Session represents an identity's ongoing authenticated presence.
type Session struct {
	UUID         uuid.UUID
	Nickname     string
	IP           string
	StartedAt    time.Time
	LastActivity time.Time
}

// copySession returns a copy; callers never hold registry-internal pointers.
func copySession(s *Session) *Session {
	out := *s
	return &out
}

// SessionRegistryConfig configures the session registry.
type SessionRegistryConfig struct {
	// Timeout is the idle gap before a session logically expires.
	// Defaults to DefaultSessionTimeout if zero.
	Timeout time.Duration

	// MaxConcurrent caps sessions per case-folded nickname. Defaults to
	// DefaultMaxConcurrentSessions if zero.
	MaxConcurrent int

	// SweepInterval is how often the background sweeper runs. Defaults to
	// DefaultSessionSweepInterval if zero.
	SweepInterval time.Duration
}

// SessionRegistry tracks active sessions per identity. Sessions deliberately
// survive network disconnects; only logout, explicit invalidation, or the
// idle timeout end them.
//
// The registry runs a background sweeper. Call Close() to stop it.
type SessionRegistry struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*Session
	timeout       time.Duration
	maxConcurrent int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSessionRegistry creates a session registry and starts its sweeper.
// Call Close() to stop it.
func NewSessionRegistry(cfg SessionRegistryConfig) *SessionRegistry {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSessions
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSessionSweepInterval
	}

	r := &SessionRegistry{
		sessions:      make(map[uuid.UUID]*Session),
		timeout:       timeout,
		maxConcurrent: maxConcurrent,
		stopChan:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweepLoop(sweepInterval)

	return r
}

// expired reports whether s has been idle past the timeout.
func (r *SessionRegistry) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivity) > r.timeout
}

// StartSession creates a session for the identity. It returns false, and
// creates nothing, when the nickname already holds the maximum number of
// live sessions. A new session for an identity that already has one rebinds
// it in place (reconnect), which never counts against the cap.
func (r *SessionRegistry) StartSession(id uuid.UUID, nickname, ip string) bool {
	folded := FoldNickname(nickname)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		live := 0
		for _, s := range r.sessions {
			if FoldNickname(s.Nickname) == folded && !r.expired(s, now) {
				live++
			}
		}
		if live >= r.maxConcurrent {
			slog.Debug("session start rejected by concurrency cap",
				"nickname", nickname,
				"live", live,
				"max", r.maxConcurrent,
			)
			return false
		}
	}

	r.sessions[id] = &Session{
		UUID:         id,
		Nickname:     nickname,
		IP:           ip,
		StartedAt:    now,
		LastActivity: now,
	}
	return true
}

// HasActiveSession reports whether the identity holds a live session bound
// to the given nickname and address. This is the sole place the timeout is
// enforced: an idle-expired entry is treated as absent even if the sweeper
// has not removed it yet. A passing check refreshes the activity time.
func (r *SessionRegistry) HasActiveSession(id uuid.UUID, nickname, ip string) bool {
	folded := FoldNickname(nickname)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return false
	}
	if r.expired(s, now) {
		return false
	}
	if FoldNickname(s.Nickname) != folded || s.IP != ip {
		return false
	}

	s.LastActivity = now
	return true
}

// GetSession returns a copy of the identity's session, or nil if none
// exists. Expiry is not applied here; HasActiveSession owns that rule.
func (r *SessionRegistry) GetSession(id uuid.UUID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[id]
	if !exists {
		return nil
	}
	return copySession(s)
}

// EndSession removes the identity's session. Returns an error if no
// session exists.
func (r *SessionRegistry) EndSession(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return oops.Code("SESSION_NOT_FOUND").
			With("uuid", id.String()).
			Errorf("no session for identity %s", id.String())
	}

	delete(r.sessions, id)
	return nil
}

// EndAllSessions removes every session bound to the nickname and returns
// how many were removed. Used when a password change or an administrative
// action invalidates all access for a name.
func (r *SessionRegistry) EndAllSessions(nickname string) int {
	folded := FoldNickname(nickname)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if FoldNickname(s.Nickname) == folded {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of non-expired sessions for the nickname.
func (r *SessionRegistry) ActiveCount(nickname string) int {
	folded := FoldNickname(nickname)
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for _, s := range r.sessions {
		if FoldNickname(s.Nickname) == folded && !r.expired(s, now) {
			live++
		}
	}
	return live
}

// Len returns the number of stored sessions, expired ones included.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SweepExpired removes idle-expired sessions from storage and returns how
// many were removed.
func (r *SessionRegistry) SweepExpired() int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// sweepLoop runs periodic expiry sweeps in the background.
func (r *SessionRegistry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if n := r.SweepExpired(); n > 0 {
				slog.Debug("swept expired sessions", "removed", n)
			}
		}
	}
}

// Close stops the background sweeper. It blocks until the goroutine has
// stopped.
func (r *SessionRegistry) Close() {
	close(r.stopChan)
	r.wg.Wait()
}
