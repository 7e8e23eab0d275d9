// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package auth holds the in-memory security state of the authorization
// decision engine.
//
// # Caches
//
// Four concurrent structures back every gate decision:
//   - AuthorizationCache - which identities are currently allowed past the
//     gate, with optional IP pinning and bounded capacity
//   - SessionRegistry - live sessions per identity with a concurrency cap
//     and lazy timeout enforcement
//   - BruteForceGuard - per-address failed-login counter with a lockout
//     window
//   - AddressLimiter - pre-authentication per-address rate limiter applied
//     before any identity is known
//
// All four are safe for concurrent use without caller-side locking and
// perform no I/O. Components that run background goroutines expose Close.
//
// # Collaborators
//
// PlayerStore abstracts the local password database and PasswordHasher the
// slow adaptive hash. Implementations live in subpackages; results must
// distinguish "not found" (ErrNotFound) from failure so callers can stay
// fail-secure.
package auth
