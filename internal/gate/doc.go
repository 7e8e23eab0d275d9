// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package gate is the authorization decision engine.
//
// The Engine answers one question for every stage of a connection's life:
// may this identity proceed, and where. Each operation returns a Decision
// carrying an allow/deny verdict, a machine-readable Reason on denial, and
// stage-specific detail such as the routing target or whether the
// connection must complete the online-mode handshake.
//
// Decisions are pure with respect to the host: the engine never calls back
// into proxy or transport code. Hosts feed it connection facts and apply
// the returned Decision themselves.
//
// # Fail-secure
//
// Any persistence failure on a decision path denies with ReasonDatabaseError
// rather than guessing. Absence of a record is never treated as failure and
// failure never as absence; the split is carried by auth.ErrNotFound.
package gate
