// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package premium classifies usernames as premium or offline identities.
//
// The HTTPResolver queries external identity authorities in configured
// order with per-source rate limiting, retry, and timeouts. The
// StatusCache wraps resolutions in a TTL cache with proactive background
// refresh so the classification path never blocks on network I/O for a
// name it has seen recently.
package premium
