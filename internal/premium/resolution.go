// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package premium

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// State classifies a username's standing with the identity authorities.
type State int

// State constants define the possible classification outcomes.
const (
	// StateUnknown means no authority gave a definitive answer. Callers
	// must treat it as "not verified", never as premium.
	StateUnknown State = iota // unknown

	// StateOffline means an authority confirmed no premium record exists.
	StateOffline // offline

	// StatePremium means an authority confirmed the name belongs to a
	// verified premium identity.
	StatePremium // premium
)

var stateStrings = [...]string{
	"unknown",
	"offline",
	"premium",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateStrings) {
		return stateStrings[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Resolution is the outcome of classifying one username.
type Resolution struct {
	State State

	// PremiumUUID is the verified identity id. Set only for StatePremium.
	PremiumUUID *uuid.UUID

	// CanonicalName is the exact-case name the authority has on record.
	// Empty when the authority did not report one.
	CanonicalName string

	// Source names the authority that produced the resolution.
	Source string

	// Message carries the diagnostic detail behind an offline or
	// unknown outcome, e.g. "not found" or "rate limited".
	Message string
}

// IsPremium reports whether the resolution confirms a premium identity.
func (r Resolution) IsPremium() bool {
	return r.State == StatePremium
}

// Resolver classifies usernames. Implementations never fail: any outcome
// short of a definitive answer is a StateUnknown resolution.
type Resolver interface {
	Resolve(ctx context.Context, username string) Resolution
}
