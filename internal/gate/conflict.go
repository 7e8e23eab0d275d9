// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"github.com/google/uuid"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/internal/premium"
)

// NicknameState is the ownership state of a nickname, derived from its
// local registration and its premium classification.
type NicknameState int

const (
	// StateUnclaimed means no registration exists and no premium identity
	// holds the name.
	StateUnclaimed NicknameState = iota

	// StateCrackedOwned means a non-premium registration holds the name.
	StateCrackedOwned

	// StatePremiumOwned means a premium identity holds the name, either
	// through a premium-bound registration or through the identity
	// authority alone.
	StatePremiumOwned

	// StateConflict means a premium identity and a non-premium
	// registration both claim the name. The state is sticky: only
	// administrative removal of the registration leaves it.
	StateConflict
)

var nicknameStateStrings = [...]string{
	"unclaimed", "cracked_owned", "premium_owned", "conflict",
}

func (s NicknameState) String() string {
	if s < 0 || int(s) >= len(nicknameStateStrings) {
		return "state(?)"
	}
	return nicknameStateStrings[s]
}

// ClaimState classifies a nickname's ownership. row may be nil when no
// registration exists. The conflict flag on the row always wins; otherwise
// a premium-bound row or a premium classification makes the name
// premium-owned, and a plain row makes it cracked-owned.
func ClaimState(row *auth.RegisteredPlayer, res premium.Resolution) NicknameState {
	switch {
	case row != nil && row.ConflictMode:
		return StateConflict
	case row != nil && row.IsPremiumOwned():
		return StatePremiumOwned
	case row != nil:
		return StateCrackedOwned
	case res.IsPremium():
		return StatePremiumOwned
	default:
		return StateUnclaimed
	}
}

// rowMatchesIdentity reports whether the connecting identity id is one the
// registration answers for: its stored id, or the premium id bound to it.
func rowMatchesIdentity(row *auth.RegisteredPlayer, id uuid.UUID) bool {
	if row.UUID == id {
		return true
	}
	return row.PremiumUUID != nil && *row.PremiumUUID == id
}
