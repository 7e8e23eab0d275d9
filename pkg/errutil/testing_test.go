// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("SESSION_LIMIT").Errorf("test error")
	// Should not fail
	errutil.AssertErrorCode(t, err, "SESSION_LIMIT")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("address", "203.0.113.7").Errorf("test error")
	// Should not fail
	errutil.AssertErrorContext(t, err, "address", "203.0.113.7")
}
