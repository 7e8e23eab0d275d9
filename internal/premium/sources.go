// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package premium

import (
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Well-known authority endpoints.
const (
	mojangProfileURL = "https://api.mojang.com/users/profiles/minecraft/%s"
	playerDBURL      = "https://playerdb.co/api/player/minecraft/%s"
)

// SourceConfig describes one identity authority.
type SourceConfig struct {
	// Name identifies the source in logs, metrics, and resolutions.
	Name string

	// URL is the lookup endpoint with a single %s for the username.
	URL string

	// UUIDField is the JSON field carrying the identity id. Nested
	// fields use dot notation, e.g. "data.player.id".
	UUIDField string

	// NameField is the JSON field carrying the canonical name. Dot
	// notation as for UUIDField. Optional.
	NameField string

	// NotFoundCodes are the HTTP statuses this source uses to signal
	// "no premium record". Any of them maps to StateOffline.
	NotFoundCodes []int

	// Timeout bounds one request. Defaults to DefaultSourceTimeout.
	Timeout time.Duration

	// RequestsPerMinute is the sliding-window budget. Defaults to
	// DefaultRequestsPerMinute.
	RequestsPerMinute int

	// Enabled toggles the source without removing its configuration.
	Enabled bool
}

func (c SourceConfig) validate() error {
	if c.Name == "" {
		return oops.Code("PREMIUM_SOURCE_INVALID").Errorf("source name is required")
	}
	if !strings.Contains(c.URL, "%s") {
		return oops.Code("PREMIUM_SOURCE_INVALID").
			With("source", c.Name).
			Errorf("source url must contain a %%s username placeholder")
	}
	if c.UUIDField == "" {
		return oops.Code("PREMIUM_SOURCE_INVALID").
			With("source", c.Name).
			Errorf("source uuid field is required")
	}
	return nil
}

// DefaultSources returns the standard authority chain: the Mojang profile
// API first, PlayerDB as fallback. Mojang signals not-found with 204 or
// 404 and returns the id undashed; PlayerDB nests the profile under
// data.player and dashes the id.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Name:          "mojang",
			URL:           mojangProfileURL,
			UUIDField:     "id",
			NameField:     "name",
			NotFoundCodes: []int{http.StatusNoContent, http.StatusNotFound},
			Enabled:       true,
		},
		{
			Name:          "playerdb",
			URL:           playerDBURL,
			UUIDField:     "data.player.id",
			NameField:     "data.player.username",
			NotFoundCodes: []int{http.StatusNotFound},
			Enabled:       true,
		},
	}
}

// extractField walks a dot-separated path through nested JSON objects and
// returns the string leaf, if any.
func extractField(body map[string]any, path string) (string, bool) {
	cur := any(body)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = obj[part]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
