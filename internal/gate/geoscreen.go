// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"log/slog"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// AddressScreen screens connecting addresses before authentication. Screen
// returns whether the address may proceed and the country code it resolved
// to, when known.
type AddressScreen interface {
	Screen(ip string) (allowed bool, country string)
}

// GeoConfig configures the geographic screen.
type GeoConfig struct {
	// DatabasePath locates the MaxMind country database. Empty disables
	// the screen entirely.
	DatabasePath string

	// AllowedCountries, when non-empty, admits only the listed ISO
	// country codes.
	AllowedCountries []string

	// BlockedCountries denies the listed ISO country codes. Applied
	// before the allowlist.
	BlockedCountries []string
}

// countrySource is the subset of geoip2.Reader the screen needs.
type countrySource interface {
	Country(ip net.IP) (*geoip2.Country, error)
}

// GeoScreen screens addresses by country of origin. The screen is
// advisory about its own health: an address that cannot be resolved, or a
// lookup that fails, is allowed through rather than blocking players on
// database trouble. Only a positive country match denies.
type GeoScreen struct {
	source  countrySource
	reader  *geoip2.Reader
	allowed map[string]bool
	blocked map[string]bool

	blocks *prometheus.CounterVec
}

var _ AddressScreen = (*GeoScreen)(nil)

// NewGeoScreen opens the country database and compiles the country lists.
// reg may be nil to skip metrics registration. Call Close to release the
// database.
func NewGeoScreen(cfg GeoConfig, reg prometheus.Registerer) (*GeoScreen, error) {
	reader, err := geoip2.Open(cfg.DatabasePath)
	if err != nil {
		return nil, oops.Code("GATE_GEO_DB_OPEN_FAILED").
			With("path", cfg.DatabasePath).
			Wrap(err)
	}

	s := newGeoScreen(reader, cfg, reg)
	s.reader = reader
	return s, nil
}

// newGeoScreen wires a screen around any country source. Tests use it to
// inject a stub without a database file.
func newGeoScreen(source countrySource, cfg GeoConfig, reg prometheus.Registerer) *GeoScreen {
	s := &GeoScreen{
		source:  source,
		allowed: countrySet(cfg.AllowedCountries),
		blocked: countrySet(cfg.BlockedCountries),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veloauth_geo_blocks_total",
			Help: "Connections denied by the geographic screen",
		}, []string{"country"}),
	}
	if reg != nil {
		reg.MustRegister(s.blocks)
	}
	return s
}

// Screen resolves the address's country and applies the configured lists.
func (s *GeoScreen) Screen(ip string) (bool, string) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true, ""
	}

	record, err := s.source.Country(parsed)
	if err != nil {
		slog.Debug("geo lookup failed, allowing", "ip", ip, "error", err)
		return true, ""
	}

	country := record.Country.IsoCode
	if country == "" {
		return true, ""
	}
	if s.blocked[country] {
		s.blocks.WithLabelValues(country).Inc()
		return false, country
	}
	if len(s.allowed) > 0 && !s.allowed[country] {
		s.blocks.WithLabelValues(country).Inc()
		return false, country
	}
	return true, country
}

// Close releases the underlying database.
func (s *GeoScreen) Close() error {
	if s.reader == nil {
		return nil
	}
	return s.reader.Close()
}

func countrySet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			set[c] = true
		}
	}
	return set
}
