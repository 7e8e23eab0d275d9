// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package gate

import (
	"errors"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

// stubCountrySource resolves addresses from a fixed map instead of a
// MaxMind database.
type stubCountrySource struct {
	countries map[string]string
	err       error
}

func (s *stubCountrySource) Country(ip net.IP) (*geoip2.Country, error) {
	if s.err != nil {
		return nil, s.err
	}
	record := &geoip2.Country{}
	record.Country.IsoCode = s.countries[ip.String()]
	return record, nil
}

func TestGeoScreen_BlockedCountries(t *testing.T) {
	source := &stubCountrySource{countries: map[string]string{
		"198.51.100.1": "KP",
		"203.0.113.7":  "SE",
	}}
	s := newGeoScreen(source, GeoConfig{BlockedCountries: []string{"kp"}}, nil)

	allowed, country := s.Screen("198.51.100.1")
	assert.False(t, allowed)
	assert.Equal(t, "KP", country, "country codes normalize to upper case")

	allowed, country = s.Screen("203.0.113.7")
	assert.True(t, allowed)
	assert.Equal(t, "SE", country)
}

func TestGeoScreen_AllowedCountries(t *testing.T) {
	source := &stubCountrySource{countries: map[string]string{
		"198.51.100.1": "US",
		"203.0.113.7":  "SE",
	}}
	s := newGeoScreen(source, GeoConfig{AllowedCountries: []string{"SE", " no "}}, nil)

	allowed, _ := s.Screen("203.0.113.7")
	assert.True(t, allowed)

	allowed, country := s.Screen("198.51.100.1")
	assert.False(t, allowed)
	assert.Equal(t, "US", country)
}

func TestGeoScreen_FailuresAllow(t *testing.T) {
	t.Run("unparseable address", func(t *testing.T) {
		s := newGeoScreen(&stubCountrySource{}, GeoConfig{BlockedCountries: []string{"KP"}}, nil)
		allowed, country := s.Screen("not-an-ip")
		assert.True(t, allowed)
		assert.Empty(t, country)
	})

	t.Run("lookup error", func(t *testing.T) {
		source := &stubCountrySource{err: errors.New("corrupt database")}
		s := newGeoScreen(source, GeoConfig{BlockedCountries: []string{"KP"}}, nil)
		allowed, country := s.Screen("198.51.100.1")
		assert.True(t, allowed)
		assert.Empty(t, country)
	})

	t.Run("unknown country", func(t *testing.T) {
		s := newGeoScreen(&stubCountrySource{countries: map[string]string{}}, GeoConfig{AllowedCountries: []string{"SE"}}, nil)
		allowed, country := s.Screen("198.51.100.1")
		assert.True(t, allowed, "an address without a country resolution passes even an allowlist")
		assert.Empty(t, country)
	})
}

func TestGeoScreen_NoListsAllowEverything(t *testing.T) {
	source := &stubCountrySource{countries: map[string]string{"198.51.100.1": "KP"}}
	s := newGeoScreen(source, GeoConfig{}, nil)
	allowed, country := s.Screen("198.51.100.1")
	assert.True(t, allowed)
	assert.Equal(t, "KP", country)
}

func TestNewGeoScreen_MissingDatabase(t *testing.T) {
	_, err := NewGeoScreen(GeoConfig{DatabasePath: "/nonexistent/country.mmdb"}, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "GATE_GEO_DB_OPEN_FAILED")
}

func TestGeoScreen_CloseWithoutReader(t *testing.T) {
	s := newGeoScreen(&stubCountrySource{}, GeoConfig{}, nil)
	assert.NoError(t, s.Close())
}
