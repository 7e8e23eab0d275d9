// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package config loads and validates the VeloAuth daemon configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML config file,
// command line flags. The DATABASE_URL and VELOAUTH_ADMIN_SECRET environment
// variables override their file counterparts so secrets never have to live
// in the config file; a .env file in the working directory is honored.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Duration wraps time.Duration so config files round-trip values like "24h"
// instead of raw nanosecond counts.
type Duration time.Duration

// String returns the value in time.Duration notation.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a time.Duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("value", string(b)).Wrap(err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML emits the value in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full daemon configuration tree.
type Config struct {
	Log        Log        `koanf:"log" yaml:"log"`
	Database   Database   `koanf:"database" yaml:"database"`
	AuthCache  AuthCache  `koanf:"auth_cache" yaml:"auth_cache"`
	Sessions   Sessions   `koanf:"sessions" yaml:"sessions"`
	Premium    Premium    `koanf:"premium" yaml:"premium"`
	BruteForce BruteForce `koanf:"brute_force" yaml:"brute_force"`
	RateLimit  RateLimit  `koanf:"rate_limit" yaml:"rate_limit"`
	Passwords  Passwords  `koanf:"passwords" yaml:"passwords"`
	Commands   Commands   `koanf:"commands" yaml:"commands"`
	Geo        Geo        `koanf:"geo" yaml:"geo"`
	Admin      Admin      `koanf:"admin" yaml:"admin"`
	Metrics    Metrics    `koanf:"metrics" yaml:"metrics"`
}

// Log configures the structured logger.
type Log struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// Database configures the persistence collaborator.
type Database struct {
	URL string `koanf:"url" yaml:"url"`
}

// AuthCache configures the authorization cache.
type AuthCache struct {
	TTL             Duration `koanf:"ttl" yaml:"ttl"`
	MaxSize         int      `koanf:"max_size" yaml:"max_size"`
	CleanupInterval Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
	IPPinning       bool     `koanf:"ip_pinning" yaml:"ip_pinning"`
}

// Sessions configures the session registry.
type Sessions struct {
	Timeout       Duration `koanf:"timeout" yaml:"timeout"`
	MaxConcurrent int      `koanf:"max_concurrent" yaml:"max_concurrent"`
}

// Premium configures the premium status cache and identity resolver.
type Premium struct {
	TTL              Duration `koanf:"ttl" yaml:"ttl"`
	RefreshThreshold float64  `koanf:"refresh_threshold" yaml:"refresh_threshold"`
	MaxSize          int      `koanf:"max_size" yaml:"max_size"`
	RefreshWorkers   int      `koanf:"refresh_workers" yaml:"refresh_workers"`
	RefreshQueueSize int      `koanf:"refresh_queue_size" yaml:"refresh_queue_size"`
	Sources          []Source `koanf:"sources" yaml:"sources"`
}

// Source configures one identity authority endpoint.
type Source struct {
	Name              string   `koanf:"name" yaml:"name"`
	URL               string   `koanf:"url" yaml:"url"`
	UUIDField         string   `koanf:"uuid_field" yaml:"uuid_field"`
	NameField         string   `koanf:"name_field" yaml:"name_field"`
	NotFoundCodes     []int    `koanf:"not_found_codes" yaml:"not_found_codes"`
	Timeout           Duration `koanf:"timeout" yaml:"timeout"`
	RequestsPerMinute int      `koanf:"requests_per_minute" yaml:"requests_per_minute"`
	Enabled           bool     `koanf:"enabled" yaml:"enabled"`
}

// BruteForce configures the failed-login guard.
type BruteForce struct {
	MaxAttempts   int      `koanf:"max_attempts" yaml:"max_attempts"`
	LockoutWindow Duration `koanf:"lockout_window" yaml:"lockout_window"`
}

// RateLimit configures the pre-authentication per-address limiter.
type RateLimit struct {
	PerAddressPerMinute int      `koanf:"per_address_per_minute" yaml:"per_address_per_minute"`
	CleanupInterval     Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
	IdleEviction        Duration `koanf:"idle_eviction" yaml:"idle_eviction"`
}

// Passwords configures credential bounds handed to the engine.
type Passwords struct {
	MinLength  int `koanf:"min_length" yaml:"min_length"`
	MaxLength  int `koanf:"max_length" yaml:"max_length"`
	BcryptCost int `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// Commands configures the pre-authentication command gate.
type Commands struct {
	PreAuthAllowlist []string `koanf:"pre_auth_allowlist" yaml:"pre_auth_allowlist"`
}

// Geo configures the optional pre-authentication country screen.
// The screen stays disabled while DatabasePath is empty.
type Geo struct {
	DatabasePath string   `koanf:"database_path" yaml:"database_path"`
	Mode         string   `koanf:"mode" yaml:"mode"`
	Countries    []string `koanf:"countries" yaml:"countries"`
}

// Admin configures the JWT-protected admin API.
type Admin struct {
	Enabled     bool     `koanf:"enabled" yaml:"enabled"`
	TokenSecret string   `koanf:"token_secret" yaml:"token_secret"`
	TokenTTL    Duration `koanf:"token_ttl" yaml:"token_ttl"`
	Issuer      string   `koanf:"issuer" yaml:"issuer"`
}

// Metrics configures the observability HTTP server.
type Metrics struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Default returns the built-in configuration. Values mirror the documented
// defaults of the decision engine: 24h premium TTL with a 0.8 refresh
// threshold, 60 resolver requests per source per minute, 400ms authority
// timeout, 5 failed logins before a 15 minute lockout.
func Default() Config {
	return Config{
		Log: Log{
			Format: "json",
			Level:  "info",
		},
		Database: Database{},
		AuthCache: AuthCache{
			TTL:             Duration(1 * time.Hour),
			MaxSize:         10000,
			CleanupInterval: Duration(5 * time.Minute),
			IPPinning:       true,
		},
		Sessions: Sessions{
			Timeout:       Duration(30 * time.Minute),
			MaxConcurrent: 2,
		},
		Premium: Premium{
			TTL:              Duration(24 * time.Hour),
			RefreshThreshold: 0.8,
			MaxSize:          10000,
			RefreshWorkers:   2,
			RefreshQueueSize: 256,
			Sources: []Source{
				{
					Name:              "mojang",
					URL:               "https://api.mojang.com/users/profiles/minecraft/%s",
					UUIDField:         "id",
					NameField:         "name",
					NotFoundCodes:     []int{204, 404},
					Timeout:           Duration(400 * time.Millisecond),
					RequestsPerMinute: 60,
					Enabled:           true,
				},
				{
					Name:              "ashcon",
					URL:               "https://api.ashcon.app/mojang/v2/user/%s",
					UUIDField:         "uuid",
					NameField:         "username",
					NotFoundCodes:     []int{404},
					Timeout:           Duration(400 * time.Millisecond),
					RequestsPerMinute: 60,
					Enabled:           false,
				},
			},
		},
		BruteForce: BruteForce{
			MaxAttempts:   5,
			LockoutWindow: Duration(15 * time.Minute),
		},
		RateLimit: RateLimit{
			PerAddressPerMinute: 10,
			CleanupInterval:     Duration(5 * time.Minute),
			IdleEviction:        Duration(10 * time.Minute),
		},
		Passwords: Passwords{
			MinLength:  6,
			MaxLength:  64,
			BcryptCost: 12,
		},
		Commands: Commands{
			PreAuthAllowlist: []string{"login", "register", "l", "reg", "changepassword"},
		},
		Geo: Geo{
			Mode: "deny",
		},
		Admin: Admin{
			TokenTTL: Duration(1 * time.Hour),
			Issuer:   "veloauth",
		},
		Metrics: Metrics{
			Addr: "127.0.0.1:9100",
		},
	}
}

// Load builds the effective configuration. path may be empty (defaults only)
// and flags may be nil. Flags registered with dotted names ("log.level")
// override matching file keys.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	// Secrets may come from a .env file during development. A missing file
	// is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").With("path", path).Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("VELOAUTH_ADMIN_SECRET"); v != "" {
		cfg.Admin.TokenSecret = v
	}

	return cfg, nil
}

// Validate checks cross-field invariants. It is called once at startup;
// a failure is fatal, never deferred to request time.
func (c Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("log_format", c.Log.Format).
			Errorf("log format must be json or text")
	}
	if c.AuthCache.TTL <= 0 || c.AuthCache.MaxSize <= 0 || c.AuthCache.CleanupInterval <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("auth_cache ttl, max_size and cleanup_interval must be positive")
	}
	if c.Sessions.Timeout <= 0 || c.Sessions.MaxConcurrent <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("sessions timeout and max_concurrent must be positive")
	}
	if c.Premium.TTL <= 0 || c.Premium.MaxSize <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("premium ttl and max_size must be positive")
	}
	if c.Premium.RefreshThreshold <= 0 || c.Premium.RefreshThreshold > 1 {
		return oops.Code("CONFIG_INVALID").With("refresh_threshold", c.Premium.RefreshThreshold).
			Errorf("premium refresh_threshold must be in (0, 1]")
	}
	if c.Premium.RefreshWorkers <= 0 || c.Premium.RefreshQueueSize <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("premium refresh_workers and refresh_queue_size must be positive")
	}
	for _, s := range c.Premium.Sources {
		if s.Name == "" || s.URL == "" {
			return oops.Code("CONFIG_INVALID").
				Errorf("premium source name and url are required")
		}
		if s.UUIDField == "" || s.NameField == "" {
			return oops.Code("CONFIG_INVALID").With("source", s.Name).
				Errorf("premium source uuid_field and name_field are required")
		}
		if s.Timeout <= 0 {
			return oops.Code("CONFIG_INVALID").With("source", s.Name).
				Errorf("premium source timeout must be positive")
		}
		if s.RequestsPerMinute <= 0 {
			return oops.Code("CONFIG_INVALID").With("source", s.Name).
				Errorf("premium source requests_per_minute must be positive")
		}
	}
	if c.BruteForce.MaxAttempts <= 0 || c.BruteForce.LockoutWindow <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("brute_force max_attempts and lockout_window must be positive")
	}
	if c.RateLimit.PerAddressPerMinute <= 0 || c.RateLimit.CleanupInterval <= 0 || c.RateLimit.IdleEviction <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("rate_limit settings must be positive")
	}
	if c.Passwords.MinLength <= 0 || c.Passwords.MaxLength < c.Passwords.MinLength {
		return oops.Code("CONFIG_INVALID").
			Errorf("passwords min_length must be positive and max_length >= min_length")
	}
	if c.Passwords.BcryptCost < 4 || c.Passwords.BcryptCost > 31 {
		return oops.Code("CONFIG_INVALID").With("bcrypt_cost", c.Passwords.BcryptCost).
			Errorf("passwords bcrypt_cost must be between 4 and 31")
	}
	if c.Geo.Mode != "allow" && c.Geo.Mode != "deny" {
		return oops.Code("CONFIG_INVALID").With("geo_mode", c.Geo.Mode).
			Errorf("geo mode must be allow or deny")
	}
	if c.Geo.DatabasePath != "" && c.Geo.Mode == "allow" && len(c.Geo.Countries) == 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("geo allow mode requires a non-empty country list")
	}
	if c.Admin.Enabled && c.Admin.TokenSecret == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("admin api requires a token secret (VELOAUTH_ADMIN_SECRET)")
	}
	if c.Admin.Enabled && c.Admin.TokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			Errorf("admin token_ttl must be positive")
	}
	return nil
}
