// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fR0Z863xF/VeloAuth/internal/audit"
	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/internal/config"
	"github.com/fR0Z863xF/VeloAuth/internal/gate"
	"github.com/fR0Z863xF/VeloAuth/internal/logging"
	"github.com/fR0Z863xF/VeloAuth/internal/observability"
	"github.com/fR0Z863xF/VeloAuth/internal/premium"
	"github.com/fR0Z863xF/VeloAuth/internal/store"
)

// shutdownTimeout bounds the graceful stop of the observability server.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization decision daemon",
		Long: `Run the authorization decision daemon: connect to PostgreSQL, apply
pending schema migrations, and serve metrics, health probes, and the
admin API until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Dotted flag names override the matching config file keys.
	defaults := config.Default()
	cmd.Flags().String("log.level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health/admin listen address (empty = disabled)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")

	return cmd
}

// runServeWithDeps starts the daemon with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	cfg, err := deps.ConfigLoader(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("veloauth", version, cfg.Log.Format, cfg.Log.Level)

	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database url is required (set DATABASE_URL or database.url)")
	}

	slog.Info("starting veloauth",
		"version", version,
		"metrics_addr", cfg.Metrics.Addr,
		"admin_enabled", cfg.Admin.Enabled,
	)

	if deps.AutoMigrateGetter() {
		if err := autoMigrate(deps, cfg.Database.URL); err != nil {
			return err
		}
	} else {
		slog.Info("startup migrations disabled")
	}

	playerStore, closeStore, err := deps.StoreOpener(ctx, store.PoolConfig{DSN: cfg.Database.URL})
	if err != nil {
		return err
	}
	defer closeStore()

	slog.Info("connected to database")

	registry := prometheus.NewRegistry()

	hasher, err := auth.NewBcryptHasher(cfg.Passwords.BcryptCost)
	if err != nil {
		return err
	}

	authorized := auth.NewAuthorizationCache(auth.AuthCacheConfig{
		TTL:             cfg.AuthCache.TTL.Std(),
		MaxSize:         cfg.AuthCache.MaxSize,
		CleanupInterval: cfg.AuthCache.CleanupInterval.Std(),
		IPPinning:       cfg.AuthCache.IPPinning,
	}, registry)
	defer authorized.Close()

	sessions := auth.NewSessionRegistry(auth.SessionRegistryConfig{
		Timeout:       cfg.Sessions.Timeout.Std(),
		MaxConcurrent: cfg.Sessions.MaxConcurrent,
	})
	defer sessions.Close()

	guard := auth.NewBruteForceGuard(auth.BruteForceGuardConfig{
		MaxAttempts:   cfg.BruteForce.MaxAttempts,
		LockoutWindow: cfg.BruteForce.LockoutWindow.Std(),
	}, registry)

	limiter := auth.NewAddressLimiter(auth.AddressLimiterConfig{
		AttemptsPerMinute: cfg.RateLimit.PerAddressPerMinute,
		CleanupInterval:   cfg.RateLimit.CleanupInterval.Std(),
		IdleEviction:      cfg.RateLimit.IdleEviction.Std(),
	}, registry)
	defer limiter.Close()

	resolver, err := deps.ResolverFactory(premiumSources(cfg.Premium.Sources), registry)
	if err != nil {
		return err
	}

	statusCache := premium.NewStatusCache(resolver,
		premium.WithTTL(cfg.Premium.TTL.Std()),
		premium.WithRefreshThreshold(cfg.Premium.RefreshThreshold),
		premium.WithMaxEntries(cfg.Premium.MaxSize),
		premium.WithWorkers(cfg.Premium.RefreshWorkers),
		premium.WithQueueSize(cfg.Premium.RefreshQueueSize),
		premium.WithRegistry(registry),
	)
	defer statusCache.Close()

	commands, err := gate.NewCommandGate(cfg.Commands.PreAuthAllowlist)
	if err != nil {
		return err
	}

	var screen gate.AddressScreen
	if cfg.Geo.DatabasePath != "" {
		geo, err := gate.NewGeoScreen(geoConfig(cfg.Geo), registry)
		if err != nil {
			return err
		}
		defer func() {
			if err := geo.Close(); err != nil {
				slog.Warn("error closing geo database", "error", err)
			}
		}()
		screen = geo
		slog.Info("geographic screening enabled", "mode", cfg.Geo.Mode, "countries", len(cfg.Geo.Countries))
	}

	recorder := audit.NewLogRecorder(slog.Default(), 0, registry)
	defer func() {
		if err := recorder.Close(); err != nil {
			slog.Warn("error draining audit recorder", "error", err)
		}
	}()

	engine, err := gate.NewEngine(gate.Config{
		MinPasswordLength: cfg.Passwords.MinLength,
		MaxPasswordLength: cfg.Passwords.MaxLength,
	}, gate.Deps{
		Store:      playerStore,
		Hasher:     hasher,
		Authorized: authorized,
		Sessions:   sessions,
		Guard:      guard,
		Limiter:    limiter,
		Premium:    statusCache,
		Commands:   commands,
		Geo:        screen,
		Audit:      recorder,
	}, registry)
	if err != nil {
		return err
	}

	var adminHandler http.Handler
	if cfg.Admin.Enabled {
		tokens, err := observability.NewTokenManager(observability.TokenConfig{
			Secret: []byte(cfg.Admin.TokenSecret),
			Issuer: cfg.Admin.Issuer,
			TTL:    cfg.Admin.TokenTTL.Std(),
		})
		if err != nil {
			return err
		}
		api, err := observability.NewAdminAPI(engine, statusCache, tokens, registry)
		if err != nil {
			return err
		}
		adminHandler = api.Handler()
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obs ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obs = deps.ObservabilityServerFactory(cfg.Metrics.Addr, registry, engine.Ready, adminHandler)
		obsErrChan, err := obs.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").
				With("addr", cfg.Metrics.Addr).
				Wrap(err)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obs.Addr())
	}

	engine.SetReady()

	cmd.Println("veloauth ready")
	slog.Info("decision engine ready")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Deny new decisions before anything is torn down.
	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obs != nil {
		if err := obs.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// autoMigrate applies pending schema migrations before the pool opens.
func autoMigrate(deps *ServeDeps, databaseURL string) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			slog.Warn("error closing migrator", "error", err)
		}
	}()

	slog.Info("applying schema migrations")
	return migrator.Up()
}

// autoMigrateEnabled reports whether startup migrations run. Operators who
// migrate out of band set VELOAUTH_AUTO_MIGRATE=false.
func autoMigrateEnabled() bool {
	v := os.Getenv("VELOAUTH_AUTO_MIGRATE")
	if v == "" {
		return true
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid VELOAUTH_AUTO_MIGRATE value, migrations stay enabled", "value", v)
		return true
	}
	return enabled
}

// premiumSources maps config sources onto resolver sources.
func premiumSources(sources []config.Source) []premium.SourceConfig {
	out := make([]premium.SourceConfig, 0, len(sources))
	for _, s := range sources {
		out = append(out, premium.SourceConfig{
			Name:              s.Name,
			URL:               s.URL,
			UUIDField:         s.UUIDField,
			NameField:         s.NameField,
			NotFoundCodes:     s.NotFoundCodes,
			Timeout:           s.Timeout.Std(),
			RequestsPerMinute: s.RequestsPerMinute,
			Enabled:           s.Enabled,
		})
	}
	return out
}

// geoConfig maps the config file's mode plus country list onto the
// screen's allow/block pair.
func geoConfig(geo config.Geo) gate.GeoConfig {
	cfg := gate.GeoConfig{DatabasePath: geo.DatabasePath}
	if geo.Mode == "allow" {
		cfg.AllowedCountries = geo.Countries
	} else {
		cfg.BlockedCountries = geo.Countries
	}
	return cfg
}

// monitorServerErrors watches a server's error channel and cancels the
// context on failure so the whole process shuts down. It exits when an
// error arrives, the channel closes, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
