// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/internal/auth/postgres"
	"github.com/fR0Z863xF/VeloAuth/internal/config"
	"github.com/fR0Z863xF/VeloAuth/internal/observability"
	"github.com/fR0Z863xF/VeloAuth/internal/premium"
	"github.com/fR0Z863xF/VeloAuth/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ConfigLoader builds the effective configuration.
	// Default: config.Load
	ConfigLoader func(path string, flags *pflag.FlagSet) (config.Config, error)

	// MigratorFactory creates the startup migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// AutoMigrateGetter reports whether startup migrations run.
	// Default: reads VELOAUTH_AUTO_MIGRATE (unset means true)
	AutoMigrateGetter func() bool

	// StoreOpener connects the player store. The returned func releases
	// the underlying pool.
	// Default: store.NewPool + postgres.NewPlayerStore
	StoreOpener func(ctx context.Context, cfg store.PoolConfig) (auth.PlayerStore, func(), error)

	// ResolverFactory creates the premium identity resolver.
	// Default: premium.NewHTTPResolver
	ResolverFactory func(sources []premium.SourceConfig, reg prometheus.Registerer) (premium.Resolver, error)

	// ObservabilityServerFactory creates the metrics/health/admin server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, registry *prometheus.Registry, ready observability.ReadinessChecker, admin http.Handler) ObservabilityServer
}

// AutoMigrator wraps the methods the serve command uses from store.Migrator.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// applyDefaults fills nil fields with the production implementations.
func (d *ServeDeps) applyDefaults() {
	if d.ConfigLoader == nil {
		d.ConfigLoader = config.Load
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if d.AutoMigrateGetter == nil {
		d.AutoMigrateGetter = autoMigrateEnabled
	}
	if d.StoreOpener == nil {
		d.StoreOpener = func(ctx context.Context, cfg store.PoolConfig) (auth.PlayerStore, func(), error) {
			pool, err := store.NewPool(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return postgres.NewPlayerStore(pool), pool.Close, nil
		}
	}
	if d.ResolverFactory == nil {
		d.ResolverFactory = func(sources []premium.SourceConfig, reg prometheus.Registerer) (premium.Resolver, error) {
			return premium.NewHTTPResolver(sources, reg)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, registry *prometheus.Registry, ready observability.ReadinessChecker, admin http.Handler) ObservabilityServer {
			return observability.NewServer(addr, registry, ready, admin)
		}
	}
}
