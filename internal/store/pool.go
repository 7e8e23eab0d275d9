// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

// Package store provides the PostgreSQL pool bootstrap and schema
// migrations backing the registration store.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxConns bounds the pool. Decision checks are short point
	// queries, so a small pool suffices.
	DefaultMaxConns = 10

	// DefaultConnectTimeout bounds the startup reachability probe.
	DefaultConnectTimeout = 10 * time.Second

	pingBackoff = 500 * time.Millisecond
	pingRetries = 4
)

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	// DSN is the postgres:// connection string.
	DSN string

	// MaxConns caps pooled connections. Defaults to DefaultMaxConns.
	MaxConns int32

	// MinConns keeps that many connections warm. Defaults to zero.
	MinConns int32

	// MaxConnLifetime recycles long-lived connections when positive.
	MaxConnLifetime time.Duration

	// ConnectTimeout bounds the reachability probe in NewPool. Defaults
	// to DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// NewPool opens a connection pool and verifies the database answers before
// returning. The probe retries with a short backoff so a daemon racing its
// database at boot does not fail spuriously.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	cfg = cfg.withDefaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, oops.Code("STORE_DSN_INVALID").
			With("operation", "parse pool config").
			Wrap(err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("STORE_POOL_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	backoff := retry.WithMaxRetries(pingRetries, retry.NewConstant(pingBackoff))
	err = retry.Do(pingCtx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_UNREACHABLE").
			With("operation", "ping database").
			Wrap(err)
	}
	return pool, nil
}
