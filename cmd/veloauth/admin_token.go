// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fR0Z863xF/VeloAuth/internal/config"
	"github.com/fR0Z863xF/VeloAuth/internal/observability"
)

// NewAdminTokenCmd creates the admin-token subcommand.
func NewAdminTokenCmd() *cobra.Command {
	var (
		actor string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin API",
		Long: `Mint a signed bearer token for the admin HTTP API.

The signing secret comes from the config file or the
VELOAUTH_ADMIN_SECRET environment variable. The actor name is recorded
in the audit trail for every admin action performed with the token.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			if cfg.Admin.TokenSecret == "" {
				return oops.Code("CONFIG_INVALID").
					Errorf("admin token secret is required (set VELOAUTH_ADMIN_SECRET)")
			}

			tokenTTL := cfg.Admin.TokenTTL.Std()
			if ttl > 0 {
				tokenTTL = ttl
			}

			manager, err := observability.NewTokenManager(observability.TokenConfig{
				Secret: []byte(cfg.Admin.TokenSecret),
				Issuer: cfg.Admin.Issuer,
				TTL:    tokenTTL,
			})
			if err != nil {
				return err
			}

			token, err := manager.Mint(actor)
			if err != nil {
				return err
			}

			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "operator name recorded in the audit trail (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: admin.token_ttl from config)")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}
