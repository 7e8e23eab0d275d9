// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"fmt"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/fR0Z863xF/VeloAuth/internal/config"
	"github.com/fR0Z863xF/VeloAuth/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema migrations",
		Long: `Apply, roll back, and inspect the PostgreSQL schema migrations.

The database URL comes from the config file or the DATABASE_URL
environment variable.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("schema is up to date")
				return nil
			}

			if err := m.Up(); err != nil {
				return err
			}
			for _, v := range pending {
				cmd.Printf("applied %s\n", migrationLabel(v))
			}
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return oops.Code("CONFIG_INVALID").With("steps", steps).
					Errorf("steps must be positive")
			}

			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if err := m.Steps(-steps); err != nil {
				return err
			}
			cmd.Printf("rolled back %d migration(s)\n", steps)
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if version == 0 {
				cmd.Println("schema version: none")
			} else {
				cmd.Printf("schema version: %d (%s)\n", version, migrationLabel(version))
			}
			if dirty {
				cmd.Println("schema is dirty; resolve manually and use 'migrate force'")
			}

			applied, err := m.AppliedMigrations()
			if err != nil {
				return err
			}
			for _, v := range applied {
				cmd.Printf("applied:  %s\n", migrationLabel(v))
			}

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			for _, v := range pending {
				cmd.Printf("pending:  %s\n", migrationLabel(v))
			}
			if len(pending) == 0 {
				cmd.Println("schema is up to date")
			}
			return nil
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version without running migrations",
		Long: `Force the recorded schema version without running any migrations.
Use after resolving a dirty schema state by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}

			m, err := openMigrator()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("schema version forced to %d\n", version)
			return nil
		},
	}
}

// migrationLabel renders a version with its name when the embedded
// sources know it.
func migrationLabel(version uint) string {
	name, err := store.MigrationName(version)
	if err != nil || name == "" {
		return fmt.Sprintf("%06d", version)
	}
	return name
}

// parseForceVersion parses a version argument. Sscanf skips leading
// whitespace and stops at the first non-digit.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).
			Errorf("version must be an integer")
	}
	return version, nil
}

// getDatabaseURL resolves the database URL from the config file and the
// DATABASE_URL environment variable.
func getDatabaseURL() (string, error) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("database url is required (set DATABASE_URL or database.url)")
	}
	return cfg.Database.URL, nil
}

func openMigrator() (*store.Migrator, error) {
	databaseURL, err := getDatabaseURL()
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(databaseURL)
}

func closeMigrator(m *store.Migrator) {
	if err := m.Close(); err != nil {
		slog.Warn("error closing migrator", "error", err)
	}
}
