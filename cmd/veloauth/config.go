// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/fR0Z863xF/VeloAuth/internal/config"
)

// defaultConfigPath is where config init writes when no path is given.
const defaultConfigPath = "veloauth.yaml"

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigCheckCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the built-in defaults",
		Long: `Write a config file with the built-in defaults. Refuses to overwrite
an existing file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := path
			if target == "" {
				target = configFile
			}
			if target == "" {
				target = defaultConfigPath
			}

			if err := config.WriteDefault(target); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "where to write the file (default: --config value or "+defaultConfigPath+")")

	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}
}
