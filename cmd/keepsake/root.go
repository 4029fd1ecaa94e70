// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/keepsake/keepsake/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Keepsake CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keepsake",
		Short: "Keepsake - keep one secret behind a login",
		Long: `Keepsake authenticates users with a local password or a federated
provider and guards a per-user secret behind a server-tracked session.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configPath returns --config, or the XDG default file when the flag is unset.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if path, ok := xdg.DefaultConfigFile(); ok {
		return path
	}
	return ""
}
