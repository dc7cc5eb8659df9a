// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the authserver command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spendora/authserver/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "authserver",
	DisableAutoGenTag: true,
	Short:             "OAuth 2.0 authorization server for third-party Spendora integrations",
	Long: `authserver issues and redeems OAuth 2.0 authorization codes for third-party
applications integrating with the Spendora platform. It serves the authorization,
token and client-registration endpoints, backed by in-memory, SQLite or Redis
storage.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the authserver CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}
