// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Spendora OAuth authorization server.
package main

import (
	"os"

	"github.com/spendora/authserver/cmd/authserver/app"
	"github.com/spendora/authserver/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
