// SPDX-FileCopyrightText: Copyright 2026 Spendora, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spendora/authserver/pkg/authserver"
	"github.com/spendora/authserver/pkg/logger"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must exceed the middleware request timeout
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Long: `Start the OAuth authorization server.

The session secret for validating platform user sessions is read from the
AUTHSERVER_SESSION_SECRET environment variable unless --local-user is set.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("storage", "memory", "Storage backend: memory, sqlite or redis")
	cmd.Flags().String("sqlite-path", "", "Database path for the sqlite backend")
	cmd.Flags().String("redis-addr", "", "Redis host:port for the redis backend")
	cmd.Flags().String("redis-username", "", "Redis ACL username")
	cmd.Flags().String("redis-password", "", "Redis ACL password")
	cmd.Flags().Int("redis-db", 0, "Redis logical database")
	cmd.Flags().String("local-user", "", "Bypass session auth and act as this user (development only)")
	cmd.Flags().String("session-issuer", "", "Required issuer of platform session tokens")
	cmd.Flags().String("session-audience", "", "Required audience of platform session tokens")

	for _, flag := range []string{
		"address", "storage", "sqlite-path", "redis-addr", "redis-username",
		"redis-password", "redis-db", "local-user", "session-issuer", "session-audience",
	} {
		if err := viper.BindPFlag(flag, cmd.Flags().Lookup(flag)); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", flag, err)
		}
	}

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := &authserver.Config{
		ListenAddress:   viper.GetString("address"),
		SessionSecret:   []byte(os.Getenv("AUTHSERVER_SESSION_SECRET")),
		SessionIssuer:   viper.GetString("session-issuer"),
		SessionAudience: viper.GetString("session-audience"),
		LocalUser:       viper.GetString("local-user"),
		Storage: authserver.StorageConfig{
			Backend:    viper.GetString("storage"),
			SQLitePath: viper.GetString("sqlite-path"),
		},
	}
	cfg.Storage.Redis.Addr = viper.GetString("redis-addr")
	cfg.Storage.Redis.Username = viper.GetString("redis-username")
	cfg.Storage.Redis.Password = viper.GetString("redis-password")
	cfg.Storage.Redis.DB = viper.GetInt("redis-db")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.LocalUser != "" {
		logger.Warnf("Running with --local-user=%s; all requests act as this user", cfg.LocalUser)
	}

	store, err := authserver.NewStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close storage: %v", err)
		}
	}()

	router, err := authserver.NewRouter(logger.Get(), store, cfg, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go authserver.RunJanitor(janitorCtx, logger.Get(), store, 0)

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s (storage: %s)", cfg.ListenAddress, cfg.Storage.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
