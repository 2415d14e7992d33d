// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/commguard/commguard/internal/audit"
	"github.com/commguard/commguard/internal/config"
	"github.com/commguard/commguard/internal/observability"
	"github.com/commguard/commguard/pkg/errutil"
)

const (
	readinessTimeout = 2 * time.Second
	shutdownTimeout  = 10 * time.Second
)

type serveOptions struct {
	autoMigrate bool
}

func newServeCmd(deps *Deps) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the credential service process",
		Long: `Open the credential store, apply migrations, re-deliver audit events
left in the write-ahead log, and serve /metrics and health endpoints until
interrupted. Expired reset tokens are reclaimed with "reset purge".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, deps, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.autoMigrate, "migrate", true, "apply pending migrations on startup (postgres store)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, deps *Deps, opts *serveOptions) error {
	var a *app
	ready := func() bool {
		if a == nil {
			return false
		}
		if a.pool == nil {
			return true
		}
		return observability.PingReadiness(a.pool.Ping, readinessTimeout)()
	}

	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return err
	}
	if opts.autoMigrate && cfg.Database.Store == config.StorePostgres && deps.Store == nil {
		if err := withMigrator(cmd, deps, func(m migrator) error { return m.Up() }); err != nil {
			return err
		}
	}

	server := observability.NewServer(cfg.Metrics.Addr, ready, audit.Collectors()...)
	a, err = newApp(ctx, cmd.ErrOrStderr(), cfg, deps, server.Metrics())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.dispatcher.ReplayWAL(ctx); err != nil {
		errutil.LogErrorContext(ctx, a.logger, "audit WAL replay failed", err)
	}

	var serverErr <-chan error
	if cfg.Metrics.Addr != "" {
		if serverErr, err = server.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				errutil.LogError(a.logger, "observability server shutdown failed", err)
			}
		}()
	}

	a.logger.Info("commguard serving", "store", a.cfg.Database.Store, "metrics_addr", cfg.Metrics.Addr)
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok && err != nil {
			return err
		}
		<-ctx.Done()
	}
	a.logger.Info("shutting down")
	return nil
}
