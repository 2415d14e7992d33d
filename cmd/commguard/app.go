// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/commguard/commguard/internal/audit"
	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/auth/memory"
	"github.com/commguard/commguard/internal/auth/postgres"
	"github.com/commguard/commguard/internal/config"
	"github.com/commguard/commguard/internal/logging"
	"github.com/commguard/commguard/internal/notify"
	"github.com/commguard/commguard/internal/store"
)

// app holds the runtime a command operates on.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	svc        *auth.Service
	store      auth.Store
	pool       *pgxpool.Pool
	dispatcher *audit.Dispatcher
}

// openApp loads configuration and wires the credential service for a
// one-shot command. observer may be nil.
func openApp(cmd *cobra.Command, deps *Deps, observer auth.Observer) (*app, error) {
	cfg, err := loadConfig(cmd, deps)
	if err != nil {
		return nil, err
	}
	// An in-memory store would start empty on every invocation.
	if cfg.Database.Store == config.StoreMemory && deps.Store == nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("field", "database.store").
			Errorf("%s requires the postgres store; the memory store does not persist between commands", cmd.CommandPath())
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return newApp(ctx, cmd.ErrOrStderr(), cfg, deps, observer)
}

// newApp wires the credential service for cfg, logging to logOut.
func newApp(ctx context.Context, logOut io.Writer, cfg *config.Config, deps *Deps, observer auth.Observer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.Setup("commguard", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), logOut),
	}
	if err := a.wire(ctx, deps, observer); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, deps *Deps, observer auth.Observer) error {
	var (
		credStore auth.Store
		writer    audit.Writer
	)
	switch {
	case deps.Store != nil:
		credStore = deps.Store
		writer = audit.NewLogSink(a.logger)
	case a.cfg.Database.Store == config.StoreMemory:
		a.logger.Warn("using in-memory credential store, accounts are lost on exit")
		credStore = memory.NewStore()
		writer = audit.NewLogSink(a.logger)
	default:
		pool, err := store.OpenPool(ctx, a.cfg.Database.URL, a.cfg.PoolOptions())
		if err != nil {
			return err
		}
		a.pool = pool
		credStore = postgres.NewStore(pool, postgres.WithRetry(uint64(a.cfg.Database.MaxRetries), postgres.DefaultRetryBackoff)) //nolint:gosec // validated non-negative
		writer = postgres.NewAuditWriter(pool)
	}

	a.store = credStore

	dispatcher, err := audit.NewDispatcher(a.cfg.AuditDispatcherConfig(), writer, a.logger)
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher

	var notifier auth.Notifier = notify.NewLogNotifier(a.logger)
	if a.cfg.SMTP.Host != "" {
		smtp, err := notify.NewSMTPNotifier(a.cfg.SMTPNotifierConfig(), a.logger)
		if err != nil {
			return err
		}
		notifier = smtp
	}

	hasher, err := auth.NewKDFHasher(a.cfg.HashParams())
	if err != nil {
		return err
	}
	opts, err := a.cfg.AuthOptions()
	if err != nil {
		return err
	}

	svc, err := auth.NewServiceWithLogger(auth.Dependencies{
		Store:    credStore,
		Hasher:   hasher,
		Audit:    dispatcher,
		Notifier: notifier,
		Observer: observer,
	}, opts, a.logger)
	if err != nil {
		return oops.Code("APP_WIRE_FAILED").Wrap(err)
	}
	a.svc = svc
	return nil
}

// Close flushes pending audit events and releases the database pool.
func (a *app) Close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.logger.Error("failed to close audit dispatcher", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
