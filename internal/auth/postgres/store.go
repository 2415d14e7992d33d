// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package postgres provides the PostgreSQL credential store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/commguard/commguard/internal/auth"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Default retry budget for transactions aborted by a serialization failure
// or deadlock.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 10 * time.Millisecond
)

// Store implements auth.Store on PostgreSQL. Repositories handed to
// WithinTx read with SELECT ... FOR UPDATE, so every record a transaction
// reads stays locked until it commits or rolls back.
type Store struct {
	pool       Pool
	maxRetries uint64
	backoff    time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetry sets how often a transaction aborted by the database is re-run.
func WithRetry(maxRetries uint64, backoff time.Duration) StoreOption {
	return func(s *Store) {
		s.maxRetries = maxRetries
		if backoff > 0 {
			s.backoff = backoff
		}
	}
}

// NewStore creates a Store.
func NewStore(pool Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool:       pool,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface checks.
var (
	_ auth.Store                   = (*Store)(nil)
	_ auth.AccountRepository       = (*AccountRepository)(nil)
	_ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
)

type repositories struct {
	accounts *AccountRepository
	resets   *PasswordResetRepository
}

func (r repositories) Accounts() auth.AccountRepository      { return r.accounts }
func (r repositories) Resets() auth.PasswordResetRepository { return r.resets }

// WithinTx runs fn in a transaction. Errors returned by fn are returned
// unchanged after rollback. A transaction aborted with a serialization
// failure or deadlock is re-run from the start.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.runTx(ctx, fn)
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dependency("STORE_TX_BEGIN_FAILED", "begin transaction", err)
	}

	repos := repositories{
		accounts: &AccountRepository{q: tx},
		resets:   &PasswordResetRepository{q: tx},
	}
	if err := fn(ctx, repos); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // fn error takes precedence
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return dependency("STORE_TX_COMMIT_FAILED", "commit transaction", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// dependency wraps a database failure so it classifies as auth.KindDependency.
func dependency(code, operation string, err error) error {
	return oops.Code(code).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", auth.ErrDependency, err))
}
