// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package memory provides an in-memory auth.Store for tests and local runs.
package memory

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
)

// Store is an in-memory auth.Store. Transactions are fully serialized: a
// single mutex is held for the whole of WithinTx, and writes are staged on a
// copy of the data that replaces the committed state only when fn succeeds.
type Store struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	resets   map[ulid.ULID]*auth.PasswordReset
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		resets:   make(map[ulid.ULID]*auth.PasswordReset),
	}
}

// Compile-time interface checks.
var (
	_ auth.Store                   = (*Store)(nil)
	_ auth.AccountRepository       = (*accountRepo)(nil)
	_ auth.PasswordResetRepository = (*resetRepo)(nil)
)

// WithinTx runs fn against a private copy of the store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("STORE_TX_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{
		accounts: maps.Clone(s.accounts),
		resets:   maps.Clone(s.resets),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.accounts = tx.accounts
	s.resets = tx.resets
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

type tx struct {
	accounts map[ulid.ULID]*auth.Account
	resets   map[ulid.ULID]*auth.PasswordReset
}

func (t *tx) Accounts() auth.AccountRepository      { return &accountRepo{tx: t} }
func (t *tx) Resets() auth.PasswordResetRepository { return &resetRepo{tx: t} }

type accountRepo struct {
	tx *tx
}

func (r *accountRepo) Create(_ context.Context, account *auth.Account) error {
	for _, existing := range r.tx.accounts {
		if strings.EqualFold(existing.Username, account.Username) || strings.EqualFold(existing.Email, account.Email) {
			return oops.Code("ACCOUNT_EXISTS").
				With("username", account.Username).
				Wrap(auth.ErrConflict)
		}
	}
	r.tx.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	a, ok := r.tx.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneAccount(a), nil
}

func (r *accountRepo) GetByUsername(_ context.Context, username string) (*auth.Account, error) {
	return r.find("username", username, func(a *auth.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	return r.find("email", email, func(a *auth.Account) bool {
		return strings.EqualFold(a.Email, email)
	})
}

func (r *accountRepo) GetByLogin(_ context.Context, login string) (*auth.Account, error) {
	return r.find("login", login, func(a *auth.Account) bool {
		return strings.EqualFold(a.Username, login) || strings.EqualFold(a.Email, login)
	})
}

func (r *accountRepo) GetBySessionTokenHash(_ context.Context, tokenHash string) (*auth.Account, error) {
	if tokenHash == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return r.find("session", "", func(a *auth.Account) bool {
		return a.LoggedIn && a.SessionTokenHash == tokenHash
	})
}

func (r *accountRepo) Update(_ context.Context, account *auth.Account) error {
	if _, ok := r.tx.accounts[account.ID]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	r.tx.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *accountRepo) Delete(_ context.Context, id ulid.ULID) error {
	if _, ok := r.tx.accounts[id]; !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(r.tx.accounts, id)
	for rid, reset := range r.tx.resets {
		if reset.AccountID == id {
			delete(r.tx.resets, rid)
		}
	}
	return nil
}

func (r *accountRepo) find(field, value string, match func(*auth.Account) bool) (*auth.Account, error) {
	for _, a := range r.tx.accounts {
		if match(a) {
			return cloneAccount(a), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").With(field, value).Wrap(auth.ErrNotFound)
}

type resetRepo struct {
	tx *tx
}

func (r *resetRepo) Create(_ context.Context, reset *auth.PasswordReset) error {
	if _, ok := r.tx.accounts[reset.AccountID]; !ok {
		return oops.Code("RESET_CREATE_FAILED").
			With("account_id", reset.AccountID.String()).
			Errorf("account does not exist")
	}
	for _, existing := range r.tx.resets {
		if existing.TokenHash == reset.TokenHash {
			return oops.Code("RESET_EXISTS").Wrap(auth.ErrConflict)
		}
	}
	clone := *reset
	r.tx.resets[reset.ID] = &clone
	return nil
}

func (r *resetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordReset, error) {
	for _, reset := range r.tx.resets {
		if reset.TokenHash == tokenHash {
			clone := *reset
			return &clone, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *resetRepo) Update(_ context.Context, reset *auth.PasswordReset) error {
	if _, ok := r.tx.resets[reset.ID]; !ok {
		return oops.Code("RESET_NOT_FOUND").With("id", reset.ID.String()).Wrap(auth.ErrNotFound)
	}
	clone := *reset
	r.tx.resets[reset.ID] = &clone
	return nil
}

func (r *resetRepo) InvalidateByAccount(_ context.Context, accountID ulid.ULID) (int64, error) {
	var n int64
	for id, reset := range r.tx.resets {
		if reset.AccountID == accountID && !reset.Used {
			clone := *reset
			clone.Used = true
			r.tx.resets[id] = &clone
			n++
		}
	}
	return n, nil
}

func (r *resetRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for id, reset := range r.tx.resets {
		if reset.ExpiresAt.Before(before) {
			delete(r.tx.resets, id)
			n++
		}
	}
	return n, nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	c := *a
	if a.PasswordHistory != nil {
		c.PasswordHistory = append(auth.PasswordHistory(nil), a.PasswordHistory...)
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		c.LastLogin = &t
	}
	return &c
}
