// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
)

const accountColumns = `id, full_name, username, email, phone, gender,
	credential, password_history, failed_attempts, active,
	session_token_hash, logged_in, last_login, created_at, updated_at`

// AccountRepository implements auth.AccountRepository inside one transaction.
type AccountRepository struct {
	q Querier
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	cred, history, err := marshalCredentials(account)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "marshal credential").Wrap(err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		account.ID.String(),
		account.FullName,
		account.Username,
		account.Email,
		account.Phone,
		string(account.Gender),
		cred,
		history,
		account.FailedAttempts,
		account.Active,
		nullableString(account.SessionTokenHash),
		account.LoggedIn,
		account.LastLogin,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_EXISTS").
			With("username", account.Username).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return dependency("ACCOUNT_CREATE_FAILED", "insert account", err)
	}
	return nil
}

// GetByID retrieves and locks an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.getOne(ctx, "id", id.String(), `
		SELECT `+accountColumns+` FROM accounts
		WHERE id = $1
		FOR UPDATE
	`)
}

// GetByUsername retrieves and locks an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*auth.Account, error) {
	return r.getOne(ctx, "username", username, `
		SELECT `+accountColumns+` FROM accounts
		WHERE LOWER(username) = LOWER($1)
		FOR UPDATE
	`)
}

// GetByEmail retrieves and locks an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return r.getOne(ctx, "email", email, `
		SELECT `+accountColumns+` FROM accounts
		WHERE LOWER(email) = LOWER($1)
		FOR UPDATE
	`)
}

// GetByLogin retrieves and locks the account whose username or email matches.
func (r *AccountRepository) GetByLogin(ctx context.Context, login string) (*auth.Account, error) {
	return r.getOne(ctx, "login", login, `
		SELECT `+accountColumns+` FROM accounts
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		LIMIT 1
		FOR UPDATE
	`)
}

// GetBySessionTokenHash retrieves and locks the logged-in account holding a session.
func (r *AccountRepository) GetBySessionTokenHash(ctx context.Context, tokenHash string) (*auth.Account, error) {
	if tokenHash == "" {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return r.getOne(ctx, "session", "", `
		SELECT `+accountColumns+` FROM accounts
		WHERE session_token_hash = $1 AND logged_in
		FOR UPDATE
	`, tokenHash)
}

// Update stores every mutable field of an account.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	cred, history, err := marshalCredentials(account)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("operation", "marshal credential").Wrap(err)
	}

	result, err := r.q.Exec(ctx, `
		UPDATE accounts SET
			full_name = $2,
			username = $3,
			email = $4,
			phone = $5,
			gender = $6,
			credential = $7,
			password_history = $8,
			failed_attempts = $9,
			active = $10,
			session_token_hash = $11,
			logged_in = $12,
			last_login = $13,
			updated_at = $14
		WHERE id = $1
	`,
		account.ID.String(),
		account.FullName,
		account.Username,
		account.Email,
		account.Phone,
		string(account.Gender),
		cred,
		history,
		account.FailedAttempts,
		account.Active,
		nullableString(account.SessionTokenHash),
		account.LoggedIn,
		account.LastLogin,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_EXISTS").With("id", account.ID.String()).Wrap(auth.ErrConflict)
	}
	if err != nil {
		return dependency("ACCOUNT_UPDATE_FAILED", "update account", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes an account and, by cascade, its reset requests.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return dependency("ACCOUNT_DELETE_FAILED", "delete account", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// getOne runs query with arg (or the explicit args) and scans one account.
func (r *AccountRepository) getOne(ctx context.Context, field, arg, query string, args ...any) (*auth.Account, error) {
	if len(args) == 0 {
		args = []any{arg}
	}
	account, err := scanAccount(r.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With(field, arg).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, dependency("ACCOUNT_GET_FAILED", "get account by "+field, err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a           auth.Account
		idStr       string
		gender      string
		credJSON    []byte
		historyJSON []byte
		sessionHash *string
		lastLogin   *time.Time
	)
	err := row.Scan(
		&idStr,
		&a.FullName,
		&a.Username,
		&a.Email,
		&a.Phone,
		&gender,
		&credJSON,
		&historyJSON,
		&a.FailedAttempts,
		&a.Active,
		&sessionHash,
		&a.LoggedIn,
		&lastLogin,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("id", idStr).Wrap(err)
	}
	if err := json.Unmarshal(credJSON, &a.Credential); err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("id", idStr).With("field", "credential").Wrap(err)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &a.PasswordHistory); err != nil {
			return nil, oops.Code("ACCOUNT_CORRUPT").With("id", idStr).With("field", "password_history").Wrap(err)
		}
	}
	a.Gender = auth.Gender(gender)
	if sessionHash != nil {
		a.SessionTokenHash = *sessionHash
	}
	a.LastLogin = lastLogin
	return &a, nil
}

func marshalCredentials(a *auth.Account) (cred, history []byte, err error) {
	cred, err = json.Marshal(a.Credential)
	if err != nil {
		return nil, nil, err
	}
	h := a.PasswordHistory
	if h == nil {
		h = auth.PasswordHistory{}
	}
	history, err = json.Marshal(h)
	if err != nil {
		return nil, nil, err
	}
	return cred, history, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
