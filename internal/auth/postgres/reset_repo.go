// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository inside one transaction.
type PasswordResetRepository struct {
	q Querier
}

// Create stores a new password reset request.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO password_resets (id, account_id, token_hash, expires_at, validated, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		reset.ID.String(),
		reset.AccountID.String(),
		reset.TokenHash,
		reset.ExpiresAt,
		reset.Validated,
		reset.Used,
		reset.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("RESET_EXISTS").
			With("account_id", reset.AccountID.String()).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return dependency("RESET_CREATE_FAILED", "insert password_reset", err)
	}
	return nil
}

// GetByTokenHash retrieves and locks a reset request by its token hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, account_id, token_hash, expires_at, validated, used, created_at
		FROM password_resets
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, dependency("RESET_GET_FAILED", "get reset by token hash", err)
	}
	return reset, nil
}

// Update stores the Validated and Used flags.
func (r *PasswordResetRepository) Update(ctx context.Context, reset *auth.PasswordReset) error {
	result, err := r.q.Exec(ctx, `
		UPDATE password_resets SET validated = $2, used = $3
		WHERE id = $1
	`, reset.ID.String(), reset.Validated, reset.Used)
	if err != nil {
		return dependency("RESET_UPDATE_FAILED", "update password_reset", err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("id", reset.ID.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// InvalidateByAccount marks every unused reset request of an account as used.
func (r *PasswordResetRepository) InvalidateByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	result, err := r.q.Exec(ctx, `
		UPDATE password_resets SET used = TRUE
		WHERE account_id = $1 AND NOT used
	`, accountID.String())
	if err != nil {
		return 0, dependency("RESET_INVALIDATE_FAILED", "invalidate password_resets", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes reset requests that expired before the given time.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.q.Exec(ctx, `DELETE FROM password_resets WHERE expires_at < $1`, before)
	if err != nil {
		return 0, dependency("RESET_DELETE_EXPIRED_FAILED", "delete expired password_resets", err)
	}
	return result.RowsAffected(), nil
}

func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		reset            auth.PasswordReset
		idStr, accountID string
	)
	if err := row.Scan(
		&idStr,
		&accountID,
		&reset.TokenHash,
		&reset.ExpiresAt,
		&reset.Validated,
		&reset.Used,
		&reset.CreatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	reset.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_CORRUPT").With("id", idStr).Wrap(err)
	}
	reset.AccountID, err = ulid.Parse(accountID)
	if err != nil {
		return nil, oops.Code("RESET_CORRUPT").With("account_id", accountID).Wrap(err)
	}
	return &reset, nil
}
