// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // 1 hour expiry

	// ResetRetention is how long an expired request is kept so that late
	// use still reports Expired rather than NotFound.
	ResetRetention = 24 * time.Hour
)

// PasswordReset represents one outstanding reset workflow. Expiry is
// evaluated lazily on lookup; there is no stored expired state.
type PasswordReset struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	Validated bool
	Used      bool
	CreatedAt time.Time
}

// NewPasswordReset creates a validated PasswordReset.
func NewPasswordReset(accountID ulid.ULID, tokenHash string, expiresAt time.Time) (*PasswordReset, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &PasswordReset{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpiredAt returns true if the token is past its expiry at t.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the user; the hash is stored in the database.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashToken(token)

	return token, hash, nil
}

// PasswordResetRepository manages password reset persistence.
type PasswordResetRepository interface {
	// Create stores a new password reset request.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset request by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Update stores the Validated and Used flags of a reset request.
	Update(ctx context.Context, reset *PasswordReset) error

	// InvalidateByAccount marks every unused reset request of an account as used.
	InvalidateByAccount(ctx context.Context, accountID ulid.ULID) (int64, error)

	// DeleteExpired removes reset requests that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ResetTokenManager implements the reset-token state machine:
// Requested -> Validated (optional) -> Used, with Expired detected lazily.
type ResetTokenManager struct {
	lifetime time.Duration
	now      func() time.Time
}

// NewResetTokenManagerWithClock creates a manager with an explicit token
// lifetime and clock.
func NewResetTokenManagerWithClock(lifetime time.Duration, now func() time.Time) *ResetTokenManager {
	if lifetime <= 0 {
		lifetime = ResetTokenExpiry
	}
	if now == nil {
		now = time.Now
	}
	return &ResetTokenManager{lifetime: lifetime, now: now}
}

// Issue generates a token for the account and persists its hash.
func (m *ResetTokenManager) Issue(ctx context.Context, resets PasswordResetRepository, accountID ulid.ULID) (string, *PasswordReset, error) {
	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", nil, dependencyError("RESET_REQUEST_FAILED", "generate reset token", err)
	}

	reset, err := NewPasswordReset(accountID, hash, m.now().Add(m.lifetime))
	if err != nil {
		return "", nil, dependencyError("RESET_REQUEST_FAILED", "new password reset", err)
	}
	reset.CreatedAt = m.now()

	if err := resets.Create(ctx, reset); err != nil {
		return "", nil, dependencyError("RESET_REQUEST_FAILED", "create password reset", err)
	}
	return token, reset, nil
}

// Lookup returns the unused, unexpired reset request for token.
func (m *ResetTokenManager) Lookup(ctx context.Context, resets PasswordResetRepository, token string) (*PasswordReset, error) {
	if token == "" {
		return nil, oops.Code("RESET_TOKEN_EMPTY").Wrapf(ErrValidation, "reset token cannot be empty")
	}

	reset, err := resets.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_TOKEN_INVALID").Wrapf(ErrNotFound, "reset token not found")
		}
		return nil, dependencyError("RESET_VALIDATE_FAILED", "get reset by token hash", err)
	}

	if reset.Used {
		return nil, oops.Code("RESET_TOKEN_USED").
			With("reset_id", reset.ID.String()).
			Wrapf(ErrNotFound, "reset token has already been used")
	}

	if reset.IsExpiredAt(m.now()) {
		return nil, oops.Code("RESET_TOKEN_EXPIRED").
			With("reset_id", reset.ID.String()).
			Wrapf(ErrExpired, "reset token has expired")
	}

	return reset, nil
}

// MarkValidated records the optional validation step.
func (m *ResetTokenManager) MarkValidated(ctx context.Context, resets PasswordResetRepository, reset *PasswordReset) error {
	if reset.Validated {
		return nil
	}
	reset.Validated = true
	if err := resets.Update(ctx, reset); err != nil {
		return dependencyError("RESET_VALIDATE_FAILED", "mark reset validated", err)
	}
	return nil
}

// MarkUsed moves the reset request to its terminal state and invalidates
// every other outstanding request of the same account.
func (m *ResetTokenManager) MarkUsed(ctx context.Context, resets PasswordResetRepository, reset *PasswordReset) error {
	reset.Used = true
	if err := resets.Update(ctx, reset); err != nil {
		return dependencyError("RESET_CONSUME_FAILED", "mark reset used", err)
	}
	if _, err := resets.InvalidateByAccount(ctx, reset.AccountID); err != nil {
		return dependencyError("RESET_CONSUME_FAILED", "invalidate outstanding resets", err)
	}
	return nil
}
