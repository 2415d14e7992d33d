// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/commguard/commguard/pkg/errutil"
)

// Reset email content.
const (
	ResetEmailSubject = "Password Reset Request"
	resetEmailBody    = "Your password reset token is: %s\nThis token is valid for 1 hour."
)

// RequestPasswordReset issues a reset token for the account registered under
// email and sends it to that address.
//
// The token is persisted only if the notification is delivered. With
// ConcealUnknownEmail set, an unknown email returns an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token string, err error) {
	defer func() { s.done(OpRequestReset, err) }()

	normalized, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}

	var (
		acct      *Account
		concealed bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		concealed = false

		var lookupErr error
		acct, lookupErr = repos.Accounts().GetByEmail(ctx, normalized)
		if lookupErr != nil {
			if errors.Is(lookupErr, ErrNotFound) {
				if s.concealUnknownEmail {
					concealed = true
					return nil
				}
				return oops.Code("RESET_EMAIL_NOT_FOUND").Wrapf(ErrNotFound, "email not found")
			}
			return dependencyError("RESET_REQUEST_FAILED", "get account by email", lookupErr)
		}

		var issueErr error
		token, _, issueErr = s.resets.Issue(ctx, repos.Resets(), acct.ID)
		if issueErr != nil {
			return issueErr
		}

		body := fmt.Sprintf(resetEmailBody, token)
		if sendErr := s.notifier.Send(ctx, []string{acct.Email}, ResetEmailSubject, body); sendErr != nil {
			return oops.Code("RESET_EMAIL_FAILED").
				With("account_id", acct.ID.String()).
				Wrapf(fmt.Errorf("%w: %w", ErrDependency, sendErr), "failed to send reset email")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDependency) {
			errutil.LogErrorContext(ctx, s.logger, "password reset request failed", err)
		}
		return "", err
	}
	if concealed {
		s.logger.Info("password reset requested for unknown email")
		return "", nil
	}

	s.logger.Info("password reset requested", "account_id", acct.ID.String())
	s.record(ctx, acct.ID, ActionResetRequested)
	return token, nil
}

// ValidateResetToken checks that token is unused and unexpired and returns
// the username of the account it belongs to. The token stays usable.
func (s *Service) ValidateResetToken(ctx context.Context, token string) (username string, err error) {
	defer func() { s.done(OpValidateReset, err) }()

	var reset *PasswordReset
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		var lookupErr error
		reset, lookupErr = s.resets.Lookup(ctx, repos.Resets(), token)
		if lookupErr != nil {
			return lookupErr
		}

		acct, getErr := repos.Accounts().GetByID(ctx, reset.AccountID)
		if getErr != nil {
			return dependencyError("RESET_VALIDATE_FAILED", "get account by id", getErr)
		}
		username = acct.Username

		return s.resets.MarkValidated(ctx, repos.Resets(), reset)
	})
	if err != nil {
		return "", err
	}

	s.record(ctx, reset.AccountID, ActionResetValidated)
	return username, nil
}

// ConfirmPasswordReset sets a new password using a reset token.
//
// The new password is checked against the policy and the account's password
// history; a rejection leaves the token usable. On success the token is
// consumed, every other outstanding token of the account is invalidated, and
// any active session is cleared.
func (s *Service) ConfirmPasswordReset(ctx context.Context, req ConfirmResetRequest) (err error) {
	defer func() { s.done(OpConfirmReset, err) }()

	if err := req.Validate(); err != nil {
		return err
	}

	var acct *Account
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		reset, lookupErr := s.resets.Lookup(ctx, repos.Resets(), req.Token)
		if lookupErr != nil {
			return lookupErr
		}

		var getErr error
		acct, getErr = repos.Accounts().GetByID(ctx, reset.AccountID)
		if getErr != nil {
			return dependencyError("RESET_CONFIRM_FAILED", "get account by id", getErr)
		}

		if policyErr := s.policy.Validate(req.NewPassword, acct.PasswordHistory); policyErr != nil {
			return policyErr
		}

		cred, hashErr := s.hasher.Hash(req.NewPassword)
		if hashErr != nil {
			return dependencyError("RESET_CONFIRM_FAILED", "hash password", hashErr)
		}
		acct.SetCredential(cred, s.historySize)
		s.sessions.Clear(acct)
		acct.UpdatedAt = s.now()
		if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
			return dependencyError("RESET_CONFIRM_FAILED", "update credential", updateErr)
		}

		return s.resets.MarkUsed(ctx, repos.Resets(), reset)
	})
	if err != nil {
		if acct != nil && KindOf(err) == KindValidation {
			s.logger.Warn("password reset rejected by password policy",
				"account_id", acct.ID.String(),
				"reason", errorCode(err))
		}
		return err
	}

	s.logger.Info("password reset completed", "account_id", acct.ID.String())
	s.record(ctx, acct.ID, ActionResetCompleted)
	return nil
}

// PurgeExpiredResets deletes reset requests that expired more than
// ResetRetention ago. Expiry itself is checked on use; this only reclaims
// storage.
func (s *Service) PurgeExpiredResets(ctx context.Context) (int64, error) {
	var deleted int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		var delErr error
		deleted, delErr = repos.Resets().DeleteExpired(ctx, s.now().Add(-ResetRetention))
		if delErr != nil {
			return dependencyError("RESET_PURGE_FAILED", "delete expired resets", delErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("expired password resets purged", "count", deleted)
	return deleted, nil
}
