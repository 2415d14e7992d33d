// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/commguard/commguard/pkg/errutil"
)

// Operation names reported to the Observer.
const (
	OpRegister      = "register"
	OpLogin         = "login"
	OpLogout        = "logout"
	OpAuthenticate  = "authenticate"
	OpRequestReset  = "request_reset"
	OpValidateReset = "validate_reset"
	OpConfirmReset  = "confirm_reset"
	OpChangePass    = "change_password"
)

// Observer receives operation outcomes, typically for metrics.
type Observer interface {
	// OperationCompleted reports an operation result; kind is empty on success.
	OperationCompleted(operation string, kind Kind)
	// AccountLocked reports an Active to Locked transition.
	AccountLocked()
}

type noopObserver struct{}

func (noopObserver) OperationCompleted(string, Kind) {}
func (noopObserver) AccountLocked()                  {}

// Dependencies are the collaborators a Service requires.
type Dependencies struct {
	Store    Store
	Hasher   PasswordHasher
	Audit    AuditSink
	Notifier Notifier
	Observer Observer // optional
}

// Options configures a Service.
type Options struct {
	Policy              PolicyConfig
	LockoutThreshold    int
	HistorySize         int
	SessionPolicy       SessionPolicy
	ConcealUnknownEmail bool

	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// DefaultOptions returns the default service options.
func DefaultOptions() Options {
	return Options{
		Policy:           DefaultPolicyConfig(),
		LockoutThreshold: DefaultLockoutThreshold,
		HistorySize:      DefaultHistorySize,
		SessionPolicy:    SessionReplace,
	}
}

// Service implements the authentication and credential lifecycle operations.
type Service struct {
	store    Store
	hasher   PasswordHasher
	audit    AuditSink
	notifier Notifier
	observer Observer

	policy   *PasswordPolicy
	lockout  *LockoutTracker
	sessions *SessionManager
	resets   *ResetTokenManager

	historySize         int
	concealUnknownEmail bool
	now                 func() time.Time

	// dummy is verified against when the account does not exist so that
	// unknown and known logins cost the same.
	dummy Credential

	logger *slog.Logger
}

// NewService creates a Service logging to slog.Default().
func NewService(deps Dependencies, opts Options) (*Service, error) {
	return NewServiceWithLogger(deps, opts, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(deps Dependencies, opts Options, logger *slog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("credential store is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if deps.Audit == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("audit sink is required")
	}
	if deps.Notifier == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	if opts.HistorySize < 0 {
		return nil, oops.Code("AUTH_SERVICE_INVALID").
			With("history_size", opts.HistorySize).
			Errorf("password history size cannot be negative")
	}

	policy, err := NewPasswordPolicy(opts.Policy, deps.Hasher)
	if err != nil {
		return nil, err
	}
	lockout, err := NewLockoutTracker(opts.LockoutThreshold)
	if err != nil {
		return nil, err
	}
	sessionPolicy, err := ParseSessionPolicy(string(opts.SessionPolicy))
	if err != nil {
		return nil, err
	}

	dummy, err := deps.Hasher.Hash(randomString())
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").
			With("operation", "derive dummy credential").
			Wrap(err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Service{
		store:               deps.Store,
		hasher:              deps.Hasher,
		audit:               deps.Audit,
		notifier:            deps.Notifier,
		observer:            observer,
		policy:              policy,
		lockout:             lockout,
		sessions:            NewSessionManager(sessionPolicy),
		resets:              NewResetTokenManagerWithClock(ResetTokenExpiry, now),
		historySize:         opts.HistorySize,
		concealUnknownEmail: opts.ConcealUnknownEmail,
		now:                 now,
		dummy:               dummy,
		logger:              logger,
	}, nil
}

// Register creates an account after the password passes the policy.
// No account is written unless every check succeeds.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (id ulid.ULID, err error) {
	defer func() { s.done(OpRegister, err) }()

	if err := req.Validate(); err != nil {
		return ulid.ULID{}, err
	}
	if err := s.policy.Validate(req.Password, nil); err != nil {
		s.logger.Warn("registration rejected by password policy",
			"username", req.Username,
			"reason", errorCode(err))
		return ulid.ULID{}, err
	}

	cred, err := s.hasher.Hash(req.Password)
	if err != nil {
		return ulid.ULID{}, dependencyError("AUTH_REGISTER_FAILED", "hash password", err)
	}

	gender, _ := ParseGender(req.Gender) //nolint:errcheck // validated above
	acct, err := NewAccount(NewAccountParams{
		FullName:   req.FullName,
		Username:   req.Username,
		Email:      req.Email,
		Phone:      req.Phone,
		Gender:     gender,
		Credential: cred,
	}, s.historySize)
	if err != nil {
		return ulid.ULID{}, err
	}
	acct.CreatedAt = s.now()
	acct.UpdatedAt = acct.CreatedAt

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		if err := ensureAvailable(ctx, repos.Accounts(), acct); err != nil {
			return err
		}
		if err := repos.Accounts().Create(ctx, acct); err != nil {
			if errors.Is(err, ErrConflict) {
				return oops.Code("AUTH_ACCOUNT_EXISTS").Wrapf(ErrConflict, "user with this email or username already exists")
			}
			return dependencyError("AUTH_REGISTER_FAILED", "create account", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Warn("registration conflict", "username", req.Username)
		}
		return ulid.ULID{}, err
	}

	s.logger.Info("account registered", "account_id", acct.ID.String(), "username", acct.Username)
	s.record(ctx, acct.ID, ActionRegister)
	return acct.ID, nil
}

func ensureAvailable(ctx context.Context, accounts AccountRepository, acct *Account) error {
	for _, lookup := range []func() (*Account, error){
		func() (*Account, error) { return accounts.GetByUsername(ctx, acct.Username) },
		func() (*Account, error) { return accounts.GetByEmail(ctx, acct.Email) },
	} {
		_, err := lookup()
		if err == nil {
			return oops.Code("AUTH_ACCOUNT_EXISTS").Wrapf(ErrConflict, "user with this email or username already exists")
		}
		if !errors.Is(err, ErrNotFound) {
			return dependencyError("AUTH_REGISTER_FAILED", "check account uniqueness", err)
		}
	}
	return nil
}

// Login verifies credentials and issues a session token.
//
// Locked accounts are rejected before verification. A failed verification
// increments the failure counter in the same transaction that read it; the
// failure that reaches the lockout threshold returns a LockedError.
func (s *Service) Login(ctx context.Context, req LoginRequest) (result LoginResult, err error) {
	defer func() { s.done(OpLogin, err) }()

	if err := req.Validate(); err != nil {
		return LoginResult{}, err
	}

	var (
		acct      *Account
		token     string
		failed    bool
		lockedNow bool
		outcome   error
	)

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		// The store may re-run this closure after a serialization failure.
		token, failed, lockedNow, outcome = "", false, false, nil

		var lookupErr error
		acct, lookupErr = repos.Accounts().GetByLogin(ctx, strings.TrimSpace(req.Login))
		if lookupErr != nil {
			if !errors.Is(lookupErr, ErrNotFound) {
				return dependencyError("AUTH_LOGIN_FAILED", "get account by login", lookupErr)
			}
			// Verify against the dummy credential to keep timing uniform.
			_, _ = s.hasher.Verify(req.Password, s.dummy) //nolint:errcheck // result is irrelevant
			acct = nil
			return invalidCredentials()
		}

		if acct.IsLocked() {
			return lockedError(acct)
		}

		valid, verifyErr := s.hasher.Verify(req.Password, acct.Credential)
		if verifyErr != nil {
			return dependencyError("AUTH_LOGIN_FAILED", "verify password", verifyErr)
		}

		if !valid {
			failed = true
			lockedNow = s.lockout.RecordFailure(acct)
			if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
				return dependencyError("AUTH_LOGIN_FAILED", "record failed attempt", updateErr)
			}
			if lockedNow {
				outcome = lockedError(acct)
			} else {
				outcome = invalidCredentials()
			}
			// Commit the counter; the outcome is returned after the transaction.
			return nil
		}

		// A verified password clears the failure counter even when the
		// session policy refuses the login.
		s.lockout.RecordSuccess(acct)
		if admitErr := s.sessions.Admit(acct); admitErr != nil {
			if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
				return dependencyError("AUTH_LOGIN_FAILED", "reset failed attempts", updateErr)
			}
			outcome = admitErr
			return nil
		}

		var issueErr error
		token, issueErr = s.sessions.Issue(acct, s.now())
		if issueErr != nil {
			return dependencyError("AUTH_LOGIN_FAILED", "issue session token", issueErr)
		}
		if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
			return dependencyError("AUTH_SESSION_CREATE_FAILED", "persist session", updateErr)
		}
		return nil
	})
	if err == nil {
		err = outcome
	}

	if failed && acct != nil {
		s.logger.Warn("login failed",
			"account_id", acct.ID.String(),
			"failed_attempts", acct.FailedAttempts,
			"remaining_attempts", s.lockout.Remaining(acct))
		s.record(ctx, acct.ID, ActionLoginFailed)
		if lockedNow {
			s.logger.Warn("account locked after repeated failures",
				"account_id", acct.ID.String(),
				"threshold", s.lockout.Threshold())
			s.observer.AccountLocked()
			s.record(ctx, acct.ID, ActionAccountLocked)
		}
	}
	if errors.Is(err, ErrConflict) && acct != nil {
		s.logger.Warn("login refused by session policy",
			"account_id", acct.ID.String(),
			"policy", string(s.sessions.Policy()))
	}
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login succeeded", "account_id", acct.ID.String())
	s.record(ctx, acct.ID, ActionLogin)
	return LoginResult{AccountID: acct.ID, Token: token}, nil
}

// Logout revokes the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	defer func() { s.done(OpLogout, err) }()

	var acct *Account
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		var lookupErr error
		acct, lookupErr = s.sessions.Lookup(ctx, repos.Accounts(), token)
		if lookupErr != nil {
			return lookupErr
		}
		s.sessions.Clear(acct)
		if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
			return dependencyError("AUTH_LOGOUT_FAILED", "clear session", updateErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("logout succeeded", "account_id", acct.ID.String())
	s.record(ctx, acct.ID, ActionLogout)
	return nil
}

// Authenticate returns the logged-in account holding token.
func (s *Service) Authenticate(ctx context.Context, token string) (acct *Account, err error) {
	defer func() { s.done(OpAuthenticate, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		var lookupErr error
		acct, lookupErr = s.sessions.Lookup(ctx, repos.Accounts(), token)
		return lookupErr
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// ChangePassword re-verifies the current password of an account and
// replaces it. A wrong current password counts toward lockout.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (err error) {
	defer func() { s.done(OpChangePass, err) }()

	if err := req.Validate(); err != nil {
		return err
	}

	var (
		acct      *Account
		mismatch  bool
		lockedNow bool
		outcome   error
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos Repositories) error {
		mismatch, lockedNow, outcome = false, false, nil

		var lookupErr error
		acct, lookupErr = repos.Accounts().GetByUsername(ctx, req.Username)
		if lookupErr != nil {
			if errors.Is(lookupErr, ErrNotFound) {
				return oops.Code("AUTH_ACCOUNT_NOT_FOUND").Wrapf(ErrNotFound, "user not found")
			}
			return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "get account by username", lookupErr)
		}
		if acct.IsLocked() {
			return lockedError(acct)
		}

		valid, verifyErr := s.hasher.Verify(req.CurrentPassword, acct.Credential)
		if verifyErr != nil {
			return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "verify current password", verifyErr)
		}
		if !valid {
			mismatch = true
			lockedNow = s.lockout.RecordFailure(acct)
			if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
				return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "record failed attempt", updateErr)
			}
			if lockedNow {
				outcome = lockedError(acct)
			} else {
				outcome = oops.Code("AUTH_CURRENT_PASSWORD_MISMATCH").
					Wrapf(ErrAuthentication, "current password does not match")
			}
			return nil
		}

		s.lockout.RecordSuccess(acct)
		if policyErr := s.policy.Validate(req.NewPassword, acct.PasswordHistory); policyErr != nil {
			if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
				return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "reset failed attempts", updateErr)
			}
			outcome = policyErr
			return nil
		}

		cred, hashErr := s.hasher.Hash(req.NewPassword)
		if hashErr != nil {
			return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "hash password", hashErr)
		}
		acct.SetCredential(cred, s.historySize)
		if updateErr := repos.Accounts().Update(ctx, acct); updateErr != nil {
			return dependencyError("AUTH_CHANGE_PASSWORD_FAILED", "update credential", updateErr)
		}
		return nil
	})
	if err == nil {
		err = outcome
	}

	if mismatch && acct != nil {
		s.logger.Warn("password change rejected: current password mismatch",
			"account_id", acct.ID.String(),
			"failed_attempts", acct.FailedAttempts)
		s.record(ctx, acct.ID, ActionLoginFailed)
		if lockedNow {
			s.observer.AccountLocked()
			s.record(ctx, acct.ID, ActionAccountLocked)
		}
	}
	if err != nil {
		return err
	}

	s.logger.Info("password changed", "account_id", acct.ID.String())
	s.record(ctx, acct.ID, ActionPasswordChanged)
	return nil
}

// record writes an audit event for an operation that already succeeded.
// Failures are logged and otherwise ignored.
func (s *Service) record(ctx context.Context, accountID ulid.ULID, action string) {
	event := AuditEvent{
		ID:        ulid.Make(),
		AccountID: accountID,
		Action:    action,
		Timestamp: s.now(),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "audit record failed",
			oops.With("account_id", accountID.String()).With("action", action).Wrap(err))
	}
}

func (s *Service) done(operation string, err error) {
	s.observer.OperationCompleted(operation, KindOf(err))
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrapf(ErrAuthentication, "invalid username or password")
}

func lockedError(acct *Account) error {
	return oops.Code("AUTH_ACCOUNT_LOCKED").
		With("account_id", acct.ID.String()).
		Wrapf(ErrLocked, "account is locked due to multiple failed login attempts")
}

// errorCode returns the oops code of err, or nil if it has none.
func errorCode(err error) any {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code()
	}
	return nil
}

func randomString() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b) //nolint:errcheck // crypto/rand.Read does not fail on supported platforms
	return hex.EncodeToString(b)
}
