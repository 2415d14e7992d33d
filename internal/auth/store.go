// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Repositories groups the repositories bound to one transaction.
type Repositories interface {
	Accounts() AccountRepository
	Resets() PasswordResetRepository
}

// Store is the transactional Credential Store.
//
// WithinTx runs fn atomically. Every account or reset request read through
// the supplied Repositories stays locked against concurrent transactions
// until fn returns; returning nil commits, returning an error rolls back and
// that error is returned unchanged.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// AuditEvent is one append-only record of a security-relevant action.
type AuditEvent struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Action    string
	Timestamp time.Time
}

// Audit action labels.
const (
	ActionRegister        = "User registration"
	ActionLogin           = "User login"
	ActionLogout          = "User logout"
	ActionLoginFailed     = "Failed login attempt"
	ActionAccountLocked   = "Account locked"
	ActionResetRequested  = "Password reset requested"
	ActionResetValidated  = "Password reset token validated"
	ActionResetCompleted  = "Password reset completed"
	ActionPasswordChanged = "Password changed successfully"
)

// AuditSink receives security-relevant events.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// Notifier delivers out-of-band messages to account holders.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}
