// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package auth implements the CommGuard account credential lifecycle:
// registration, login with lockout, single-session management, and the
// emailed password reset workflow.
//
// # Domain Types
//
// Domain types (Account, PasswordReset) should be created using their
// constructors:
//   - NewAccount - validates profile fields and seeds the password history
//   - NewPasswordReset - validates the owning account and expiry
//
// Direct struct initialization bypasses validation and may create invalid state.
//
// # Components
//
//   - KDFHasher - salted PBKDF2 or argon2id credentials
//   - PasswordPolicy - complexity, blocked words, and history checks
//   - LockoutTracker - consecutive failure counting
//   - SessionManager - one hashed session token per account
//   - ResetTokenManager - Requested, Validated, Used, Expired token states
//
// # Service
//
// Service composes the components over a transactional Store. Every read of
// an account or reset request happens inside Store.WithinTx, so concurrent
// failed logins and token consumption are serialized per record.
//
// Every error a Service operation returns wraps one sentinel of the error
// taxonomy (ErrValidation, ErrNotFound, ErrExpired, ErrConflict, ErrLocked,
// ErrAuthentication, ErrDependency); use KindOf to classify it.
package auth
