// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Sentinel errors forming the error taxonomy. Every error returned by a
// Service operation wraps exactly one of them, so callers can branch with
// errors.Is or KindOf without parsing codes.
var (
	// ErrValidation marks malformed input, mismatched confirmation, or a
	// policy-rejected password.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired marks a reset token past its expiry. It also matches ErrNotFound.
	ErrExpired = fmt.Errorf("expired: %w", ErrNotFound)

	// ErrConflict marks a uniqueness or session conflict.
	ErrConflict = errors.New("conflict")

	// ErrLocked marks an account deactivated by the lockout tracker.
	ErrLocked = errors.New("account locked")

	// ErrAuthentication marks a credential mismatch on an active account.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDependency marks a failure of the store, audit sink, or notifier.
	ErrDependency = errors.New("dependency failure")

	// ErrCorruptCredential marks stored hashing parameters that cannot be decoded.
	ErrCorruptCredential = errors.New("corrupt credential")
)

// Kind classifies an error into the taxonomy.
type Kind string

// Error kinds.
const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindExpired        Kind = "expired"
	KindConflict       Kind = "conflict"
	KindLocked         Kind = "locked"
	KindAuthentication Kind = "authentication"
	KindDependency     Kind = "dependency"
)

// KindOf reports the taxonomy kind of err. Errors outside the taxonomy are
// treated as dependency failures. KindOf(nil) returns "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindDependency
	}
}

// validationError builds a ValidationError with the given code.
func validationError(code, format string, args ...any) error {
	return oops.Code(code).Wrapf(ErrValidation, format, args...)
}

// dependencyError wraps a collaborator failure. Store-level not-found and
// conflict errors keep their kind.
func dependencyError(code, operation string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return oops.Code(code).With("operation", operation).Wrap(err)
	}
	return oops.Code(code).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrDependency, err))
}
