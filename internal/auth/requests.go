// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	FullName        string
	Username        string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
	Gender          string
}

// Validate checks the request shape. Password policy is applied separately.
func (r RegisterRequest) Validate() error {
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if _, err := NormalizeEmail(r.Email); err != nil {
		return err
	}
	if err := validateProfile(r.FullName, r.Phone); err != nil {
		return err
	}
	if _, err := ParseGender(r.Gender); err != nil {
		return err
	}
	return confirmPasswords(r.Password, r.ConfirmPassword)
}

// LoginRequest carries login credentials. Login is a username or an email.
type LoginRequest struct {
	Login    string
	Password string
}

// Validate checks that both fields are present.
func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Login) == "" {
		return validationError("AUTH_LOGIN_REQUIRED", "username or email is required")
	}
	if r.Password == "" {
		return validationError("AUTH_PASSWORD_REQUIRED", "password is required")
	}
	return nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccountID ulid.ULID
	Token     string
}

// ConfirmResetRequest completes a password reset.
type ConfirmResetRequest struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// Validate checks the request shape.
func (r ConfirmResetRequest) Validate() error {
	if r.Token == "" {
		return validationError("RESET_TOKEN_EMPTY", "reset token cannot be empty")
	}
	return confirmPasswords(r.NewPassword, r.ConfirmPassword)
}

// ChangePasswordRequest changes the password of an authenticated account.
type ChangePasswordRequest struct {
	Username        string
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// Validate checks that every field is present and the new password is confirmed.
func (r ChangePasswordRequest) Validate() error {
	if r.Username == "" || r.CurrentPassword == "" {
		return validationError("AUTH_FIELDS_REQUIRED", "all fields are required")
	}
	return confirmPasswords(r.NewPassword, r.ConfirmPassword)
}

func confirmPasswords(password, confirm string) error {
	if password == "" {
		return validationError("AUTH_PASSWORD_REQUIRED", "password is required")
	}
	if password != confirm {
		return validationError("AUTH_PASSWORD_MISMATCH", "passwords do not match")
	}
	return nil
}
