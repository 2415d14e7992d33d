// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// Profile field limits.
const (
	MaxFullNameLength = 255
	MaxEmailLength    = 255
	MaxPhoneLength    = 20
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Gender is the profile gender attribute collected at registration.
type Gender string

// Accepted gender values.
const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender validates a gender value.
func ParseGender(s string) (Gender, error) {
	switch g := Gender(s); g {
	case GenderMale, GenderFemale, GenderOther:
		return g, nil
	default:
		return "", validationError("AUTH_INVALID_GENDER", "gender must be one of Male, Female, Other")
	}
}

// Account represents one registered principal.
type Account struct {
	ID       ulid.ULID
	FullName string
	Username string
	Email    string
	Phone    string
	Gender   Gender

	Credential      Credential
	PasswordHistory PasswordHistory

	FailedAttempts int
	Active         bool

	// SessionTokenHash is the SHA-256 of the current session token; empty
	// when no session is held.
	SessionTokenHash string
	LoggedIn         bool
	LastLogin        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccountParams holds the inputs of NewAccount.
type NewAccountParams struct {
	FullName   string
	Username   string
	Email      string
	Phone      string
	Gender     Gender
	Credential Credential
}

// NewAccount creates a validated, active Account whose history is seeded
// with the initial credential.
func NewAccount(p NewAccountParams, historySize int) (*Account, error) {
	if err := ValidateUsername(p.Username); err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(p.Email)
	if err != nil {
		return nil, err
	}
	if err := validateProfile(p.FullName, p.Phone); err != nil {
		return nil, err
	}
	if p.Credential.Hash == "" || p.Credential.Salt == "" {
		return nil, validationError("AUTH_INVALID_CREDENTIAL", "credential cannot be empty")
	}

	now := time.Now()
	acct := &Account{
		ID:         ulid.Make(),
		FullName:   strings.TrimSpace(p.FullName),
		Username:   p.Username,
		Email:      email,
		Phone:      strings.TrimSpace(p.Phone),
		Gender:     p.Gender,
		Credential: p.Credential,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	acct.PasswordHistory = acct.PasswordHistory.Push(p.Credential, historySize)
	return acct, nil
}

// IsLocked returns true once the lockout tracker has deactivated the account.
func (a *Account) IsLocked() bool {
	return !a.Active
}

// HasSession returns true if the account currently holds a session token.
func (a *Account) HasSession() bool {
	return a.LoggedIn && a.SessionTokenHash != ""
}

// SetCredential replaces the credential and records it in the history.
func (a *Account) SetCredential(cred Credential, historySize int) {
	a.Credential = cred
	a.PasswordHistory = a.PasswordHistory.Push(cred, historySize)
	a.UpdatedAt = time.Now()
}

// PasswordHistory is a bounded list of past credentials, oldest first.
type PasswordHistory []Credential

// Push appends cred, evicting the oldest entries beyond capacity.
// A non-positive capacity keeps no history.
func (h PasswordHistory) Push(cred Credential, capacity int) PasswordHistory {
	if capacity <= 0 {
		return nil
	}
	out := make(PasswordHistory, 0, capacity)
	out = append(out, h...)
	out = append(out, cred)
	if len(out) > capacity {
		out = out[len(out)-capacity:]
	}
	return out
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return validationError("AUTH_INVALID_USERNAME", "username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Wrapf(ErrValidation, "username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Wrapf(ErrValidation, "username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return validationError("AUTH_INVALID_USERNAME",
			"username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// NormalizeEmail validates a bare email address and lowercases it.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", validationError("AUTH_INVALID_EMAIL", "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return "", validationError("AUTH_INVALID_EMAIL", "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", validationError("AUTH_INVALID_EMAIL", "email is not a valid address")
	}
	return strings.ToLower(addr.Address), nil
}

func validateProfile(fullName, phone string) error {
	name := strings.TrimSpace(fullName)
	if name == "" {
		return validationError("AUTH_INVALID_FULL_NAME", "full name cannot be empty")
	}
	if len(name) > MaxFullNameLength {
		return validationError("AUTH_INVALID_FULL_NAME", "full name must be at most %d characters", MaxFullNameLength)
	}
	if len(strings.TrimSpace(phone)) > MaxPhoneLength {
		return validationError("AUTH_INVALID_PHONE", "phone number must be at most %d characters", MaxPhoneLength)
	}
	return nil
}

// AccountRepository manages account persistence. Implementations obtained
// from Store.WithinTx lock every record they return until the transaction ends.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrConflict
	// if the username or email is taken (case-insensitive).
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByLogin retrieves an account whose username or email matches.
	GetByLogin(ctx context.Context, usernameOrEmail string) (*Account, error)

	// GetBySessionTokenHash retrieves the logged-in account holding the token.
	GetBySessionTokenHash(ctx context.Context, tokenHash string) (*Account, error)

	// Update stores every mutable field of an existing account.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}
