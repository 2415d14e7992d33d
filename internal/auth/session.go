// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/samber/oops"
)

// SessionTokenBytes is the entropy of a session token (64 hex chars).
const SessionTokenBytes = 32

// SessionPolicy decides what happens when an account that already holds a
// session logs in again.
type SessionPolicy string

// Session policies.
const (
	// SessionReplace issues a new token and invalidates the previous one.
	SessionReplace SessionPolicy = "replace"
	// SessionReject refuses the login with a ConflictError.
	SessionReject SessionPolicy = "reject"
)

// ParseSessionPolicy validates a policy name. Empty selects SessionReplace.
func ParseSessionPolicy(s string) (SessionPolicy, error) {
	switch p := SessionPolicy(s); p {
	case "":
		return SessionReplace, nil
	case SessionReplace, SessionReject:
		return p, nil
	default:
		return "", oops.Code("AUTH_SESSION_CONFIG_INVALID").
			With("policy", s).
			Errorf("session policy must be %q or %q", SessionReplace, SessionReject)
	}
}

// GenerateSessionToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is sent to the client; the hash is stored with the account.
func GenerateSessionToken() (token, hash string, err error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashToken(token)

	return token, hash, nil
}

// HashToken computes the hex SHA-256 of a session or reset token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SessionManager issues, validates, and revokes the single session token an
// account may hold.
type SessionManager struct {
	policy SessionPolicy
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(policy SessionPolicy) *SessionManager {
	if policy == "" {
		policy = SessionReplace
	}
	return &SessionManager{policy: policy}
}

// Policy returns the configured session policy.
func (m *SessionManager) Policy() SessionPolicy {
	return m.policy
}

// Admit applies the session policy to an account about to log in.
func (m *SessionManager) Admit(a *Account) error {
	if m.policy == SessionReject && a.HasSession() {
		return oops.Code("AUTH_ALREADY_LOGGED_IN").
			With("account_id", a.ID.String()).
			Wrapf(ErrConflict, "account already has an active session")
	}
	return nil
}

// Issue generates a token and stores its hash as the account's current
// session, overwriting any previous one. The caller persists the account.
func (m *SessionManager) Issue(a *Account, now time.Time) (string, error) {
	token, hash, err := GenerateSessionToken()
	if err != nil {
		return "", err
	}
	a.SessionTokenHash = hash
	a.LoggedIn = true
	a.LastLogin = &now
	a.UpdatedAt = now
	return token, nil
}

// Clear drops the account's session. The caller persists the account.
func (m *SessionManager) Clear(a *Account) {
	a.SessionTokenHash = ""
	a.LoggedIn = false
	a.UpdatedAt = time.Now()
}

// Lookup finds the logged-in account holding token.
func (m *SessionManager) Lookup(ctx context.Context, accounts AccountRepository, token string) (*Account, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrapf(ErrValidation, "session token cannot be empty")
	}

	hash := HashToken(token)
	acct, err := accounts.GetBySessionTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrapf(ErrNotFound, "invalid session token")
		}
		return nil, dependencyError("SESSION_LOOKUP_FAILED", "get account by session token", err)
	}
	if !acct.LoggedIn || !VerifyToken(token, acct.SessionTokenHash) {
		return nil, oops.Code("SESSION_INVALID").Wrapf(ErrNotFound, "invalid session token")
	}
	return acct, nil
}
