// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// DefaultLockoutThreshold is the number of consecutive failures that deactivates an account.
const DefaultLockoutThreshold = 5

// LockoutTracker counts consecutive failed verifications and flips an
// account from Active to Locked. Locked is terminal here; only an
// administrative action outside this package reactivates an account.
//
// The tracker mutates the Account in memory. Callers must apply the result
// inside the same Store transaction that read the account so concurrent
// failures cannot lose updates.
type LockoutTracker struct {
	threshold int
}

// NewLockoutTracker creates a tracker with the given threshold.
func NewLockoutTracker(threshold int) (*LockoutTracker, error) {
	if threshold < 1 {
		return nil, oops.Code("AUTH_LOCKOUT_CONFIG_INVALID").
			With("threshold", threshold).
			Errorf("lockout threshold must be positive")
	}
	return &LockoutTracker{threshold: threshold}, nil
}

// Threshold returns the configured failure limit.
func (t *LockoutTracker) Threshold() int {
	return t.threshold
}

// RecordFailure increments the failure counter and deactivates the account
// once the threshold is reached. Returns true if this failure locked it.
func (t *LockoutTracker) RecordFailure(a *Account) bool {
	a.FailedAttempts++
	a.UpdatedAt = time.Now()
	if a.Active && a.FailedAttempts >= t.threshold {
		a.Active = false
		return true
	}
	return false
}

// RecordSuccess resets the failure counter.
func (t *LockoutTracker) RecordSuccess(a *Account) {
	a.FailedAttempts = 0
	a.UpdatedAt = time.Now()
}

// Remaining returns how many failures the account can absorb before locking.
func (t *LockoutTracker) Remaining(a *Account) int {
	if a.IsLocked() {
		return 0
	}
	if n := t.threshold - a.FailedAttempts; n > 0 {
		return n
	}
	return 0
}
