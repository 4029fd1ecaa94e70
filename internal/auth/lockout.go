// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keepsake Contributors

package auth

import (
	"time"
)

// Lockout policy for repeated bad passwords.
const (
	// LockoutDuration is how long an identity stays locked.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that locks an identity.
	LockoutThreshold = 7
)

// LockoutStatus describes an identity's current lockout state.
type LockoutStatus struct {
	// Locked is true while further attempts are refused.
	Locked bool

	// Remaining is the time until the lockout lifts.
	Remaining time.Duration

	// AttemptsLeft is the number of failures allowed before locking.
	AttemptsLeft int
}

// CheckLockout evaluates the lockout state for the given failure count.
// lockedUntil is the current lockout timestamp (nil if not locked).
func CheckLockout(failures int, lockedUntil *time.Time) LockoutStatus {
	if IsLockedOut(lockedUntil) {
		return LockoutStatus{Locked: true, Remaining: time.Until(*lockedUntil)}
	}
	left := LockoutThreshold - failures
	if left < 0 {
		left = 0
	}
	return LockoutStatus{AttemptsLeft: left}
}

// IsLockedOut returns true if the lockout time is in the future.
func IsLockedOut(lockedUntil *time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(time.Now())
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := time.Now().Add(LockoutDuration)
	return &lockout
}

// ResetOnSuccess returns the values to set after a successful login.
func ResetOnSuccess() (int, *time.Time) {
	return 0, nil
}
