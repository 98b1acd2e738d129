package auth

import (
	"errors"
	"time"
)

type LockState int

const (
	LockStateUnlocked LockState = iota
	LockStateAccumulating
	LockStateLocked
)

func (s LockState) String() string {
	switch s {
	case LockStateUnlocked:
		return "unlocked"
	case LockStateAccumulating:
		return "accumulating"
	case LockStateLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// LockoutPolicy decides when consecutive failed logins lock an account.
// All state lives on the CredentialRecord; expiry is evaluated lazily.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// Validate rejects policies that would lock on the first failure or set a
// lock that ends before the failure that caused it.
func (p LockoutPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return errors.New("lockout max attempts must be positive")
	}
	if p.Duration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	return nil
}

// IsLocked is true while now is strictly before LockedUntil.
func IsLocked(record CredentialRecord, now time.Time) bool {
	return record.LockedUntil != nil && now.Before(*record.LockedUntil)
}

// StateOf classifies a record. An expired lock whose counters have not been
// cleared yet reads as accumulating.
func StateOf(record CredentialRecord, now time.Time) LockState {
	switch {
	case IsLocked(record, now):
		return LockStateLocked
	case record.FailedLoginAttempts == 0:
		return LockStateUnlocked
	default:
		return LockStateAccumulating
	}
}

// RemainingMinutes is the whole minutes left in the lock window plus one, so
// a client told "N minutes" is never early. Zero when not locked.
func RemainingMinutes(record CredentialRecord, now time.Time) int {
	if !IsLocked(record, now) {
		return 0
	}
	return int(record.LockedUntil.Sub(now).Minutes()) + 1
}

// RecordFailure applies a failed attempt and reports whether the record is
// now locked. The counter keeps growing from its previous value even after a
// lock has lazily expired, so one failure right after expiry locks again.
func (p LockoutPolicy) RecordFailure(record *CredentialRecord, now time.Time) bool {
	if IsLocked(*record, now) {
		return true
	}

	failedAt := now
	record.FailedLoginAttempts++
	record.LastFailedLogin = &failedAt

	if record.FailedLoginAttempts >= p.MaxAttempts {
		until := now.Add(p.Duration)
		record.LockedUntil = &until
		return true
	}
	// A stale lock survives here only if MaxAttempts was raised since it was
	// set. Drop it so LockedUntil never precedes LastFailedLogin.
	record.LockedUntil = nil
	return false
}

// RecordSuccess clears all failure state.
func RecordSuccess(record *CredentialRecord) {
	record.FailedLoginAttempts = 0
	record.LockedUntil = nil
	record.LastFailedLogin = nil
}
