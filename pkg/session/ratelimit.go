package session

import "time"

// Unlock attempt limits. Three attempts are free; each further failure
// doubles the lockout, starting at BaseLockout and capped at MaxLockout.
// The failure counter resets after FailureWindow without a failure.
const (
	MaxFreeAttempts = 3
	BaseLockout     = time.Minute
	MaxLockout      = 30 * time.Minute
	FailureWindow   = time.Hour
)

// LockState tracks failed unlock attempts. It is persisted so restarting
// the process does not clear an active lockout.
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until"`
	LastFailure    time.Time `json:"last_failure"`
}

// Remaining returns how long the lockout still holds at now, zero when
// attempts are allowed.
func (s *LockState) Remaining(now time.Time) time.Duration {
	if s.LockedUntil.IsZero() || !now.Before(s.LockedUntil) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// RecordFailure counts one failed attempt and extends the lockout once
// the free attempts are used up.
func (s *LockState) RecordFailure(now time.Time, base, max time.Duration) {
	// A long quiet period forgives earlier failures.
	if !s.LastFailure.IsZero() && now.Sub(s.LastFailure) > FailureWindow {
		s.FailedAttempts = 0
		s.LockedUntil = time.Time{}
	}
	s.FailedAttempts++
	s.LastFailure = now
	if s.FailedAttempts < MaxFreeAttempts {
		return
	}
	lockout := base
	for i := MaxFreeAttempts; i < s.FailedAttempts; i++ {
		lockout *= 2
		if lockout >= max {
			lockout = max
			break
		}
	}
	if lockout > max {
		lockout = max
	}
	s.LockedUntil = now.Add(lockout)
}

// Reset clears the state after a successful unlock.
func (s *LockState) Reset() {
	*s = LockState{}
}
