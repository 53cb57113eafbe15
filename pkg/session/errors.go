package session

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the session layer.
var (
	// ErrVaultLocked indicates key material was requested while no session
	// is active.
	ErrVaultLocked = errors.New("session: vault is locked")

	// ErrNotInitialized indicates the vault has never been initialized.
	ErrNotInitialized = errors.New("session: vault not initialized")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("session: vault already initialized")

	// ErrInvalidPIN indicates the supplied PIN failed to unwrap the master
	// key. Wrong PIN is always distinguishable from data corruption
	// because unwrap failure happens before any payload is touched.
	ErrInvalidPIN = errors.New("session: invalid PIN")
)

// RateLimitedError is returned while unlock attempts are locked out. It
// reports how long the caller has to wait; a frontend shows this verbatim.
type RateLimitedError struct {
	Remaining time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("session: rate limited, retry in %s", e.Remaining.Round(time.Second))
}

// IsRateLimited reports whether err is a rate-limit rejection and returns
// the remaining wait.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.Remaining, true
	}
	return 0, false
}
