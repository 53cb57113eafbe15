// Package session owns the root of the key hierarchy. A mnemonic is
// stretched into a 256-bit master key with Argon2id, wrapped under a
// PIN-derived key, and persisted only in wrapped form. Unlocking opens a
// session that hands out HKDF subkeys per domain label; locking zeroizes
// every byte of key material in memory. Unlock attempts are rate limited
// with an exponential lockout that survives restarts.
package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
)

// DefaultTimeout is the inactivity window after which the session locks
// itself. Any successful key access resets the clock.
const DefaultTimeout = 5 * time.Minute

// Derivation labels. Every consumer of session keys gets its own label so
// compromise of one derived key never exposes another domain.
const (
	LabelStorePrefix = "scrollns/v1/store:"
	LabelAudit       = "scrollns/v1/audit"
	LabelExport      = "scrollns/v1/export"
	LabelLightning   = "scrollns/v1/lightning-entropy"
)

// Config tunes the session manager. Zero values fall back to defaults.
type Config struct {
	// KDF are the Argon2id costs for both the mnemonic and PIN
	// derivations. Tests use reduced costs.
	KDF crypto.KDFParams
	// Timeout is the inactivity window before auto-lock.
	Timeout time.Duration
	// BaseLockout and MaxLockout bound the exponential unlock backoff.
	BaseLockout time.Duration
	MaxLockout  time.Duration
	// Now injects a clock for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.KDF == (crypto.KDFParams{}) {
		c.KDF = crypto.DefaultKDFParams()
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BaseLockout == 0 {
		c.BaseLockout = BaseLockout
	}
	if c.MaxLockout == 0 {
		c.MaxLockout = MaxLockout
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Manager is the session state machine. All methods are safe for
// concurrent use.
type Manager struct {
	cfg   Config
	store *store

	// unlockMu serializes the whole check/derive/record unlock cycle.
	// Without it, concurrent attempts read the same failure counter and
	// overwrite each other's updates, so a parallel guesser never trips
	// the lockout.
	unlockMu sync.Mutex

	mu           sync.Mutex
	master       []byte
	masterSalt   []byte
	derived      map[string][]byte
	lastActivity time.Time
}

// Open attaches a manager to the vault directory, creating the key store
// if needed. The session starts locked.
func Open(dir string, cfg Config) (*Manager, error) {
	st, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg.withDefaults(), store: st}, nil
}

// Initialized reports whether a key record exists.
func (m *Manager) Initialized() (bool, error) {
	_, err := m.store.loadKeys()
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Initialize derives the master key from the mnemonic, wraps it under the
// PIN, persists the wrapped record, and opens a session. The mnemonic is
// treated as opaque text; it is NFKD-normalized so visually identical
// input always derives the same key.
func (m *Manager) Initialize(pin, mnemonic string) error {
	if pin == "" {
		return fmt.Errorf("session: empty PIN")
	}
	if mnemonic == "" {
		return fmt.Errorf("session: empty mnemonic")
	}
	if ok, err := m.Initialized(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}

	masterSalt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	pinSalt, err := crypto.NewSalt()
	if err != nil {
		return err
	}

	master := crypto.DeriveKeyParams([]byte(norm.NFKD.String(mnemonic)), masterSalt, m.cfg.KDF)
	pinKey := crypto.DeriveKeyParams([]byte(pin), pinSalt, m.cfg.KDF)
	defer crypto.SecureWipe(pinKey)

	wrapped, err := crypto.Seal(pinKey, master)
	if err != nil {
		crypto.SecureWipe(master)
		return err
	}

	now := m.cfg.Now()
	rec := &keyRecord{
		MasterSalt:    masterSalt,
		PINSalt:       pinSalt,
		WrappedMaster: wrapped,
		KDF:           m.cfg.KDF,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.saveKeys(rec); err != nil {
		crypto.SecureWipe(master)
		return err
	}

	m.mu.Lock()
	m.activate(master, masterSalt, now)
	m.mu.Unlock()
	return nil
}

// activate installs an unlocked session. Caller holds m.mu.
func (m *Manager) activate(master, masterSalt []byte, now time.Time) {
	m.wipeLocked()
	m.master = master
	m.masterSalt = append([]byte(nil), masterSalt...)
	m.derived = make(map[string][]byte)
	m.lastActivity = now
}

// Unlock opens a session from the PIN. Rate limiting is checked before
// the KDF runs so a locked-out caller cannot burn CPU guessing PINs.
func (m *Manager) Unlock(pin string) error {
	m.unlockMu.Lock()
	defer m.unlockMu.Unlock()

	rec, err := m.store.loadKeys()
	if err != nil {
		return err
	}
	lock, err := m.store.loadLockState()
	if err != nil {
		return err
	}
	now := m.cfg.Now()
	if remaining := lock.Remaining(now); remaining > 0 {
		return &RateLimitedError{Remaining: remaining}
	}

	pinKey := crypto.DeriveKeyParams([]byte(pin), rec.PINSalt, rec.KDF)
	defer crypto.SecureWipe(pinKey)

	master, err := crypto.Open(pinKey, rec.WrappedMaster)
	if err != nil {
		// Unwrap failure here always means a wrong PIN. The wrapped blob
		// was read back intact from the key store. The attempt that opens
		// a backoff window still reports the wrong PIN; only subsequent
		// attempts fail fast with RateLimitedError.
		lock.RecordFailure(now, m.cfg.BaseLockout, m.cfg.MaxLockout)
		if saveErr := m.store.saveLockState(lock); saveErr != nil {
			return saveErr
		}
		return ErrInvalidPIN
	}

	lock.Reset()
	if err := m.store.saveLockState(lock); err != nil {
		crypto.SecureWipe(master)
		return err
	}

	m.mu.Lock()
	m.activate(master, rec.MasterSalt, now)
	m.mu.Unlock()
	return nil
}

// Lock ends the session and zeroizes the master key and every derived
// key. Idempotent.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wipeLocked()
}

func (m *Manager) wipeLocked() {
	crypto.SecureWipe(m.master)
	m.master = nil
	for _, k := range m.derived {
		crypto.SecureWipe(k)
	}
	m.derived = nil
	m.masterSalt = nil
	m.lastActivity = time.Time{}
}

// Unlocked reports whether a session is active, applying the inactivity
// timeout as a side effect.
func (m *Manager) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkLocked()
}

// checkLocked enforces the inactivity timeout. Caller holds m.mu.
func (m *Manager) checkLocked() bool {
	if m.master == nil {
		return false
	}
	if m.cfg.Now().Sub(m.lastActivity) > m.cfg.Timeout {
		m.wipeLocked()
		return false
	}
	return true
}

// LockoutRemaining returns the active unlock lockout, zero when attempts
// are allowed.
func (m *Manager) LockoutRemaining() (time.Duration, error) {
	lock, err := m.store.loadLockState()
	if err != nil {
		return 0, err
	}
	return lock.Remaining(m.cfg.Now()), nil
}

// DeriveKey returns the HKDF subkey for a domain label, caching it for
// the lifetime of the session. The returned slice is owned by the
// session and is zeroized on lock; callers must not retain it.
func (m *Manager) DeriveKey(label string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.checkLocked() {
		return nil, ErrVaultLocked
	}
	if k, ok := m.derived[label]; ok {
		m.lastActivity = m.cfg.Now()
		return k, nil
	}
	k, err := crypto.DeriveSubKey(m.master, m.masterSalt, label)
	if err != nil {
		return nil, err
	}
	m.derived[label] = k
	m.lastActivity = m.cfg.Now()
	return k, nil
}

// MasterKey exposes the raw master key to the derivation layer in
// pkg/keys. The slice is owned by the session; callers must not retain
// it past the session.
func (m *Manager) MasterKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.checkLocked() {
		return nil, ErrVaultLocked
	}
	m.lastActivity = m.cfg.Now()
	return m.master, nil
}

// ChangePIN rewraps the master key under a new PIN. The master key and
// the mnemonic derivation are untouched, so no stored data needs
// re-encryption.
func (m *Manager) ChangePIN(oldPIN, newPIN string) error {
	if newPIN == "" {
		return fmt.Errorf("session: empty PIN")
	}
	rec, err := m.store.loadKeys()
	if err != nil {
		return err
	}

	oldKey := crypto.DeriveKeyParams([]byte(oldPIN), rec.PINSalt, rec.KDF)
	defer crypto.SecureWipe(oldKey)
	master, err := crypto.Open(oldKey, rec.WrappedMaster)
	if err != nil {
		return ErrInvalidPIN
	}
	defer crypto.SecureWipe(master)

	// Sanity check against the live session when one is active.
	m.mu.Lock()
	if m.master != nil && subtle.ConstantTimeCompare(m.master, master) != 1 {
		m.mu.Unlock()
		return fmt.Errorf("session: key store out of sync with active session")
	}
	m.mu.Unlock()

	pinSalt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	newKey := crypto.DeriveKeyParams([]byte(newPIN), pinSalt, rec.KDF)
	defer crypto.SecureWipe(newKey)
	wrapped, err := crypto.Seal(newKey, master)
	if err != nil {
		return err
	}

	rec.PINSalt = pinSalt
	rec.WrappedMaster = wrapped
	rec.UpdatedAt = m.cfg.Now()
	return m.store.saveKeys(rec)
}

// Reset locks the session and destroys the persisted key record and lock
// state. Data encrypted under the old hierarchy becomes unreadable.
func (m *Manager) Reset() error {
	m.Lock()
	return m.store.destroy()
}

// Close locks the session and releases the key store.
func (m *Manager) Close() error {
	m.Lock()
	return m.store.close()
}
