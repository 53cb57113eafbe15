package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
)

const (
	testPIN      = "2468"
	testMnemonic = "abandon ability able about above absent absorb abstract absurd abuse access accident"
)

// clock is a manual test clock.
type clock struct {
	now time.Time
}

func (c *clock) timeNow() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testManager(t *testing.T, dir string, c *clock) *Manager {
	t.Helper()
	m, err := Open(dir, Config{
		KDF:         crypto.KDFParams{Memory: 64, Time: 1, Threads: 1},
		Timeout:     5 * time.Minute,
		BaseLockout: time.Minute,
		MaxLockout:  30 * time.Minute,
		Now:         c.timeNow,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInitializeUnlockLifecycle(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)

	if ok, _ := m.Initialized(); ok {
		t.Fatal("Initialized() = true before Initialize")
	}
	if err := m.Unlock(testPIN); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Unlock() before init = %v, want ErrNotInitialized", err)
	}

	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := m.Initialize(testPIN, testMnemonic); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize() = %v, want ErrAlreadyInitialized", err)
	}
	if !m.Unlocked() {
		t.Error("session not active after Initialize")
	}

	storeKey, err := m.DeriveKey(LabelStorePrefix + "wallet")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	auditKey, _ := m.DeriveKey(LabelAudit)
	if bytes.Equal(storeKey, auditKey) {
		t.Error("different labels produced the same key")
	}
	again, _ := m.DeriveKey(LabelStorePrefix + "wallet")
	if !bytes.Equal(storeKey, again) {
		t.Error("same label produced different keys within one session")
	}

	m.Lock()
	if m.Unlocked() {
		t.Error("Unlocked() = true after Lock")
	}
	if _, err := m.DeriveKey(LabelAudit); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("DeriveKey() while locked = %v, want ErrVaultLocked", err)
	}
	if _, err := m.MasterKey(); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("MasterKey() while locked = %v, want ErrVaultLocked", err)
	}

	if err := m.Unlock("0000"); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("Unlock(wrong) = %v, want ErrInvalidPIN", err)
	}
	if err := m.Unlock(testPIN); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	relocked, _ := m.DeriveKey(LabelStorePrefix + "wallet")
	if !bytes.Equal(storeKey, relocked) {
		t.Error("derived key changed across sessions for the same label")
	}
}

func TestZeroizationOnLock(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	master, err := m.MasterKey()
	if err != nil {
		t.Fatalf("MasterKey() error = %v", err)
	}
	derived, _ := m.DeriveKey(LabelAudit)

	m.Lock()
	for _, b := range master {
		if b != 0 {
			t.Error("master key not zeroized on lock")
			break
		}
	}
	for _, b := range derived {
		if b != 0 {
			t.Error("derived key not zeroized on lock")
			break
		}
	}
}

func TestRateLimiting(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	m.Lock()

	// Three failures count as plain wrong-PIN errors; the third opens
	// the backoff window at the base duration.
	for i := 0; i < 3; i++ {
		if err := m.Unlock("bad"); !errors.Is(err, ErrInvalidPIN) {
			t.Fatalf("failure %d = %v, want ErrInvalidPIN", i+1, err)
		}
	}
	if rem, err := m.LockoutRemaining(); err != nil || rem != time.Minute {
		t.Errorf("lockout after third failure = %s (%v), want 1m", rem, err)
	}

	// The fourth attempt fails fast, even with the correct PIN.
	remaining, ok := IsRateLimited(m.Unlock(testPIN))
	if !ok {
		t.Fatal("correct PIN accepted during lockout")
	}
	if remaining != time.Minute {
		t.Errorf("first lockout = %s, want 1m", remaining)
	}

	// After the lockout expires, the next failure counts again and
	// doubles the window.
	c.advance(time.Minute + time.Second)
	if err := m.Unlock("bad"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("failure after window = %v, want ErrInvalidPIN", err)
	}
	remaining, ok = IsRateLimited(m.Unlock("bad"))
	if !ok {
		t.Fatal("attempt during doubled lockout not rate limited")
	}
	if remaining != 2*time.Minute {
		t.Errorf("second lockout = %s, want 2m", remaining)
	}

	// Success once the lockout has passed resets the counter.
	c.advance(2*time.Minute + time.Second)
	if err := m.Unlock(testPIN); err != nil {
		t.Fatalf("Unlock() after lockout = %v", err)
	}
	if rem, _ := m.LockoutRemaining(); rem != 0 {
		t.Errorf("LockoutRemaining() after success = %s, want 0", rem)
	}
	m.Lock()
	if err := m.Unlock("bad"); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("failure after reset = %v, want plain ErrInvalidPIN", err)
	}
}

func TestConcurrentUnlockFailuresTripLockout(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	m.Lock()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Unlock("0000")
		}()
	}
	wg.Wait()

	rem, err := m.LockoutRemaining()
	if err != nil {
		t.Fatalf("LockoutRemaining() error = %v", err)
	}
	if rem <= 0 {
		t.Fatal("no lockout after concurrent failures")
	}
	if _, ok := IsRateLimited(m.Unlock(testPIN)); !ok {
		t.Error("correct PIN accepted during lockout")
	}
}

func TestLockoutSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, dir, c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	m.Lock()
	for i := 0; i < 3; i++ {
		m.Unlock("bad")
	}
	m.Close()

	reopened := testManager(t, dir, c)
	if _, ok := IsRateLimited(reopened.Unlock(testPIN)); !ok {
		t.Error("lockout did not survive restart")
	}
}

func TestInactivityTimeout(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	c.advance(4 * time.Minute)
	if _, err := m.DeriveKey(LabelAudit); err != nil {
		t.Fatalf("DeriveKey() within timeout = %v", err)
	}

	// Activity reset the clock; another four minutes is still fine.
	c.advance(4 * time.Minute)
	if !m.Unlocked() {
		t.Error("session expired despite recent activity")
	}

	c.advance(6 * time.Minute)
	if m.Unlocked() {
		t.Error("session survived past the inactivity timeout")
	}
	if _, err := m.DeriveKey(LabelAudit); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("DeriveKey() after timeout = %v, want ErrVaultLocked", err)
	}
}

func TestChangePIN(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	before, _ := m.DeriveKey(LabelStorePrefix + "wallet")
	beforeCopy := append([]byte(nil), before...)

	if err := m.ChangePIN("wrong", "1357"); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("ChangePIN(wrong old) = %v, want ErrInvalidPIN", err)
	}
	if err := m.ChangePIN(testPIN, "1357"); err != nil {
		t.Fatalf("ChangePIN() error = %v", err)
	}

	m.Lock()
	if err := m.Unlock(testPIN); !errors.Is(err, ErrInvalidPIN) {
		t.Errorf("old PIN still accepted after change: %v", err)
	}
	if err := m.Unlock("1357"); err != nil {
		t.Fatalf("Unlock(new PIN) error = %v", err)
	}
	after, _ := m.DeriveKey(LabelStorePrefix + "wallet")
	if !bytes.Equal(beforeCopy, after) {
		t.Error("derived keys changed after PIN change; stored data would be lost")
	}
}

func TestReset(t *testing.T) {
	c := &clock{now: time.Now().UTC()}
	m := testManager(t, t.TempDir(), c)
	if err := m.Initialize(testPIN, testMnemonic); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if ok, _ := m.Initialized(); ok {
		t.Error("Initialized() = true after Reset")
	}
	if m.Unlocked() {
		t.Error("session still active after Reset")
	}
}
