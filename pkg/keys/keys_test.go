package keys

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
	"github.com/hakoda-dev/scrollns/pkg/session"
)

func unlockedRing(t *testing.T) *Ring {
	t.Helper()
	m, err := session.Open(t.TempDir(), session.Config{
		KDF: crypto.KDFParams{Memory: 64, Time: 1, Threads: 1},
	})
	if err != nil {
		t.Fatalf("session.Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.Initialize("2468", "legal winner thank year wave sausage worth useful legal winner thank yellow"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return NewRing(m, nil)
}

func TestReceiveAddressDeterministic(t *testing.T) {
	r := unlockedRing(t)

	addr0, err := r.ReceiveAddress(0)
	if err != nil {
		t.Fatalf("ReceiveAddress(0) error = %v", err)
	}
	if !strings.HasPrefix(addr0, "bc1") {
		t.Errorf("address = %q, want native segwit (bc1...)", addr0)
	}

	again, _ := r.ReceiveAddress(0)
	if addr0 != again {
		t.Error("same index produced different addresses")
	}
	addr1, _ := r.ReceiveAddress(1)
	if addr0 == addr1 {
		t.Error("different indexes produced the same address")
	}
}

func TestIdentityKeyIndependentOfReceiveTree(t *testing.T) {
	r := unlockedRing(t)

	pub, err := r.IdentityPublicKey()
	if err != nil {
		t.Fatalf("IdentityPublicKey() error = %v", err)
	}
	if len(pub) != 64 {
		t.Errorf("identity pubkey hex length = %d, want 64 (x-only)", len(pub))
	}

	recv, _ := r.ReceiveKey(0)
	ident, _ := r.IdentityKey()
	if bytes.Equal(recv.Serialize(), ident.Serialize()) {
		t.Error("identity key collides with receive key")
	}
}

func TestSignVerifyMessage(t *testing.T) {
	r := unlockedRing(t)

	msg := []byte("proof of account ownership")
	sig, err := r.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	pub, _ := r.IdentityPublicKey()

	ok, err := VerifyMessage(pub, msg, sig)
	if err != nil {
		t.Fatalf("VerifyMessage() error = %v", err)
	}
	if !ok {
		t.Error("valid signature rejected")
	}

	ok, err = VerifyMessage(pub, []byte("different message"), sig)
	if err != nil {
		t.Fatalf("VerifyMessage() error = %v", err)
	}
	if ok {
		t.Error("signature verified against the wrong message")
	}
}

func TestLightningEntropy(t *testing.T) {
	r := unlockedRing(t)

	entropy, err := r.LightningEntropy()
	if err != nil {
		t.Fatalf("LightningEntropy() error = %v", err)
	}
	if len(entropy) != 32 {
		t.Errorf("entropy length = %d, want 32", len(entropy))
	}
	master, _ := r.session.MasterKey()
	if bytes.Equal(entropy, master) {
		t.Error("lightning entropy equals the master key")
	}
	again, _ := r.LightningEntropy()
	if !bytes.Equal(entropy, again) {
		t.Error("lightning entropy not deterministic within a session")
	}
}

func TestDerivationRequiresUnlockedSession(t *testing.T) {
	r := unlockedRing(t)
	r.session.Lock()

	if _, err := r.ReceiveAddress(0); !errors.Is(err, session.ErrVaultLocked) {
		t.Errorf("ReceiveAddress() while locked = %v, want ErrVaultLocked", err)
	}
	if _, err := r.SignMessage([]byte("x")); !errors.Is(err, session.ErrVaultLocked) {
		t.Errorf("SignMessage() while locked = %v, want ErrVaultLocked", err)
	}
}
