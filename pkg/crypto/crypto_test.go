package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// testParams keeps Argon2id cheap in tests.
var testParams = KDFParams{Memory: 64, Time: 1, Threads: 1}

func TestDeriveKeyParams(t *testing.T) {
	secret := []byte("correct horse battery staple")
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	key := DeriveKeyParams(secret, salt, testParams)
	if len(key) != KeyLength {
		t.Errorf("DeriveKeyParams() key length = %d, want %d", len(key), KeyLength)
	}

	// Deterministic for identical inputs.
	if !bytes.Equal(key, DeriveKeyParams(secret, salt, testParams)) {
		t.Error("DeriveKeyParams() with same inputs should produce identical keys")
	}

	// Secret and salt both matter.
	if bytes.Equal(key, DeriveKeyParams([]byte("other secret"), salt, testParams)) {
		t.Error("DeriveKeyParams() with different secret should produce different key")
	}
	otherSalt, _ := NewSalt()
	if bytes.Equal(key, DeriveKeyParams(secret, otherSalt, testParams)) {
		t.Error("DeriveKeyParams() with different salt should produce different key")
	}
}

func TestDefaultKDFParams(t *testing.T) {
	p := DefaultKDFParams()
	if p.Memory != 64*1024 {
		t.Errorf("Memory = %d, want %d (64MB)", p.Memory, 64*1024)
	}
	if p.Time != 3 {
		t.Errorf("Time = %d, want 3", p.Time)
	}
	if p.Threads != 4 {
		t.Errorf("Threads = %d, want 4", p.Threads)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (KDFParams{}).Validate(); err == nil {
		t.Error("Validate() on zero params should fail")
	}
}

func TestDeriveSubKey(t *testing.T) {
	master, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	salt, _ := NewSalt()

	storeKey, err := DeriveSubKey(master, salt, "scrollns/v1/store:wallet")
	if err != nil {
		t.Fatalf("DeriveSubKey() error = %v", err)
	}
	if len(storeKey) != KeyLength {
		t.Errorf("subkey length = %d, want %d", len(storeKey), KeyLength)
	}

	// Distinct labels must yield independent keys.
	auditKey, err := DeriveSubKey(master, salt, "scrollns/v1/audit")
	if err != nil {
		t.Fatalf("DeriveSubKey() error = %v", err)
	}
	if bytes.Equal(storeKey, auditKey) {
		t.Error("different labels produced the same subkey")
	}

	// Deterministic for the same label.
	again, _ := DeriveSubKey(master, salt, "scrollns/v1/store:wallet")
	if !bytes.Equal(storeKey, again) {
		t.Error("same label produced different subkeys")
	}

	if _, err := DeriveSubKey(master[:16], salt, "x"); err != ErrInvalidKeyLength {
		t.Errorf("DeriveSubKey(short master) error = %v, want ErrInvalidKeyLength", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _ := NewKey()

	testCases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"small", []byte("x")},
		{"medium", []byte("a balance scroll serialized to canonical JSON")},
		{"large", make([]byte, 10000)},
		{"binary", []byte{0x00, 0xFF, 0x01, 0xFE, 0x02, 0xFD}},
	}
	if _, err := rand.Read(testCases[3].plaintext); err != nil {
		t.Fatalf("failed to generate random data: %v", err)
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, nonce, err := Encrypt(key, tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(nonce) != NonceLength {
				t.Errorf("nonce length = %d, want %d", len(nonce), NonceLength)
			}
			decrypted, err := Decrypt(key, ciphertext, nonce)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("round trip failed: got length %d, want length %d", len(decrypted), len(tc.plaintext))
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, _ := NewKey()
	wrongKey, _ := NewKey()

	ciphertext, nonce, err := Encrypt(key, []byte("secret data"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(wrongKey, ciphertext, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	key, _ := NewKey()

	ciphertext, nonce, err := Encrypt(key, []byte("data that should be protected"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0x01

	if _, err := Decrypt(key, tampered, nonce); err != ErrDecryptionFailed {
		t.Errorf("Decrypt() with tampered ciphertext error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestDecryptArgumentValidation(t *testing.T) {
	key := make([]byte, KeyLength)
	nonce := make([]byte, NonceLength)

	if _, err := Decrypt(make([]byte, 16), make([]byte, 32), nonce); err != ErrInvalidKeyLength {
		t.Errorf("short key error = %v, want %v", err, ErrInvalidKeyLength)
	}
	if _, err := Decrypt(key, make([]byte, 32), make([]byte, 8)); err != ErrInvalidNonceLength {
		t.Errorf("short nonce error = %v, want %v", err, ErrInvalidNonceLength)
	}
	if _, err := Decrypt(key, make([]byte, 10), nonce); err != ErrCiphertextTooShort {
		t.Errorf("short ciphertext error = %v, want %v", err, ErrCiphertextTooShort)
	}
}

func TestSealOpen(t *testing.T) {
	key, _ := NewKey()
	plaintext := []byte("wrapped master key material")

	blob, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(blob) < NonceLength+len(plaintext) {
		t.Errorf("blob length = %d, want at least nonce+plaintext", len(blob))
	}

	opened, err := Open(key, blob)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("Seal/Open round trip mismatch")
	}

	if _, err := Open(key, blob[:NonceLength-1]); err != ErrCiphertextTooShort {
		t.Errorf("Open(truncated) error = %v, want %v", err, ErrCiphertextTooShort)
	}
	wrongKey, _ := NewKey()
	if _, err := Open(wrongKey, blob); err != ErrDecryptionFailed {
		t.Errorf("Open(wrong key) error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestEncryptProducesUniqueNonce(t *testing.T) {
	key, _ := NewKey()
	plaintext := []byte("test data")
	nonces := make(map[string]bool)

	for i := 0; i < 100; i++ {
		_, nonce, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if nonces[string(nonce)] {
			t.Errorf("Encrypt() produced duplicate nonce on iteration %d", i)
		}
		nonces[string(nonce)] = true
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("SecureWipe() byte[%d] = %d, want 0", i, b)
		}
	}

	// Must not panic on empty or nil slices.
	SecureWipe([]byte{})
	SecureWipe(nil)
}
