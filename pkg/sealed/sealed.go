// Package sealed produces self-contained encrypted exports of scrolls.
// A sealed blob carries everything needed to open it again except the
// secret: magic bytes, a cleartext header with the KDF parameters, the
// AES-256-GCM ciphertext, and an HMAC trailer over the whole container.
// Opening with the wrong secret, a truncated file, or any tampering all
// fail with the same error; a sealed blob gives no hints.
package sealed

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// MagicNumber identifies sealed export files: "SCRLSEAL".
var MagicNumber = [8]byte{'S', 'C', 'R', 'L', 'S', 'E', 'A', 'L'}

// FormatVersion is the current container version.
const FormatVersion = 1

// URIPrefix is the textual transport form of a sealed blob.
const URIPrefix = "scrollns://v1/"

// Mode selects the secret a blob was sealed under.
type Mode string

const (
	// ModePassword derives the keys from a password via Argon2id.
	ModePassword Mode = "password"
	// ModeKey uses a caller-supplied 32-byte key, typically the session's
	// export subkey.
	ModeKey Mode = "key"
)

// HKDF info strings separating the encryption and MAC keys.
const (
	hkdfInfoEncryption = "scrollns-export-encryption"
	hkdfInfoMAC        = "scrollns-export-mac"
)

// Errors returned by this package.
var (
	// ErrUnsealFailed covers every way opening can fail: wrong secret,
	// truncation, bad magic, unknown version, tampering. Deliberately one
	// error.
	ErrUnsealFailed = errors.New("sealed: unseal failed")

	// ErrNoSecret indicates Seal or Unseal was called with neither a
	// password nor a key.
	ErrNoSecret = errors.New("sealed: a password or a 32-byte key is required")
)

// KDFParams mirrors the Argon2id costs into the cleartext header so the
// blob stays openable after defaults change.
type KDFParams struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// Header is the cleartext container metadata.
type Header struct {
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	Mode        Mode       `json:"mode"`
	KDFParams   *KDFParams `json:"kdf_params,omitempty"` // nil in key mode
	ScrollCount int        `json:"scroll_count"`
}

// Options selects the sealing secret. An empty password with a key means
// key mode; a non-empty password wins over a key.
type Options struct {
	Password string
	Key      []byte
	// KDF overrides the Argon2id costs in password mode. Zero means the
	// defaults.
	KDF crypto.KDFParams
}

type payload struct {
	Scrolls []scroll.Scroll `json:"scrolls"`
}

// deriveKeys produces the encryption and MAC keys for the container.
func deriveKeys(opts Options, params *KDFParams) (encKey, macKey []byte, err error) {
	var master []byte
	switch {
	case opts.Password != "":
		// A password against a key-mode container has no KDF params to
		// derive with; treat it like any other wrong secret.
		if params == nil {
			return nil, nil, ErrUnsealFailed
		}
		master = crypto.DeriveKeyParams([]byte(opts.Password), params.Salt,
			crypto.KDFParams{Memory: params.Memory, Time: params.Iterations, Threads: params.Parallelism})
		defer crypto.SecureWipe(master)
	case len(opts.Key) == crypto.KeyLength:
		master = opts.Key
	default:
		return nil, nil, ErrNoSecret
	}

	encKey, err = deriveHKDF(master, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, err
	}
	macKey, err = deriveHKDF(master, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func deriveHKDF(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, crypto.KeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("sealed: derive key: %w", err)
	}
	return key, nil
}

// Seal packs the scrolls into an encrypted, authenticated container.
func Seal(scrolls []scroll.Scroll, opts Options) ([]byte, error) {
	header := &Header{
		Version:     FormatVersion,
		CreatedAt:   time.Now().UTC(),
		Mode:        ModeKey,
		ScrollCount: len(scrolls),
	}
	if opts.Password != "" {
		kdf := opts.KDF
		if kdf == (crypto.KDFParams{}) {
			kdf = crypto.DefaultKDFParams()
		}
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		header.Mode = ModePassword
		header.KDFParams = &KDFParams{
			Salt:        salt,
			Memory:      kdf.Memory,
			Iterations:  kdf.Time,
			Parallelism: kdf.Threads,
		}
	}

	encKey, macKey, err := deriveKeys(opts, header.KDFParams)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	plain, err := json.Marshal(payload{Scrolls: scrolls})
	if err != nil {
		return nil, fmt.Errorf("sealed: encode scrolls: %w", err)
	}
	blob, err := crypto.Seal(encKey, plain)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(MagicNumber[:])
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("sealed: encode header: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return nil, fmt.Errorf("sealed: write header length: %w", err)
	}
	buf.Write(headerJSON)
	buf.Write(blob)

	// HMAC over everything written so far, appended as the trailer.
	mac := hmac.New(sha256.New, macKey)
	mac.Write(buf.Bytes())
	buf.Write(mac.Sum(nil))

	return buf.Bytes(), nil
}

// Unseal opens a sealed container. Every failure mode returns
// ErrUnsealFailed.
func Unseal(data []byte, opts Options) ([]scroll.Scroll, error) {
	if opts.Password == "" && len(opts.Key) != crypto.KeyLength {
		return nil, ErrNoSecret
	}
	header, body, macTrailer, ok := split(data)
	if !ok {
		return nil, ErrUnsealFailed
	}
	if header.Mode == ModePassword && header.KDFParams == nil {
		return nil, ErrUnsealFailed
	}

	encKey, macKey, err := deriveKeys(opts, header.KDFParams)
	if err != nil {
		if errors.Is(err, ErrNoSecret) {
			return nil, err
		}
		return nil, ErrUnsealFailed
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(data[:len(data)-sha256.Size])
	if !hmac.Equal(mac.Sum(nil), macTrailer) {
		return nil, ErrUnsealFailed
	}

	plain, err := crypto.Open(encKey, body)
	if err != nil {
		return nil, ErrUnsealFailed
	}
	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, ErrUnsealFailed
	}
	return p.Scrolls, nil
}

// split parses the container layout without interpreting the ciphertext.
func split(data []byte) (*Header, []byte, []byte, bool) {
	minLen := len(MagicNumber) + 4 + sha256.Size
	if len(data) < minLen {
		return nil, nil, nil, false
	}
	if !bytes.Equal(data[:len(MagicNumber)], MagicNumber[:]) {
		return nil, nil, nil, false
	}
	rest := data[len(MagicNumber):]
	headerLen := binary.BigEndian.Uint32(rest[:4])
	if headerLen > 1024*1024 || int(headerLen) > len(rest)-4-sha256.Size {
		return nil, nil, nil, false
	}
	var header Header
	if err := json.Unmarshal(rest[4:4+headerLen], &header); err != nil {
		return nil, nil, nil, false
	}
	if header.Version != FormatVersion {
		return nil, nil, nil, false
	}
	body := rest[4+headerLen : len(rest)-sha256.Size]
	trailer := rest[len(rest)-sha256.Size:]
	return &header, body, trailer, true
}

// ReadHeader exposes the cleartext header of a sealed blob, for
// inspection before the secret is known.
func ReadHeader(data []byte) (*Header, error) {
	header, _, _, ok := split(data)
	if !ok {
		return nil, ErrUnsealFailed
	}
	return header, nil
}

// EncodeURI wraps a sealed blob in its textual transport form.
func EncodeURI(data []byte) string {
	return URIPrefix + base64.RawURLEncoding.EncodeToString(data)
}

// DecodeURI unwraps the textual form back into the binary container.
func DecodeURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, URIPrefix)
	if !ok {
		return nil, ErrUnsealFailed
	}
	data, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return data, nil
}
