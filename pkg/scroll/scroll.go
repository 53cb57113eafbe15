// Package scroll defines the data envelope shared by every layer of the
// system. A Scroll wraps an opaque JSON-like payload with addressing,
// schema, and integrity metadata. Payloads are never interpreted here;
// only the envelope is.
package scroll

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	// GenericSchema is assigned to scrolls written through the plain
	// write operation, which carries a payload but no schema.
	GenericSchema = "core/generic@v1"

	// MaxPayloadSize is the maximum canonical-serialized payload size in bytes (1MB).
	MaxPayloadSize = 1024 * 1024
)

// ErrSchemaMismatch indicates a schema string that does not follow the
// domain/entity@version form, or a write that contradicts the stored schema.
var ErrSchemaMismatch = errors.New("scroll: schema mismatch")

// schemaPattern enforces the domain/entity@version form, e.g. "wallet/balance@v1".
var schemaPattern = regexp.MustCompile(`^[a-z0-9_-]+/[a-z0-9_-]+@v[0-9]+$`)

// Meta carries the envelope metadata maintained by backends on every write.
type Meta struct {
	// Version starts at 1 and increments on every committed write.
	Version uint64 `json:"version"`
	// Hash is the hex SHA-256 content hash of key, schema, and payload.
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scroll is the universal envelope. Key is a slash-separated path, Schema
// names the payload shape, and Payload is an opaque JSON-equivalent value.
type Scroll struct {
	Key     string `json:"key"`
	Schema  string `json:"schema"`
	Meta    Meta   `json:"meta"`
	Payload any    `json:"payload"`
}

// New builds an unversioned scroll for the given key and payload. Backends
// assign Meta on commit.
func New(key, schema string, payload any) Scroll {
	return Scroll{Key: key, Schema: schema, Payload: payload}
}

// ValidateSchema checks the domain/entity@version form.
func ValidateSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("%w: %q", ErrSchemaMismatch, schema)
	}
	return nil
}

// ComputeHash returns the hex SHA-256 content hash of a scroll: the key,
// the schema, and the canonical serialization of the payload. Two scrolls
// with equal keys, schemas, and payload values hash equal regardless of
// how their payload maps were constructed.
func ComputeHash(key, schema string, payload any) (string, error) {
	canon, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("scroll: hash payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte(schema))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Hash computes the content hash of s from its current fields.
func (s *Scroll) Hash() (string, error) {
	return ComputeHash(s.Key, s.Schema, s.Payload)
}

// Stamp assigns commit metadata: it bumps the version past prev (or starts
// at 1), recomputes the hash, preserves the original creation time, and
// sets the update time to now.
func (s *Scroll) Stamp(prev *Scroll, now time.Time) error {
	hash, err := s.Hash()
	if err != nil {
		return err
	}
	s.Meta.Hash = hash
	s.Meta.UpdatedAt = now
	if prev != nil {
		s.Meta.Version = prev.Meta.Version + 1
		s.Meta.CreatedAt = prev.Meta.CreatedAt
	} else {
		s.Meta.Version = 1
		s.Meta.CreatedAt = now
	}
	return nil
}

// Clone returns a deep copy of s. Payload values are copied recursively so
// the caller cannot alias state held by a backend.
func (s *Scroll) Clone() Scroll {
	out := *s
	out.Payload = CloneValue(s.Payload)
	return out
}

// CloneValue deep-copies a JSON-equivalent value. Scalars are returned as
// is; maps and slices are copied recursively.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}
