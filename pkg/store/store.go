// Package store wraps any namespace with encryption at rest. Every
// scroll is canonical-serialized and sealed with AES-256-GCM under a
// session subkey before it reaches the inner namespace, so the backend
// only ever sees ciphertext envelopes. Reads decrypt and watch streams
// republish decrypted scrolls. The store also keeps an encrypted patch
// history per path, enabling point-in-time reconstruction.
package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
	"github.com/hakoda-dev/scrollns/pkg/session"
)

const (
	// SealedSchema is the public schema of every envelope the inner
	// namespace stores.
	SealedSchema = "store/sealed@v1"

	// historyPrefix is the internal subtree holding patch history. It is
	// hidden from List and Watch.
	historyPrefix = "/_history"

	envelopeVersion = 1
)

// envelope is the only payload shape the inner namespace ever sees.
type envelope struct {
	V    int    `json:"v"`
	Blob string `json:"blob"`
}

// Option configures a Store.
type Option func(*Store)

// WithoutHistory disables the per-write patch history.
func WithoutHistory() Option {
	return func(s *Store) { s.history = false }
}

// Store implements namespace.Namespace over an inner namespace it owns.
type Store struct {
	inner   namespace.Namespace
	sess    *session.Manager
	label   string
	history bool
	now     func() time.Time

	// writeMu serializes the read-stamp-write-history cycle. Concurrent
	// writers would otherwise stamp the same base version and collide on
	// a history sequence number.
	writeMu sync.Mutex
}

var _ namespace.Namespace = (*Store)(nil)
var _ namespace.ScrollWriter = (*Store)(nil)

// New wraps inner with encryption under the session subkey for the given
// domain label. The store takes ownership of inner; closing the store
// closes it.
func New(inner namespace.Namespace, sess *session.Manager, label string, opts ...Option) *Store {
	s := &Store{
		inner:   inner,
		sess:    sess,
		label:   label,
		history: true,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// key returns the store's AEAD key, failing with ErrVaultLocked when no
// session is active.
func (s *Store) key() ([]byte, error) {
	return s.sess.DeriveKey(session.LabelStorePrefix + s.label)
}

func internalKey(path string) bool {
	return path == historyPrefix || strings.HasPrefix(path, historyPrefix+"/")
}

// seal encrypts a plaintext scroll into an inner envelope payload.
func (s *Store) seal(key []byte, plain *scroll.Scroll) (map[string]any, error) {
	raw, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("store: encode scroll: %w", err)
	}
	blob, err := crypto.Seal(key, raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"v":    float64(envelopeVersion),
		"blob": base64.StdEncoding.EncodeToString(blob),
	}, nil
}

// unseal decrypts an inner envelope back into the plaintext scroll. Any
// structural damage to the envelope surfaces as ErrDecryptionFailed; the
// caller cannot distinguish a stripped field from a flipped bit, and
// should not.
func (s *Store) unseal(key []byte, payload any) (*scroll.Scroll, error) {
	var env envelope
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad envelope", crypto.ErrDecryptionFailed)
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.V != envelopeVersion || env.Blob == "" {
		return nil, fmt.Errorf("%w: bad envelope", crypto.ErrDecryptionFailed)
	}
	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: bad envelope encoding", crypto.ErrDecryptionFailed)
	}
	plainRaw, err := crypto.Open(key, blob)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", crypto.ErrDecryptionFailed, err)
	}
	var plain scroll.Scroll
	if err := json.Unmarshal(plainRaw, &plain); err != nil {
		return nil, fmt.Errorf("%w: bad plaintext", crypto.ErrDecryptionFailed)
	}
	return &plain, nil
}

// Read implements namespace.Namespace.
func (s *Store) Read(path string) (*scroll.Scroll, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}
	sealed, err := s.inner.Read(path)
	if err != nil {
		return nil, err
	}
	return s.unseal(key, sealed.Payload)
}

// Write implements namespace.Namespace.
func (s *Store) Write(path string, payload any) (*scroll.Scroll, error) {
	return s.WriteScroll(scroll.New(path, scroll.GenericSchema, payload))
}

// WriteScroll commits a full envelope, preserving its schema inside the
// ciphertext.
func (s *Store) WriteScroll(plain scroll.Scroll) (*scroll.Scroll, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}
	if err := scroll.ValidatePath(plain.Key); err != nil {
		return nil, err
	}
	if internalKey(plain.Key) {
		return nil, fmt.Errorf("%w: %s is reserved", scroll.ErrInvalidPath, plain.Key)
	}
	if err := scroll.ValidateSchema(plain.Schema); err != nil {
		return nil, err
	}
	norm, err := scroll.Normalize(plain.Payload)
	if err != nil {
		return nil, fmt.Errorf("store: normalize payload: %w", err)
	}
	plain.Payload = norm

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Current plaintext state, if any, drives versioning and the history
	// diff.
	prev, err := s.Read(plain.Key)
	if err != nil && !errors.Is(err, namespace.ErrNotFound) {
		return nil, err
	}
	if err := plain.Stamp(prev, s.now()); err != nil {
		return nil, err
	}

	env, err := s.seal(key, &plain)
	if err != nil {
		return nil, err
	}
	if _, err := namespace.WriteScroll(s.inner, scroll.New(plain.Key, SealedSchema, env)); err != nil {
		return nil, err
	}

	if s.history {
		if err := s.appendHistory(key, prev, &plain); err != nil {
			return nil, err
		}
	}
	c := plain.Clone()
	return &c, nil
}

// List implements namespace.Namespace, hiding the internal history
// subtree.
func (s *Store) List(prefix string) ([]string, error) {
	if _, err := s.key(); err != nil {
		return nil, err
	}
	keys, err := s.inner.List(prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if !internalKey(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Watch subscribes to the inner namespace and republishes decrypted
// scrolls. A scroll that fails to decrypt becomes an error event; the
// stream itself continues.
func (s *Store) Watch(pattern string) (*namespace.Subscription, error) {
	if _, err := s.key(); err != nil {
		return nil, err
	}
	inner, err := s.inner.Watch(pattern)
	if err != nil {
		return nil, err
	}
	outer := namespace.NewSubscription(pattern)
	go func() {
		defer outer.Cancel()
		defer inner.Cancel()
		for {
			var ev namespace.Event
			var ok bool
			select {
			case ev, ok = <-inner.Events():
				if !ok {
					return
				}
			case <-outer.Done():
				return
			}
			if ev.Scroll != nil && internalKey(ev.Scroll.Key) {
				continue
			}
			out := ev
			if ev.Scroll != nil {
				key, err := s.key()
				if err != nil {
					// Session locked mid-stream; the consumer learns once
					// and the stream ends.
					outer.Publish(namespace.Event{Err: err})
					return
				}
				plain, err := s.unseal(key, ev.Scroll.Payload)
				if err != nil {
					out = namespace.Event{Err: fmt.Errorf("store: %s: %w", ev.Scroll.Key, err)}
				} else {
					out = namespace.Event{Scroll: plain}
				}
			}
			if !outer.Publish(out) {
				return
			}
		}
	}()
	return outer, nil
}

// Close implements namespace.Namespace. The inner namespace is owned by
// the store and is closed with it.
func (s *Store) Close() error {
	return s.inner.Close()
}
