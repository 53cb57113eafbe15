package backend

import (
	"sort"
	"sync"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// Memory is an in-process backend. Scrolls live in a map guarded by a
// read-write mutex; payloads are deep-copied on the way in and out so a
// caller can never mutate stored state through a retained reference.
type Memory struct {
	mu      sync.RWMutex
	scrolls map[string]scroll.Scroll
	hub     *hub
	closed  bool
	now     func() time.Time
}

var _ namespace.Namespace = (*Memory)(nil)
var _ namespace.ScrollWriter = (*Memory)(nil)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		scrolls: make(map[string]scroll.Scroll),
		hub:     newHub(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Read implements namespace.Namespace.
func (m *Memory) Read(path string) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, namespace.ErrClosed
	}
	s, ok := m.scrolls[path]
	if !ok {
		return nil, namespace.ErrNotFound
	}
	c := s.Clone()
	return &c, nil
}

// Write implements namespace.Namespace.
func (m *Memory) Write(path string, payload any) (*scroll.Scroll, error) {
	return m.commit(scroll.New(path, scroll.GenericSchema, payload), false)
}

// WriteScroll commits a full envelope, keeping its schema.
func (m *Memory) WriteScroll(s scroll.Scroll) (*scroll.Scroll, error) {
	return m.commit(s, true)
}

func (m *Memory) commit(s scroll.Scroll, checkSchema bool) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(s.Key); err != nil {
		return nil, err
	}
	if checkSchema {
		if err := scroll.ValidateSchema(s.Schema); err != nil {
			return nil, err
		}
	}
	if _, err := checkPayload(s.Payload); err != nil {
		return nil, err
	}
	s.Payload = scroll.CloneValue(s.Payload)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, namespace.ErrClosed
	}
	var prev *scroll.Scroll
	if p, ok := m.scrolls[s.Key]; ok {
		prev = &p
	}
	if err := s.Stamp(prev, m.now()); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.scrolls[s.Key] = s
	// Publishing before the lock drops keeps per-key event order equal to
	// commit order. Publish never blocks.
	m.hub.publish(&s)
	m.mu.Unlock()

	c := s.Clone()
	return &c, nil
}

// List implements namespace.Namespace.
func (m *Memory) List(prefix string) ([]string, error) {
	if err := scroll.ValidatePath(prefix); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, namespace.ErrClosed
	}
	var keys []string
	for k := range m.scrolls {
		if scroll.UnderPrefix(prefix, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch implements namespace.Namespace.
func (m *Memory) Watch(pattern string) (*namespace.Subscription, error) {
	if err := scroll.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, namespace.ErrClosed
	}
	return m.hub.subscribe(pattern)
}

// Close implements namespace.Namespace.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.scrolls = make(map[string]scroll.Scroll)
	m.hub.closeAll()
	return nil
}
