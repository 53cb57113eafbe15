// Package backend provides the concrete scroll stores: an in-memory
// backend for tests and ephemeral trees, and a file backend with one JSON
// document per scroll. Both implement namespace.Namespace and share the
// same watch semantics.
package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// MaxWatchers is the maximum number of live subscriptions per backend.
const MaxWatchers = 1024

// ErrPayloadTooLarge indicates a payload whose canonical serialization
// exceeds scroll.MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("backend: payload too large")

// hub fans committed writes out to the live subscriptions of one backend.
type hub struct {
	mu   sync.Mutex
	subs map[*namespace.Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*namespace.Subscription]struct{})}
}

func (h *hub) subscribe(pattern string) (*namespace.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) >= MaxWatchers {
		return nil, fmt.Errorf("backend: watcher limit %d reached", MaxWatchers)
	}
	sub := namespace.NewSubscription(pattern)
	h.subs[sub] = struct{}{}
	return sub, nil
}

// publish delivers a committed scroll to every matching subscription and
// drops subscriptions that have been cancelled by their consumer.
func (h *hub) publish(s *scroll.Scroll) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !scroll.MatchPattern(sub.Pattern(), s.Key) {
			continue
		}
		c := s.Clone()
		if !sub.Publish(namespace.Event{Scroll: &c}) {
			delete(h.subs, sub)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.Cancel()
	}
	h.subs = make(map[*namespace.Subscription]struct{})
}

// checkPayload enforces the payload size limit and returns the canonical
// serialization so callers do not pay for it twice.
func checkPayload(payload any) ([]byte, error) {
	canon, err := scroll.MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("backend: serialize payload: %w", err)
	}
	if len(canon) > scroll.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(canon), scroll.MaxPayloadSize)
	}
	return canon, nil
}
