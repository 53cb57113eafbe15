// Package kernel routes the five operations across a mount table. Each
// mount binds a namespace under a path prefix; the kernel picks the
// longest matching prefix at a segment boundary, strips it before
// delegating, and re-attaches it on everything that comes back, so a
// mounted namespace never learns where it sits in the tree.
package kernel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

type mount struct {
	prefix string
	ns     namespace.Namespace
}

// Kernel is itself a Namespace, so kernels nest like any other layer.
type Kernel struct {
	mu     sync.RWMutex
	mounts []mount // sorted by descending prefix length
	closed bool
}

var _ namespace.Namespace = (*Kernel)(nil)
var _ namespace.ScrollWriter = (*Kernel)(nil)

// New returns a kernel with an empty mount table.
func New() *Kernel {
	return &Kernel{}
}

// Mount binds ns under prefix. Mounting the same prefix twice is a
// conflict; nested prefixes are allowed and resolve longest-first.
func (k *Kernel) Mount(prefix string, ns namespace.Namespace) error {
	if err := scroll.ValidatePath(prefix); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return namespace.ErrClosed
	}
	for _, m := range k.mounts {
		if m.prefix == prefix {
			return fmt.Errorf("%w: %s already mounted", namespace.ErrMountConflict, prefix)
		}
	}
	k.mounts = append(k.mounts, mount{prefix: prefix, ns: ns})
	sort.Slice(k.mounts, func(i, j int) bool {
		return len(k.mounts[i].prefix) > len(k.mounts[j].prefix)
	})
	return nil
}

// Unmount removes the mount at exactly prefix. The namespace itself is
// not closed; the caller still owns it.
func (k *Kernel) Unmount(prefix string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return namespace.ErrClosed
	}
	for i, m := range k.mounts {
		if m.prefix == prefix {
			k.mounts = append(k.mounts[:i], k.mounts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: no mount at %s", namespace.ErrNotFound, prefix)
}

// Mounts returns the current mount prefixes, longest first.
func (k *Kernel) Mounts() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, len(k.mounts))
	for i, m := range k.mounts {
		out[i] = m.prefix
	}
	return out
}

// resolve picks the longest mount prefix covering path and returns the
// mount plus the path relative to it.
func (k *Kernel) resolve(path string) (mount, string, bool) {
	for _, m := range k.mounts {
		if scroll.UnderPrefix(m.prefix, path) {
			return m, stripPrefix(m.prefix, path), true
		}
	}
	return mount{}, "", false
}

func stripPrefix(prefix, path string) string {
	if prefix == "/" {
		return path
	}
	if path == prefix {
		return "/"
	}
	return strings.TrimPrefix(path, prefix)
}

func attachPrefix(prefix, rel string) string {
	if prefix == "/" {
		return rel
	}
	if rel == "/" {
		return prefix
	}
	return prefix + rel
}

// Read implements namespace.Namespace.
func (k *Kernel) Read(path string) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(path); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, namespace.ErrClosed
	}
	m, rel, ok := k.resolve(path)
	if !ok {
		return nil, fmt.Errorf("%w: no mount covers %s", namespace.ErrNotFound, path)
	}
	s, err := m.ns.Read(rel)
	if err != nil {
		return nil, err
	}
	s.Key = attachPrefix(m.prefix, s.Key)
	return s, nil
}

// Write implements namespace.Namespace.
func (k *Kernel) Write(path string, payload any) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(path); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, namespace.ErrClosed
	}
	m, rel, ok := k.resolve(path)
	if !ok {
		return nil, fmt.Errorf("%w: no mount covers %s", namespace.ErrNotFound, path)
	}
	s, err := m.ns.Write(rel, payload)
	if err != nil {
		return nil, err
	}
	s.Key = attachPrefix(m.prefix, s.Key)
	return s, nil
}

// WriteScroll routes a full envelope to the owning mount.
func (k *Kernel) WriteScroll(s scroll.Scroll) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(s.Key); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, namespace.ErrClosed
	}
	m, rel, ok := k.resolve(s.Key)
	if !ok {
		return nil, fmt.Errorf("%w: no mount covers %s", namespace.ErrNotFound, s.Key)
	}
	inner := s
	inner.Key = rel
	committed, err := namespace.WriteScroll(m.ns, inner)
	if err != nil {
		return nil, err
	}
	committed.Key = attachPrefix(m.prefix, committed.Key)
	return committed, nil
}

// List aggregates keys across every mount the prefix reaches. Listing "/"
// therefore returns the keys of all mounts, each carrying its full path.
func (k *Kernel) List(prefix string) ([]string, error) {
	if err := scroll.ValidatePath(prefix); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, namespace.ErrClosed
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, m := range k.mounts {
		var inner string
		switch {
		case scroll.UnderPrefix(prefix, m.prefix):
			// The whole mount sits under the requested prefix.
			inner = "/"
		case scroll.UnderPrefix(m.prefix, prefix):
			inner = stripPrefix(m.prefix, prefix)
		default:
			continue
		}
		sub, err := m.ns.List(inner)
		if err != nil {
			return nil, err
		}
		for _, rel := range sub {
			full := attachPrefix(m.prefix, rel)
			// Longest mounts are walked first, so a nested mount shadows
			// keys a shorter mount would expose at the same path.
			if _, dup := seen[full]; !dup {
				seen[full] = struct{}{}
				keys = append(keys, full)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch resolves the pattern to the mount owning its concrete base and
// republishes the mount's events with full kernel paths.
func (k *Kernel) Watch(pattern string) (*namespace.Subscription, error) {
	if err := scroll.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, namespace.ErrClosed
	}
	base := patternBase(pattern)
	m, _, ok := k.resolve(base)
	if !ok {
		return nil, fmt.Errorf("%w: no mount covers %s", namespace.ErrNotFound, base)
	}
	innerPattern := stripPrefix(m.prefix, pattern)
	inner, err := m.ns.Watch(innerPattern)
	if err != nil {
		return nil, err
	}

	outer := namespace.NewSubscription(pattern)
	go func() {
		defer outer.Cancel()
		defer inner.Cancel()
		for {
			select {
			case ev, ok := <-inner.Events():
				if !ok {
					return
				}
				if ev.Scroll != nil {
					ev.Scroll.Key = attachPrefix(m.prefix, ev.Scroll.Key)
				}
				if !outer.Publish(ev) {
					return
				}
			case <-outer.Done():
				return
			}
		}
	}()
	return outer, nil
}

// patternBase strips a wildcard tail so the pattern can be routed like a
// concrete path.
func patternBase(pattern string) string {
	base := pattern
	base = strings.TrimSuffix(base, "/**")
	base = strings.TrimSuffix(base, "/*")
	if base == "" {
		return "/"
	}
	return base
}

// Close closes every mounted namespace and empties the table.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	var firstErr error
	for _, m := range k.mounts {
		if err := m.ns.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	k.mounts = nil
	return firstErr
}
