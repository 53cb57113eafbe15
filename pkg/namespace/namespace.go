// Package namespace defines the capability surface of the data layer.
// A Namespace is a handle to a subtree of scrolls; holding one grants
// exactly five operations and nothing else. Every backend, the encrypted
// store, and the kernel all speak this interface, so layers compose by
// wrapping.
package namespace

import (
	"errors"

	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// Sentinel errors shared across implementations.
var (
	// ErrNotFound indicates no scroll exists at the requested path, or no
	// mount covers it.
	ErrNotFound = errors.New("namespace: not found")
	// ErrClosed indicates an operation on a closed namespace.
	ErrClosed = errors.New("namespace: closed")
	// ErrMountConflict indicates an ambiguous or duplicate mount prefix.
	ErrMountConflict = errors.New("namespace: mount conflict")
)

// Namespace is the frozen five-operation capability interface. New
// functionality is composed by wrapping a Namespace, never by widening it.
type Namespace interface {
	// Read returns the scroll at path, or ErrNotFound.
	Read(path string) (*scroll.Scroll, error)
	// Write creates or replaces the scroll at path with the given payload,
	// assigning commit metadata, and returns the committed scroll.
	Write(path string, payload any) (*scroll.Scroll, error)
	// List returns the sorted keys at or under prefix.
	List(prefix string) ([]string, error)
	// Watch delivers every committed write matching pattern, in per-key
	// commit order, until the subscription or the namespace is closed.
	Watch(pattern string) (*Subscription, error)
	// Close releases resources. Further operations return ErrClosed.
	Close() error
}

// ScrollWriter is an optional variant of write implemented by backends
// that can commit a full envelope, preserving its schema. Restore and the
// encrypted store depend on it; it is a flavor of write, not a sixth
// operation.
type ScrollWriter interface {
	WriteScroll(s scroll.Scroll) (*scroll.Scroll, error)
}

// WriteScroll commits a full envelope through ns. If ns does not implement
// ScrollWriter the schema degrades to a plain write of the payload.
func WriteScroll(ns Namespace, s scroll.Scroll) (*scroll.Scroll, error) {
	if sw, ok := ns.(ScrollWriter); ok {
		return sw.WriteScroll(s)
	}
	return ns.Write(s.Key, s.Payload)
}
