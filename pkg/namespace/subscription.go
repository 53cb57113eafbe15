package namespace

import (
	"sync"

	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// Event is one delivery on a watch stream. Exactly one of Scroll or Err is
// set. An error event (for example a decrypt failure on one key) does not
// terminate the stream.
type Event struct {
	Scroll *scroll.Scroll
	Err    error
}

// Subscription is a live watch stream. Events are queued per subscriber
// and drained by a dedicated goroutine, so a slow consumer never blocks
// the writer that published the event.
type Subscription struct {
	pattern string

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	out     chan Event
	stopped bool
}

// NewSubscription creates a subscription for pattern and starts its pump.
// Backends publish into it with Publish; consumers range over Events().
func NewSubscription(pattern string) *Subscription {
	s := &Subscription{
		pattern: pattern,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan Event),
	}
	go s.pump()
	return s
}

// Pattern returns the watch pattern this subscription was created with.
func (s *Subscription) Pattern() string { return s.pattern }

// Events returns the delivery channel. It is closed when the subscription
// ends, either by Cancel or because the namespace closed.
func (s *Subscription) Events() <-chan Event { return s.out }

// Done returns a channel closed by Cancel. Layers that relay events from
// an inner subscription select on it to release the inner stream promptly.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Publish enqueues an event. It never blocks; returns false once the
// subscription has been cancelled.
func (s *Subscription) Publish(ev Event) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Cancel stops the stream. Pending events are dropped and Events() closes.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var ev Event
		have := false
		if len(s.queue) > 0 {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			have = true
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
