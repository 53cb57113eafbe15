package backend

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// both backends must behave identically through the capability interface.
func backends(t *testing.T) map[string]namespace.Namespace {
	t.Helper()
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	return map[string]namespace.Namespace{
		"memory": NewMemory(),
		"file":   f,
	}
}

func recvEvent(t *testing.T, sub *namespace.Subscription) namespace.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return namespace.Event{}
}

func TestWriteReadRoundtrip(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			payload := map[string]any{"sat": float64(21000), "note": "rent"}
			written, err := ns.Write("/wallet/balance", payload)
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if written.Meta.Version != 1 {
				t.Errorf("first version = %d, want 1", written.Meta.Version)
			}
			if written.Schema != scroll.GenericSchema {
				t.Errorf("schema = %q, want %q", written.Schema, scroll.GenericSchema)
			}
			if written.Meta.Hash == "" {
				t.Error("hash not assigned on commit")
			}

			got, err := ns.Read("/wallet/balance")
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !reflect.DeepEqual(got.Payload, payload) {
				t.Errorf("payload = %v, want %v", got.Payload, payload)
			}
			if got.Meta.Hash != written.Meta.Hash {
				t.Errorf("read hash = %q, want %q", got.Meta.Hash, written.Meta.Hash)
			}
		})
	}
}

func TestVersionAndTimestamps(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			first, _ := ns.Write("/k", map[string]any{"n": float64(1)})
			second, err := ns.Write("/k", map[string]any{"n": float64(2)})
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if second.Meta.Version != 2 {
				t.Errorf("version = %d, want 2", second.Meta.Version)
			}
			if !second.Meta.CreatedAt.Equal(first.Meta.CreatedAt) {
				t.Error("creation time changed on rewrite")
			}
			if second.Meta.Hash == first.Meta.Hash {
				t.Error("hash unchanged after payload change")
			}
		})
	}
}

func TestReadMissing(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			if _, err := ns.Read("/nope"); !errors.Is(err, namespace.ErrNotFound) {
				t.Errorf("Read(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestInvalidPaths(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			for _, p := range []string{"", "nope", "/a//b", "/a/../b"} {
				if _, err := ns.Write(p, nil); !errors.Is(err, scroll.ErrInvalidPath) {
					t.Errorf("Write(%q) error = %v, want ErrInvalidPath", p, err)
				}
				if _, err := ns.Read(p); !errors.Is(err, scroll.ErrInvalidPath) {
					t.Errorf("Read(%q) error = %v, want ErrInvalidPath", p, err)
				}
			}
		})
	}
}

func TestListPrefixBoundary(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			for _, k := range []string{"/foo/a", "/foo/b/c", "/foobar/x", "/zed"} {
				if _, err := ns.Write(k, nil); err != nil {
					t.Fatalf("Write(%q) error = %v", k, err)
				}
			}
			got, err := ns.List("/foo")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			want := []string{"/foo/a", "/foo/b/c"}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("List(/foo) = %v, want %v", got, want)
			}

			all, _ := ns.List("/")
			if len(all) != 4 {
				t.Errorf("List(/) returned %d keys, want 4", len(all))
			}
		})
	}
}

func TestWatchDelivery(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			sub, err := ns.Watch("/wallet/*")
			if err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			defer sub.Cancel()

			ns.Write("/wallet/balance", map[string]any{"n": float64(1)})
			ns.Write("/other/thing", nil) // must not be delivered
			ns.Write("/wallet/balance", map[string]any{"n": float64(2)})

			ev := recvEvent(t, sub)
			if ev.Scroll.Key != "/wallet/balance" || ev.Scroll.Meta.Version != 1 {
				t.Errorf("first event = %s v%d, want /wallet/balance v1", ev.Scroll.Key, ev.Scroll.Meta.Version)
			}
			ev = recvEvent(t, sub)
			if ev.Scroll.Meta.Version != 2 {
				t.Errorf("second event version = %d, want 2", ev.Scroll.Meta.Version)
			}
		})
	}
}

func TestClosedSemantics(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sub, err := ns.Watch("/**")
			if err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			if err := ns.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}
			if err := ns.Close(); err != nil {
				t.Errorf("second Close() error = %v, want nil", err)
			}

			if _, err := ns.Read("/k"); !errors.Is(err, namespace.ErrClosed) {
				t.Errorf("Read after close = %v, want ErrClosed", err)
			}
			if _, err := ns.Write("/k", nil); !errors.Is(err, namespace.ErrClosed) {
				t.Errorf("Write after close = %v, want ErrClosed", err)
			}
			if _, err := ns.List("/"); !errors.Is(err, namespace.ErrClosed) {
				t.Errorf("List after close = %v, want ErrClosed", err)
			}
			if _, err := ns.Watch("/**"); !errors.Is(err, namespace.ErrClosed) {
				t.Errorf("Watch after close = %v, want ErrClosed", err)
			}

			select {
			case _, ok := <-sub.Events():
				if ok {
					t.Error("received event after Close")
				}
			case <-time.After(2 * time.Second):
				t.Error("subscription not terminated by Close")
			}
		})
	}
}

func TestPayloadTooLarge(t *testing.T) {
	ns := NewMemory()
	defer ns.Close()
	big := strings.Repeat("x", scroll.MaxPayloadSize+1)
	if _, err := ns.Write("/k", big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Write(huge) error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestMemoryPayloadIsolation(t *testing.T) {
	ns := NewMemory()
	defer ns.Close()
	payload := map[string]any{"n": float64(1)}
	ns.Write("/k", payload)
	payload["n"] = float64(99) // caller keeps mutating its map

	got, _ := ns.Read("/k")
	if got.Payload.(map[string]any)["n"] != float64(1) {
		t.Error("stored payload aliased caller state")
	}
	got.Payload.(map[string]any)["n"] = float64(42)
	again, _ := ns.Read("/k")
	if again.Payload.(map[string]any)["n"] != float64(1) {
		t.Error("read payload aliased stored state")
	}
}

func TestFilePersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	f.Write("/wallet/balance", map[string]any{"n": float64(1)})
	f.Write("/wallet/balance", map[string]any{"n": float64(2)})
	f.Close()

	reopened, err := NewFile(dir)
	if err != nil {
		t.Fatalf("NewFile(reopen) error = %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Read("/wallet/balance")
	if err != nil {
		t.Fatalf("Read() after reopen error = %v", err)
	}
	if got.Meta.Version != 2 {
		t.Errorf("persisted version = %d, want 2", got.Meta.Version)
	}
	next, _ := reopened.Write("/wallet/balance", map[string]any{"n": float64(3)})
	if next.Meta.Version != 3 {
		t.Errorf("version after reopen = %d, want 3", next.Meta.Version)
	}
}

func TestWriteScrollKeepsSchema(t *testing.T) {
	for name, ns := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer ns.Close()
			s := scroll.New("/wallet/balance", "wallet/balance@v1", map[string]any{"sat": float64(5)})
			committed, err := namespace.WriteScroll(ns, s)
			if err != nil {
				t.Fatalf("WriteScroll() error = %v", err)
			}
			if committed.Schema != "wallet/balance@v1" {
				t.Errorf("schema = %q, want wallet/balance@v1", committed.Schema)
			}

			bad := scroll.New("/x", "not a schema", nil)
			if _, err := namespace.WriteScroll(ns, bad); !errors.Is(err, scroll.ErrSchemaMismatch) {
				t.Errorf("WriteScroll(bad schema) error = %v, want ErrSchemaMismatch", err)
			}
		})
	}
}
