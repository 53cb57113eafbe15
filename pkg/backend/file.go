package backend

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

const (
	scrollsDir = "scrolls"
	scrollExt  = ".json"
	// filePerm restricts scroll documents to the owning user.
	filePerm = 0600
	dirPerm  = 0700
)

// File is a disk-backed backend. Each scroll is one JSON document under
// <root>/scrolls/, mirroring the scroll path. Documents are written to a
// temp file and renamed into place so a crash never leaves a partial
// scroll, and versions survive restarts because the whole envelope is
// persisted.
type File struct {
	root   string
	mu     sync.RWMutex
	hub    *hub
	closed bool
	now    func() time.Time
}

var _ namespace.Namespace = (*File)(nil)
var _ namespace.ScrollWriter = (*File)(nil)

// NewFile opens (creating if needed) a file backend rooted at dir.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(filepath.Join(dir, scrollsDir), dirPerm); err != nil {
		return nil, fmt.Errorf("backend: create root: %w", err)
	}
	return &File{
		root: dir,
		hub:  newHub(),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// filePath maps a validated scroll path to its document location. Path
// segments are already restricted to a safe charset, so the mapping is a
// plain join.
func (f *File) filePath(path string) string {
	rel := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	return filepath.Join(f.root, scrollsDir, rel+scrollExt)
}

// Read implements namespace.Namespace.
func (f *File) Read(path string) (*scroll.Scroll, error) {
	if err := scroll.ValidatePath(path); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, namespace.ErrClosed
	}
	return f.load(path)
}

func (f *File) load(path string) (*scroll.Scroll, error) {
	data, err := os.ReadFile(f.filePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, namespace.ErrNotFound
		}
		return nil, fmt.Errorf("backend: read %s: %w", path, err)
	}
	var s scroll.Scroll
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return &s, nil
}

// Write implements namespace.Namespace.
func (f *File) Write(path string, payload any) (*scroll.Scroll, error) {
	return f.commit(scroll.New(path, scroll.GenericSchema, payload), false)
}

// WriteScroll commits a full envelope, keeping its schema.
func (f *File) WriteScroll(s scroll.Scroll) (*scroll.Scroll, error) {
	return f.commit(s, true)
}

func (f *File) commit(s scroll.Scroll, checkSchema bool) (*scroll.Scroll, error) {
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

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, namespace.ErrClosed
	}
	prev, err := f.load(s.Key)
	if err != nil && err != namespace.ErrNotFound {
		return nil, err
	}
	if err := s.Stamp(prev, f.now()); err != nil {
		return nil, err
	}
	if err := f.store(&s); err != nil {
		return nil, err
	}
	f.hub.publish(&s)
	c := s.Clone()
	return &c, nil
}

// store writes the document atomically: temp file in the target directory,
// fsync-free rename into place.
func (f *File) store(s *scroll.Scroll) error {
	target := f.filePath(s.Key)
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("backend: create dir for %s: %w", s.Key, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", s.Key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".scroll-*")
	if err != nil {
		return fmt.Errorf("backend: temp file for %s: %w", s.Key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backend: write %s: %w", s.Key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend: close temp for %s: %w", s.Key, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend: chmod %s: %w", s.Key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend: commit %s: %w", s.Key, err)
	}
	return nil
}

// List implements namespace.Namespace.
func (f *File) List(prefix string) ([]string, error) {
	if err := scroll.ValidatePath(prefix); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, namespace.ErrClosed
	}
	base := filepath.Join(f.root, scrollsDir)
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, scrollExt) {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := "/" + filepath.ToSlash(strings.TrimSuffix(rel, scrollExt))
		if scroll.UnderPrefix(prefix, key) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("backend: list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch implements namespace.Namespace.
func (f *File) Watch(pattern string) (*namespace.Subscription, error) {
	if err := scroll.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, namespace.ErrClosed
	}
	return f.hub.subscribe(pattern)
}

// Close implements namespace.Namespace.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.hub.closeAll()
	return nil
}
