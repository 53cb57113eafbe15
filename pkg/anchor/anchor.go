// Package anchor creates content-addressed checkpoints of a namespace
// subtree. An anchor records every scroll under a root together with a
// hash over the whole snapshot, chained to the previous anchor of the
// same root. Verify recomputes the hash to detect any drift; Restore
// replays the snapshot back through the namespace.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// RecordSchema marks persisted anchor records.
const RecordSchema = "anchor/record@v1"

// recordsPrefix is the subtree where anchors live. Snapshots never
// include it, or an anchor would recursively contain its predecessors.
const recordsPrefix = "/anchors"

// ErrVerifyFailed indicates an anchor whose recomputed hash or member
// scrolls no longer match what was recorded.
var ErrVerifyFailed = errors.New("anchor: verification failed")

// Record is one checkpoint.
type Record struct {
	ID        string          `json:"id"`
	Root      string          `json:"root"`
	Parent    string          `json:"parent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Hash      string          `json:"hash"`
	Scrolls   []scroll.Scroll `json:"scrolls"`
}

// Manager creates and restores anchors over a namespace. Anchors persist
// through the same namespace, so with an encrypted store underneath they
// are encrypted at rest like everything else.
type Manager struct {
	ns  namespace.Namespace
	now func() time.Time
}

// NewManager returns a manager over ns.
func NewManager(ns namespace.Namespace) *Manager {
	return &Manager{ns: ns, now: func() time.Time { return time.Now().UTC() }}
}

// rootSegment flattens a root path into a single records segment.
func rootSegment(root string) string {
	if root == "/" {
		return "root"
	}
	return strings.ReplaceAll(strings.TrimPrefix(root, "/"), "/", "-")
}

func recordKey(root, id string) string {
	return recordsPrefix + "/" + rootSegment(root) + "/" + id
}

// snapshotHash covers the root, the parent link, and every member scroll
// in key order.
func snapshotHash(root, parent string, scrolls []scroll.Scroll) (string, error) {
	doc := map[string]any{
		"root":    root,
		"parent":  parent,
		"scrolls": scrolls,
	}
	norm, err := scroll.Normalize(doc)
	if err != nil {
		return "", fmt.Errorf("anchor: hash snapshot: %w", err)
	}
	canon, err := scroll.MarshalCanonical(norm)
	if err != nil {
		return "", fmt.Errorf("anchor: hash snapshot: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Create checkpoints every scroll under root and persists the record,
// chained to the latest prior anchor of the same root.
func (m *Manager) Create(root string) (*Record, error) {
	if err := scroll.ValidatePath(root); err != nil {
		return nil, err
	}
	scrolls, err := m.snapshot(root)
	if err != nil {
		return nil, err
	}

	parent := ""
	if prev, err := m.latest(root); err == nil && prev != nil {
		parent = prev.ID
	} else if err != nil {
		return nil, err
	}

	hash, err := snapshotHash(root, parent, scrolls)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:        hash[:8] + "-" + strings.ToLower(ulid.Make().String()),
		Root:      root,
		Parent:    parent,
		CreatedAt: m.now(),
		Hash:      hash,
		Scrolls:   scrolls,
	}

	payload, err := scroll.Normalize(rec)
	if err != nil {
		return nil, fmt.Errorf("anchor: encode record: %w", err)
	}
	if _, err := namespace.WriteScroll(m.ns, scroll.New(recordKey(root, rec.ID), RecordSchema, payload)); err != nil {
		return nil, fmt.Errorf("anchor: persist record: %w", err)
	}
	return rec, nil
}

// load reads one record by its full key.
func (m *Manager) load(key string) (*Record, error) {
	s, err := m.ns.Read(key)
	if err != nil {
		return nil, err
	}
	canon, err := scroll.MarshalCanonical(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("anchor: decode record %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(canon, &rec); err != nil {
		return nil, fmt.Errorf("anchor: decode record %s: %w", key, err)
	}
	return &rec, nil
}

// Get returns the record with the given ID under root.
func (m *Manager) Get(root, id string) (*Record, error) {
	return m.load(recordKey(root, id))
}

// List returns all anchors of root, newest first.
func (m *Manager) List(root string) ([]*Record, error) {
	keys, err := m.ns.List(recordsPrefix + "/" + rootSegment(root))
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(keys))
	for _, k := range keys {
		rec, err := m.load(k)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

// latest returns the most recent anchor of root, or nil when none exist.
func (m *Manager) latest(root string) (*Record, error) {
	recs, err := m.List(root)
	if err != nil {
		if errors.Is(err, namespace.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Verify checks the record against itself and against the namespace as
// it is now: the snapshot hash and each member's content hash must still
// hold, and the live subtree must carry exactly the anchored scrolls.
// Any write since the anchor, through the namespace or around it, fails
// with the offending detail.
func (m *Manager) Verify(root, id string) error {
	rec, err := m.Get(root, id)
	if err != nil {
		return err
	}
	if err := verifyRecord(rec); err != nil {
		return err
	}

	live, err := m.snapshot(rec.Root)
	if err != nil {
		return err
	}
	if len(live) != len(rec.Scrolls) {
		return fmt.Errorf("%w: %s holds %d scrolls, anchored %d",
			ErrVerifyFailed, rec.Root, len(live), len(rec.Scrolls))
	}
	for i, s := range live {
		anchored := rec.Scrolls[i]
		if s.Key != anchored.Key {
			return fmt.Errorf("%w: live key %s where %s was anchored", ErrVerifyFailed, s.Key, anchored.Key)
		}
		liveHash, err := s.Hash()
		if err != nil {
			return err
		}
		if liveHash != anchored.Meta.Hash {
			return fmt.Errorf("%w: scroll %s drifted since the anchor", ErrVerifyFailed, s.Key)
		}
	}
	return nil
}

// verifyRecord checks a record's internal consistency without touching
// live data, so Restore still works on a drifted subtree.
func verifyRecord(rec *Record) error {
	hash, err := snapshotHash(rec.Root, rec.Parent, rec.Scrolls)
	if err != nil {
		return err
	}
	if hash != rec.Hash {
		return fmt.Errorf("%w: snapshot hash is %.8s, recorded %.8s", ErrVerifyFailed, hash, rec.Hash)
	}
	for _, s := range rec.Scrolls {
		want, err := s.Hash()
		if err != nil {
			return err
		}
		if want != s.Meta.Hash {
			return fmt.Errorf("%w: scroll %s content hash mismatch", ErrVerifyFailed, s.Key)
		}
	}
	return nil
}

// snapshot reads every scroll under root, anchors excluded, in key order.
func (m *Manager) snapshot(root string) ([]scroll.Scroll, error) {
	keys, err := m.ns.List(root)
	if err != nil {
		return nil, err
	}
	var scrolls []scroll.Scroll
	for _, k := range keys {
		if k == recordsPrefix || strings.HasPrefix(k, recordsPrefix+"/") {
			continue
		}
		s, err := m.ns.Read(k)
		if err != nil {
			return nil, fmt.Errorf("anchor: snapshot %s: %w", k, err)
		}
		scrolls = append(scrolls, *s)
	}
	sort.Slice(scrolls, func(i, j int) bool { return scrolls[i].Key < scrolls[j].Key })
	return scrolls, nil
}

// Restore replays the anchored scrolls back through the namespace. Only
// the record itself is verified first; the live subtree is expected to
// have drifted, that is the point of restoring. It is a replay, not a
// reset: keys written after the anchor that it does not contain are left
// in place.
func (m *Manager) Restore(root, id string) error {
	rec, err := m.Get(root, id)
	if err != nil {
		return err
	}
	if err := verifyRecord(rec); err != nil {
		return err
	}
	for _, s := range rec.Scrolls {
		if _, err := namespace.WriteScroll(m.ns, s); err != nil {
			return fmt.Errorf("anchor: restore %s: %w", s.Key, err)
		}
	}
	return nil
}
