package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/patch"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// PatchSchema marks encrypted history records.
const PatchSchema = "store/patch@v1"

// Record kinds. A patch record carries the ops from the previous version;
// a snapshot carries the full payload and resets replay.
const (
	recordPatch    = "patch"
	recordSnapshot = "snapshot"
)

// record is one history entry, stored encrypted like any other scroll.
type record struct {
	Seq       uint64     `json:"seq"`
	Kind      string     `json:"kind"`
	BaseHash  string     `json:"base_hash,omitempty"`
	Ops       []patch.Op `json:"ops,omitempty"`
	Snapshot  any        `json:"snapshot,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func historyKey(path string, seq uint64) string {
	return fmt.Sprintf("%s%s/%06d", historyPrefix, path, seq)
}

// appendHistory records the transition prev -> cur as an encrypted patch
// record keyed by the new version.
func (s *Store) appendHistory(key []byte, prev, cur *scroll.Scroll) error {
	rec := record{
		Seq:       cur.Meta.Version,
		Kind:      recordPatch,
		CreatedAt: s.now(),
	}
	if prev != nil {
		rec.BaseHash = prev.Meta.Hash
		rec.Ops = patch.Diff(prev.Payload, cur.Payload)
	} else {
		rec.Ops = patch.Diff(nil, cur.Payload)
	}
	return s.writeRecord(key, cur.Key, rec)
}

func (s *Store) writeRecord(key []byte, path string, rec record) error {
	payload, err := scroll.Normalize(rec)
	if err != nil {
		return fmt.Errorf("store: encode history record: %w", err)
	}
	plain := scroll.New(historyKey(path, rec.Seq), PatchSchema, payload)
	env, err := s.seal(key, &plain)
	if err != nil {
		return err
	}
	if _, err := namespace.WriteScroll(s.inner, scroll.New(plain.Key, SealedSchema, env)); err != nil {
		return fmt.Errorf("store: persist history for %s: %w", path, err)
	}
	return nil
}

func (s *Store) readRecord(key []byte, path string, seq uint64) (*record, error) {
	sealed, err := s.inner.Read(historyKey(path, seq))
	if err != nil {
		return nil, err
	}
	plain, err := s.unseal(key, sealed.Payload)
	if err != nil {
		return nil, err
	}
	raw, err := scroll.MarshalCanonical(plain.Payload)
	if err != nil {
		return nil, fmt.Errorf("store: decode history record: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("store: decode history record: %w", err)
	}
	return &rec, nil
}

// History returns the recorded sequence numbers for a path, ascending.
func (s *Store) History(path string) ([]uint64, error) {
	if _, err := s.key(); err != nil {
		return nil, err
	}
	if err := scroll.ValidatePath(path); err != nil {
		return nil, err
	}
	keys, err := s.inner.List(historyPrefix + path)
	if err != nil {
		return nil, err
	}
	dir := historyPrefix + path + "/"
	var seqs []uint64
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, dir)
		if !ok || strings.Contains(rest, "/") {
			// A record belonging to a longer path, not ours.
			continue
		}
		seq, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// StateAt reconstructs the payload of path as of version seq by replaying
// history from the nearest snapshot.
func (s *Store) StateAt(path string, seq uint64) (any, error) {
	key, err := s.key()
	if err != nil {
		return nil, err
	}
	seqs, err := s.History(path)
	if err != nil {
		return nil, err
	}
	var state any
	applied := false
	for _, n := range seqs {
		if n > seq {
			break
		}
		rec, err := s.readRecord(key, path, n)
		if err != nil {
			return nil, err
		}
		switch rec.Kind {
		case recordSnapshot:
			state = rec.Snapshot
		case recordPatch:
			if state, err = patch.Apply(state, rec.Ops); err != nil {
				return nil, fmt.Errorf("store: replay %s@%d: %w", path, n, err)
			}
		default:
			return nil, fmt.Errorf("store: unknown history record kind %q", rec.Kind)
		}
		applied = true
	}
	if !applied {
		return nil, fmt.Errorf("%w: no history for %s at or before %d", namespace.ErrNotFound, path, seq)
	}
	return state, nil
}

// Compact collapses the history of path up to its current version into a
// single snapshot record. Replay from any later version starts there
// instead of walking every patch since the first write.
func (s *Store) Compact(path string) error {
	key, err := s.key()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	cur, err := s.Read(path)
	if err != nil {
		return err
	}
	rec := record{
		Seq:       cur.Meta.Version,
		Kind:      recordSnapshot,
		Snapshot:  cur.Payload,
		CreatedAt: s.now(),
	}
	return s.writeRecord(key, path, rec)
}
