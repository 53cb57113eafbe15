// Package patch computes and applies structural diffs between
// JSON-equivalent payloads. A patch records the operations needed to turn
// one value into another plus the content hash of the value it was
// computed against, so applying a stale patch is detected instead of
// silently clobbering newer state.
package patch

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// ErrPatchConflict indicates the target has changed since the patch was
// computed: its current hash differs from the patch base hash.
var ErrPatchConflict = errors.New("patch: base hash mismatch")

// OpKind enumerates the patch operations.
type OpKind string

const (
	// OpSet writes a value at a path, replacing whatever is there.
	OpSet OpKind = "set"
	// OpRemove deletes the value at a path.
	OpRemove OpKind = "remove"
	// OpInsert inserts a value into a sequence, shifting later elements.
	OpInsert OpKind = "insert"
)

// Op is a single patch operation. Paths address into the payload with
// slash-separated segments; "~1" escapes a literal slash in a key and
// "~0" a literal tilde. The empty path addresses the payload root.
type Op struct {
	Kind  OpKind `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Patch is an ordered operation list bound to the content hash of the
// scroll it was computed against.
type Patch struct {
	BaseHash string `json:"base_hash"`
	Ops      []Op   `json:"ops"`
}

// escapeSegment applies the pointer escapes to a map key.
func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

func joinPath(base, seg string) string {
	return base + "/" + escapeSegment(seg)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Diff returns the operations that transform base into next. Equal values
// produce an empty list. Maps diff per key, sequences diff as appends
// when possible and as a whole-value set otherwise.
func Diff(base, next any) []Op {
	return diffAt("", base, next)
}

func diffAt(path string, base, next any) []Op {
	if reflect.DeepEqual(base, next) {
		return nil
	}
	switch b := base.(type) {
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			return []Op{{Kind: OpSet, Path: path, Value: next}}
		}
		// Keys are walked sorted so the same pair of values always yields
		// the same op list. Diff output lands in content-hashed history
		// records, where ordering must be stable.
		var ops []Op
		for _, k := range sortedKeys(b) {
			if _, keep := n[k]; !keep {
				ops = append(ops, Op{Kind: OpRemove, Path: joinPath(path, k)})
			}
		}
		for _, k := range sortedKeys(n) {
			nv := n[k]
			bv, had := b[k]
			if !had {
				ops = append(ops, Op{Kind: OpSet, Path: joinPath(path, k), Value: nv})
				continue
			}
			ops = append(ops, diffAt(joinPath(path, k), bv, nv)...)
		}
		return ops
	case []any:
		n, ok := next.([]any)
		if !ok {
			return []Op{{Kind: OpSet, Path: path, Value: next}}
		}
		// Pure appends become inserts; anything else replaces the whole
		// sequence. Log-style payloads (tx history) hit the append path.
		if len(n) >= len(b) && reflect.DeepEqual(b, n[:len(b)]) {
			var ops []Op
			for i := len(b); i < len(n); i++ {
				ops = append(ops, Op{Kind: OpInsert, Path: path + "/" + strconv.Itoa(i), Value: n[i]})
			}
			return ops
		}
		return []Op{{Kind: OpSet, Path: path, Value: next}}
	default:
		return []Op{{Kind: OpSet, Path: path, Value: next}}
	}
}

// Apply runs ops over base and returns the result. base is never
// mutated; the result is built on a deep copy.
func Apply(base any, ops []Op) (any, error) {
	out := scroll.CloneValue(base)
	for i, op := range ops {
		var err error
		out, err = applyOne(out, op)
		if err != nil {
			return nil, fmt.Errorf("patch: op %d (%s %s): %w", i, op.Kind, op.Path, err)
		}
	}
	return out, nil
}

// ApplyTo applies p against a committed scroll, enforcing the base hash
// guard first.
func (p Patch) ApplyTo(s *scroll.Scroll) (any, error) {
	if s.Meta.Hash != p.BaseHash {
		return nil, fmt.Errorf("%w: scroll %s is at %.8s, patch built on %.8s",
			ErrPatchConflict, s.Key, s.Meta.Hash, p.BaseHash)
	}
	return Apply(s.Payload, p.Ops)
}

// Against computes a patch turning the committed scroll s into next,
// bound to the current hash of s.
func Against(s *scroll.Scroll, next any) Patch {
	return Patch{BaseHash: s.Meta.Hash, Ops: Diff(s.Payload, next)}
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if path[0] != '/' {
		return nil, fmt.Errorf("path must start with '/'")
	}
	raw := strings.Split(path[1:], "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		segs[i] = unescapeSegment(s)
	}
	return segs, nil
}

func applyOne(doc any, op Op) (any, error) {
	segs, err := splitPath(op.Path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		switch op.Kind {
		case OpSet:
			return scroll.CloneValue(op.Value), nil
		default:
			return nil, fmt.Errorf("%s not valid at the root", op.Kind)
		}
	}
	return applySegs(doc, segs, op)
}

func applySegs(doc any, segs []string, op Op) (any, error) {
	seg := segs[0]
	last := len(segs) == 1

	switch node := doc.(type) {
	case map[string]any:
		if !last {
			child, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("missing key %q", seg)
			}
			updated, err := applySegs(child, segs[1:], op)
			if err != nil {
				return nil, err
			}
			node[seg] = updated
			return node, nil
		}
		switch op.Kind {
		case OpSet:
			node[seg] = scroll.CloneValue(op.Value)
		case OpRemove:
			if _, ok := node[seg]; !ok {
				return nil, fmt.Errorf("missing key %q", seg)
			}
			delete(node, seg)
		case OpInsert:
			return nil, fmt.Errorf("insert into a map")
		default:
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
		return node, nil

	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("bad sequence index %q", seg)
		}
		if !last {
			if idx >= len(node) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			updated, err := applySegs(node[idx], segs[1:], op)
			if err != nil {
				return nil, err
			}
			node[idx] = updated
			return node, nil
		}
		switch op.Kind {
		case OpSet:
			if idx >= len(node) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			node[idx] = scroll.CloneValue(op.Value)
		case OpRemove:
			if idx >= len(node) {
				return nil, fmt.Errorf("index %d out of range", idx)
			}
			node = append(node[:idx], node[idx+1:]...)
		case OpInsert:
			if idx > len(node) {
				return nil, fmt.Errorf("index %d out of range for insert", idx)
			}
			node = append(node, nil)
			copy(node[idx+1:], node[idx:])
			node[idx] = scroll.CloneValue(op.Value)
		default:
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
		return node, nil

	default:
		return nil, fmt.Errorf("cannot descend into %T", doc)
	}
}
