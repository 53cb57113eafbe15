package patch

import (
	"errors"
	"reflect"
	"testing"

	"github.com/hakoda-dev/scrollns/pkg/backend"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

func TestDiffEqualValuesIsEmpty(t *testing.T) {
	v := map[string]any{"a": float64(1), "list": []any{"x", "y"}}
	if ops := Diff(v, scroll.CloneValue(v)); len(ops) != 0 {
		t.Errorf("Diff(equal) = %v, want empty", ops)
	}
}

func TestDiffApplyRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		base, next any
	}{
		{
			"scalar change",
			map[string]any{"sat": float64(100)},
			map[string]any{"sat": float64(250)},
		},
		{
			"key added and removed",
			map[string]any{"old": "x", "keep": true},
			map[string]any{"new": "y", "keep": true},
		},
		{
			"nested change",
			map[string]any{"fees": map[string]any{"fast": float64(20), "slow": float64(5)}},
			map[string]any{"fees": map[string]any{"fast": float64(30), "slow": float64(5)}},
		},
		{
			"sequence append",
			map[string]any{"txs": []any{"a"}},
			map[string]any{"txs": []any{"a", "b", "c"}},
		},
		{
			"sequence rewrite",
			map[string]any{"txs": []any{"a", "b"}},
			map[string]any{"txs": []any{"b", "a"}},
		},
		{
			"type change",
			map[string]any{"v": float64(1)},
			map[string]any{"v": []any{float64(1)}},
		},
		{
			"root replacement",
			map[string]any{"a": float64(1)},
			[]any{"now", "a", "list"},
		},
		{
			"key with slash and tilde",
			map[string]any{"a/b": "x", "c~d": "y"},
			map[string]any{"a/b": "z", "c~d": "y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := Diff(tt.base, tt.next)
			got, err := Apply(tt.base, ops)
			if err != nil {
				t.Fatalf("Apply() error = %v (ops %v)", err, ops)
			}
			if !reflect.DeepEqual(got, tt.next) {
				t.Errorf("Apply(Diff()) = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestDiffIsDeterministic(t *testing.T) {
	base := map[string]any{
		"a": float64(1),
		"b": float64(2),
		"c": float64(3),
		"d": float64(4),
	}
	next := map[string]any{
		"b": float64(20),
		"d": float64(40),
		"e": float64(5),
		"f": float64(6),
	}

	want := []Op{
		{Kind: OpRemove, Path: "/a"},
		{Kind: OpRemove, Path: "/c"},
		{Kind: OpSet, Path: "/b", Value: float64(20)},
		{Kind: OpSet, Path: "/d", Value: float64(40)},
		{Kind: OpSet, Path: "/e", Value: float64(5)},
		{Kind: OpSet, Path: "/f", Value: float64(6)},
	}
	for i := 0; i < 20; i++ {
		got := Diff(base, next)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Diff() run %d = %v, want %v", i, got, want)
		}
	}
}

func TestDiffAppendUsesInsert(t *testing.T) {
	base := map[string]any{"txs": []any{"a", "b"}}
	next := map[string]any{"txs": []any{"a", "b", "c"}}
	ops := Diff(base, next)
	if len(ops) != 1 || ops[0].Kind != OpInsert {
		t.Errorf("append diff = %v, want single insert", ops)
	}
}

func TestApplyDoesNotMutateBase(t *testing.T) {
	base := map[string]any{"n": float64(1), "m": map[string]any{"x": "y"}}
	ops := []Op{{Kind: OpSet, Path: "/m/x", Value: "changed"}}
	if _, err := Apply(base, ops); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if base["m"].(map[string]any)["x"] != "y" {
		t.Error("Apply mutated its input")
	}
}

func TestApplyErrors(t *testing.T) {
	base := map[string]any{"a": []any{"x"}}
	bad := []struct {
		name string
		op   Op
	}{
		{"missing key", Op{Kind: OpRemove, Path: "/nope"}},
		{"bad index", Op{Kind: OpSet, Path: "/a/zero", Value: 1}},
		{"index out of range", Op{Kind: OpSet, Path: "/a/5", Value: 1}},
		{"insert into map", Op{Kind: OpInsert, Path: "/b", Value: 1}},
		{"remove root", Op{Kind: OpRemove, Path: ""}},
		{"descend into scalar", Op{Kind: OpSet, Path: "/a/0/deep", Value: 1}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Apply(base, []Op{tt.op}); err == nil {
				t.Errorf("Apply(%v) = nil error, want failure", tt.op)
			}
		})
	}
}

func TestBaseHashGuard(t *testing.T) {
	ns := backend.NewMemory()
	defer ns.Close()

	committed, err := ns.Write("/wallet/balance", map[string]any{"sat": float64(100)})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	p := Against(committed, map[string]any{"sat": float64(150)})

	// A concurrent writer lands first; the patch must now be rejected.
	if _, err := ns.Write("/wallet/balance", map[string]any{"sat": float64(999)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	current, _ := ns.Read("/wallet/balance")
	if _, err := p.ApplyTo(current); !errors.Is(err, ErrPatchConflict) {
		t.Errorf("ApplyTo(stale) error = %v, want ErrPatchConflict", err)
	}

	// Against the unchanged base it applies cleanly.
	fresh := Against(current, map[string]any{"sat": float64(150)})
	next, err := fresh.ApplyTo(current)
	if err != nil {
		t.Fatalf("ApplyTo() error = %v", err)
	}
	if next.(map[string]any)["sat"] != float64(150) {
		t.Errorf("patched value = %v, want 150", next)
	}
}
