package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hakoda-dev/scrollns/pkg/sealed"
)

func TestShortHash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcdef0123456789", "abcdef012345"},
		{"abcdef012345", "abcdef012345"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := shortHash(tc.in); got != tc.want {
			t.Errorf("shortHash(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestReadSealedArgFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.sealed")
	want := []byte("not really sealed")
	if err := os.WriteFile(path, want, 0600); err != nil {
		t.Fatal(err)
	}

	got, err := readSealedArg(path)
	if err != nil {
		t.Fatalf("readSealedArg() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("readSealedArg() = %q, want %q", got, want)
	}
}

func TestReadSealedArgBadURI(t *testing.T) {
	_, err := readSealedArg(sealed.URIPrefix + "!!!not-base64!!!")
	if !errors.Is(err, sealed.ErrUnsealFailed) {
		t.Errorf("err = %v, want ErrUnsealFailed", err)
	}
}

func TestReadSealedArgMissingFile(t *testing.T) {
	if _, err := readSealedArg(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("missing file should fail")
	}
}
