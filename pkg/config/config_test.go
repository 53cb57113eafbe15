package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/session"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("version = %d, want 1", cfg.Version)
	}
	if cfg.SessionTimeout.Std() != session.DefaultTimeout {
		t.Errorf("session timeout = %v, want %v", cfg.SessionTimeout.Std(), session.DefaultTimeout)
	}
	if cfg.Argon2.Memory != 64*1024 {
		t.Errorf("argon2 memory = %d, want 65536", cfg.Argon2.Memory)
	}
	if !cfg.AuditEnabled {
		t.Error("audit should default to enabled")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.SessionTimeout = Duration(10 * time.Minute)
	cfg.StoreRoot = "/tmp/scrolls"
	cfg.Mounts = []Mount{
		{Prefix: "/", Backend: "file", Root: "/tmp/scrolls"},
		{Prefix: "/cache", Backend: "memory"},
	}
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.SessionTimeout.Std() != 10*time.Minute {
		t.Errorf("session timeout = %v, want 10m", got.SessionTimeout.Std())
	}
	if len(got.Mounts) != 2 || got.Mounts[1].Prefix != "/cache" {
		t.Errorf("mounts = %+v, want 2 with /cache second", got.Mounts)
	}
}

func TestLoadRejectsLoosePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("version: 1\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrInsecure) {
		t.Errorf("Load() error = %v, want ErrInsecure", err)
	}
}

func TestLoadRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.yaml")
	if err := os.WriteFile(target, []byte("version: 1\n"), 0600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	if err := os.Symlink(target, filepath.Join(dir, FileName)); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrSymlink) {
		t.Errorf("Load() error = %v, want ErrSymlink", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 2 }},
		{"zero timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"lockout max below base", func(c *Config) { c.LockoutMax = c.LockoutBase / 2 }},
		{"unknown backend", func(c *Config) {
			c.Mounts = []Mount{{Prefix: "/", Backend: "redis"}}
		}},
		{"file mount without root", func(c *Config) {
			c.Mounts = []Mount{{Prefix: "/", Backend: "file"}}
		}},
		{"zero argon2 memory", func(c *Config) { c.Argon2.Memory = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := Default()
	cfg.SessionTimeout = Duration(2 * time.Minute)
	sc := cfg.SessionConfig()
	if sc.Timeout != 2*time.Minute {
		t.Errorf("session config timeout = %v, want 2m", sc.Timeout)
	}
	if sc.KDF.Memory != cfg.Argon2.Memory {
		t.Errorf("session config KDF memory = %d, want %d", sc.KDF.Memory, cfg.Argon2.Memory)
	}
}
