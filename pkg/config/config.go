// Package config loads the scrollns configuration file. The file is
// optional; missing files yield the defaults. Because the config steers
// key derivation costs and lockout behavior, loading refuses symlinks,
// group/world-readable files, and files owned by another user.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hakoda-dev/scrollns/pkg/crypto"
	"github.com/hakoda-dev/scrollns/pkg/session"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Errors returned when the config file cannot be trusted.
var (
	ErrInsecure     = errors.New("config: file has insecure permissions")
	ErrSymlink      = errors.New("config: file is a symlink")
	ErrNotOwned     = errors.New("config: file not owned by current user")
	ErrBadVersion   = errors.New("config: unsupported version")
	ErrInvalidValue = errors.New("config: invalid value")
)

// Duration wraps time.Duration so the YAML form is "5m" rather than
// integer nanoseconds.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		// Allow plain integers, interpreted as nanoseconds.
		var n int64
		if err2 := node.Decode(&n); err2 != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Mount maps a namespace prefix to a backend.
type Mount struct {
	Prefix  string `yaml:"prefix"`
	Backend string `yaml:"backend"`        // "memory" or "file"
	Root    string `yaml:"root,omitempty"` // directory for the file backend
}

// Argon2 holds the key derivation costs.
type Argon2 struct {
	Memory  uint32 `yaml:"memory"` // KiB
	Time    uint32 `yaml:"time"`
	Threads uint8  `yaml:"threads"`
}

// Config is the full configuration file.
type Config struct {
	Version int    `yaml:"version"`
	Argon2  Argon2 `yaml:"argon2"`

	SessionTimeout Duration `yaml:"session_timeout"`
	LockoutBase    Duration `yaml:"lockout_base"`
	LockoutMax     Duration `yaml:"lockout_max"`

	StoreRoot string  `yaml:"store_root,omitempty"` // default <dir>/scrolls
	Mounts    []Mount `yaml:"mounts,omitempty"`

	AuditEnabled bool `yaml:"audit_enabled"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	kdf := crypto.DefaultKDFParams()
	return &Config{
		Version:        1,
		Argon2:         Argon2{Memory: kdf.Memory, Time: kdf.Time, Threads: kdf.Threads},
		SessionTimeout: Duration(session.DefaultTimeout),
		LockoutBase:    Duration(session.BaseLockout),
		LockoutMax:     Duration(session.MaxLockout),
		AuditEnabled:   true,
	}
}

// Load reads <dir>/config.yaml, returning defaults when absent.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)

	// Open with O_NOFOLLOW and fstat the descriptor so the checks and the
	// read see the same file.
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: stat: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("%w: %o", ErrInsecure, perm)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != uint32(os.Getuid()) {
			return nil, ErrNotOwned
		}
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config with owner-only permissions.
func (c *Config) Save(dir string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

// Validate rejects versions and values the rest of the system cannot
// honor.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("%w: %d", ErrBadVersion, c.Version)
	}
	if err := c.KDFParams().Validate(); err != nil {
		return fmt.Errorf("%w: argon2: %v", ErrInvalidValue, err)
	}
	if c.SessionTimeout.Std() <= 0 {
		return fmt.Errorf("%w: session_timeout must be positive", ErrInvalidValue)
	}
	if c.LockoutBase.Std() <= 0 || c.LockoutMax < c.LockoutBase {
		return fmt.Errorf("%w: lockout_base must be positive and at most lockout_max", ErrInvalidValue)
	}
	for _, m := range c.Mounts {
		if m.Backend != "memory" && m.Backend != "file" {
			return fmt.Errorf("%w: mount %q backend %q", ErrInvalidValue, m.Prefix, m.Backend)
		}
		if m.Backend == "file" && m.Root == "" {
			return fmt.Errorf("%w: mount %q needs a root directory", ErrInvalidValue, m.Prefix)
		}
	}
	return nil
}

// KDFParams converts the Argon2 section into derivation parameters.
func (c *Config) KDFParams() crypto.KDFParams {
	return crypto.KDFParams{Memory: c.Argon2.Memory, Time: c.Argon2.Time, Threads: c.Argon2.Threads}
}

// SessionConfig builds the session configuration from the file values.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		KDF:         c.KDFParams(),
		Timeout:     c.SessionTimeout.Std(),
		BaseLockout: c.LockoutBase.Std(),
		MaxLockout:  c.LockoutMax.Std(),
	}
}
