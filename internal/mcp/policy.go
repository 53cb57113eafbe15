package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// Policy restricts which scroll subtrees an MCP caller may touch.
// Evaluation order: hard-denied prefixes, then denied_prefixes, then
// allowed_prefixes, then default_action.
type Policy struct {
	Version         int      `yaml:"version"`
	DefaultAction   string   `yaml:"default_action"`
	DeniedPrefixes  []string `yaml:"denied_prefixes"`
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
}

// PolicyFileName is the policy file inside the data directory.
const PolicyFileName = "mcp-policy.yaml"

// Policy actions.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Errors returned by policy loading.
var (
	ErrPolicyNotFound       = errors.New("mcp: policy file not found")
	ErrPolicyInsecure       = errors.New("mcp: policy file has insecure permissions")
	ErrPolicySymlink        = errors.New("mcp: policy file is a symlink")
	ErrPolicyNotOwnedByUser = errors.New("mcp: policy file not owned by current user")
)

// LoadPolicy reads <dir>/mcp-policy.yaml. The file controls what an AI
// agent can reach, so loading rejects symlinks, loose permissions, and
// foreign ownership; the open descriptor is stat'ed so the check and
// the read see the same file.
func LoadPolicy(dir string) (*Policy, error) {
	f, err := openPolicyFile(filepath.Join(dir, PolicyFileName))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mcp: stat policy file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}
	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("mcp: read policy file: %w", err)
	}
	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("mcp: parse policy file: %w", err)
	}
	if policy.Version != 1 {
		return nil, fmt.Errorf("mcp: unsupported policy version: %d", policy.Version)
	}
	if policy.DefaultAction == "" {
		policy.DefaultAction = ActionDeny
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Validate rejects malformed actions and prefixes.
func (p *Policy) Validate() error {
	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("mcp: invalid default_action %q", p.DefaultAction)
	}
	for _, prefix := range append(append([]string{}, p.DeniedPrefixes...), p.AllowedPrefixes...) {
		if err := scroll.ValidatePath(prefix); err != nil {
			return fmt.Errorf("mcp: invalid policy prefix %q: %w", prefix, err)
		}
	}
	return nil
}

// hardDeniedPrefixes are blocked regardless of policy. Anchor records
// are managed through their own commands, not raw agent writes.
func hardDeniedPrefixes() []string {
	return []string{"/anchors"}
}

// IsPathAllowed decides whether the caller may touch path.
func (p *Policy) IsPathAllowed(path string) (allowed bool, reason string) {
	for _, prefix := range hardDeniedPrefixes() {
		if scroll.UnderPrefix(prefix, path) {
			return false, fmt.Sprintf("path %q is always denied", path)
		}
	}
	for _, prefix := range p.DeniedPrefixes {
		if scroll.UnderPrefix(prefix, path) {
			return false, fmt.Sprintf("path %q matches denied prefix %q", path, prefix)
		}
	}
	for _, prefix := range p.AllowedPrefixes {
		if scroll.UnderPrefix(prefix, path) {
			return true, ""
		}
	}
	if p.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("path %q not under any allowed prefix", path)
}

// DefaultPolicy is used when no policy file exists: everything outside
// the hard-denied prefixes is reachable.
func DefaultPolicy() *Policy {
	return &Policy{Version: 1, DefaultAction: ActionAllow}
}
