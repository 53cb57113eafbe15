package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
)

// ScrollReadInput is the input for scroll_read.
type ScrollReadInput struct {
	Path string `json:"path"`
}

// ScrollReadOutput carries one scroll with its metadata.
type ScrollReadOutput struct {
	Path      string `json:"path"`
	Schema    string `json:"schema"`
	Version   uint64 `json:"version"`
	Hash      string `json:"hash"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Payload   any    `json:"payload"`
}

// ScrollWriteInput is the input for scroll_write.
type ScrollWriteInput struct {
	Path    string `json:"path"`
	Payload any    `json:"payload"`
}

// ScrollWriteOutput reports the committed metadata, never the payload
// back.
type ScrollWriteOutput struct {
	Path    string `json:"path"`
	Schema  string `json:"schema"`
	Version uint64 `json:"version"`
	Hash    string `json:"hash"`
}

// ScrollListInput is the input for scroll_list.
type ScrollListInput struct {
	Prefix string `json:"prefix"`
}

// ScrollListOutput lists matching paths.
type ScrollListOutput struct {
	Paths []string `json:"paths"`
}

// VaultStatusInput is the (empty) input for vault_status.
type VaultStatusInput struct{}

// VaultStatusOutput reports the session state.
type VaultStatusOutput struct {
	Initialized      bool   `json:"initialized"`
	Unlocked         bool   `json:"unlocked"`
	LockoutRemaining string `json:"lockout_remaining,omitempty"`
}

func (s *Server) handleScrollRead(_ context.Context, _ *mcp.CallToolRequest, input ScrollReadInput) (*mcp.CallToolResult, ScrollReadOutput, error) {
	if input.Path == "" {
		return nil, ScrollReadOutput{}, errors.New("path is required")
	}
	if allowed, reason := s.policy.IsPathAllowed(input.Path); !allowed {
		s.record(audit.OpScrollRead, audit.ResultDenied, input.Path, reason)
		return nil, ScrollReadOutput{}, fmt.Errorf("denied: %s", reason)
	}

	sc, err := s.ns.Read(input.Path)
	if err != nil {
		s.record(audit.OpScrollRead, audit.ResultError, input.Path, err.Error())
		if errors.Is(err, namespace.ErrNotFound) {
			return nil, ScrollReadOutput{}, fmt.Errorf("no scroll at %q", input.Path)
		}
		return nil, ScrollReadOutput{}, err
	}

	s.record(audit.OpScrollRead, audit.ResultSuccess, input.Path, "")
	return nil, ScrollReadOutput{
		Path:      sc.Key,
		Schema:    sc.Schema,
		Version:   sc.Meta.Version,
		Hash:      sc.Meta.Hash,
		CreatedAt: sc.Meta.CreatedAt.Format(time.RFC3339),
		UpdatedAt: sc.Meta.UpdatedAt.Format(time.RFC3339),
		Payload:   sc.Payload,
	}, nil
}

func (s *Server) handleScrollWrite(_ context.Context, _ *mcp.CallToolRequest, input ScrollWriteInput) (*mcp.CallToolResult, ScrollWriteOutput, error) {
	if input.Path == "" {
		return nil, ScrollWriteOutput{}, errors.New("path is required")
	}
	if input.Payload == nil {
		return nil, ScrollWriteOutput{}, errors.New("payload is required")
	}
	if allowed, reason := s.policy.IsPathAllowed(input.Path); !allowed {
		s.record(audit.OpScrollWrite, audit.ResultDenied, input.Path, reason)
		return nil, ScrollWriteOutput{}, fmt.Errorf("denied: %s", reason)
	}

	sc, err := s.ns.Write(input.Path, input.Payload)
	if err != nil {
		s.record(audit.OpScrollWrite, audit.ResultError, input.Path, err.Error())
		return nil, ScrollWriteOutput{}, err
	}

	s.record(audit.OpScrollWrite, audit.ResultSuccess, input.Path, "")
	return nil, ScrollWriteOutput{
		Path:    sc.Key,
		Schema:  sc.Schema,
		Version: sc.Meta.Version,
		Hash:    sc.Meta.Hash,
	}, nil
}

func (s *Server) handleScrollList(_ context.Context, _ *mcp.CallToolRequest, input ScrollListInput) (*mcp.CallToolResult, ScrollListOutput, error) {
	prefix := input.Prefix
	if prefix == "" {
		prefix = "/"
	}
	if err := scroll.ValidatePath(prefix); err != nil {
		return nil, ScrollListOutput{}, fmt.Errorf("invalid prefix: %w", err)
	}

	keys, err := s.ns.List(prefix)
	if err != nil {
		s.record(audit.OpScrollList, audit.ResultError, prefix, err.Error())
		return nil, ScrollListOutput{}, err
	}

	// Paths the policy hides are dropped rather than erroring, so an
	// agent listing "/" sees only its own world.
	visible := make([]string, 0, len(keys))
	for _, key := range keys {
		if allowed, _ := s.policy.IsPathAllowed(key); allowed {
			visible = append(visible, key)
		}
	}

	s.record(audit.OpScrollList, audit.ResultSuccess, prefix, "")
	return nil, ScrollListOutput{Paths: visible}, nil
}

func (s *Server) handleVaultStatus(_ context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	initialized, err := s.sess.Initialized()
	if err != nil {
		return nil, VaultStatusOutput{}, err
	}
	out := VaultStatusOutput{
		Initialized: initialized,
		Unlocked:    s.sess.Unlocked(),
	}
	remaining, err := s.sess.LockoutRemaining()
	if err != nil {
		return nil, VaultStatusOutput{}, err
	}
	if remaining > 0 {
		out.LockoutRemaining = remaining.Round(time.Second).String()
	}
	return nil, out, nil
}
