// Package mcp exposes the scroll namespace to AI agents over the Model
// Context Protocol. Tools carry scroll payloads and metadata only; key
// material, the PIN, and the mnemonic never cross this boundary.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/session"
)

// Version reported in the MCP handshake.
const Version = "0.1.0"

// Server bridges MCP tool calls onto a namespace.
type Server struct {
	server *mcp.Server
	ns     namespace.Namespace
	sess   *session.Manager
	policy *Policy
	log    *audit.Logger
}

// Options configures NewServer.
type Options struct {
	// DataDir holds the policy file. Empty skips policy loading and
	// applies the default policy.
	DataDir string
	// PIN unlocks the session. Empty falls back to the SCROLLNS_PIN
	// environment variable, which is cleared after reading.
	PIN string
	// Audit receives a record per tool call. May be nil.
	Audit *audit.Logger
}

// NewServer unlocks the session and prepares the tool surface. The
// namespace should already be composed (kernel, encrypted store) by the
// caller.
func NewServer(ns namespace.Namespace, sess *session.Manager, opts Options) (*Server, error) {
	policy := DefaultPolicy()
	if opts.DataDir != "" {
		loaded, err := LoadPolicy(opts.DataDir)
		switch {
		case err == nil:
			policy = loaded
		case errors.Is(err, ErrPolicyNotFound):
			// Use the default.
		default:
			// A present but untrusted policy file must not be ignored.
			return nil, err
		}
	}

	pin := opts.PIN
	if pin == "" {
		pin = os.Getenv("SCROLLNS_PIN")
		os.Unsetenv("SCROLLNS_PIN")
	}
	if pin == "" {
		return nil, fmt.Errorf("mcp: no PIN provided: set SCROLLNS_PIN")
	}
	if err := sess.Unlock(pin); err != nil {
		return nil, fmt.Errorf("mcp: unlock: %w", err)
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "scrollns", Version: Version}, nil)
	s := &Server{server: srv, ns: ns, sess: sess, policy: policy, log: opts.Audit}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "scroll_read",
		Description: "Read the scroll at a path. Returns the payload together with schema, version, content hash, and timestamps.",
	}, s.handleScrollRead)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "scroll_write",
		Description: "Create or replace the scroll at a path with a JSON payload. Returns the committed metadata.",
	}, s.handleScrollWrite)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "scroll_list",
		Description: "List scroll paths at or under a prefix. Returns paths only, no payloads.",
	}, s.handleScrollList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether the vault is initialized and unlocked, and any remaining lockout.",
	}, s.handleVaultStatus)
}

// Run serves on stdio until the context is cancelled, then locks the
// session.
func (s *Server) Run(ctx context.Context) error {
	defer s.sess.Lock()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the session.
func (s *Server) Close() error {
	s.sess.Lock()
	return nil
}

// record writes an audit entry, tolerating a nil logger.
func (s *Server) record(op, result, path, detail string) {
	if s.log == nil {
		return
	}
	if err := s.log.Log(op, audit.SourceMCP, result, path, detail); err != nil {
		log.Printf("mcp: audit write failed: %v", err)
	}
}
