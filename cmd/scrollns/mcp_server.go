package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hakoda-dev/scrollns/internal/mcp"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Serve scrolls to AI assistants over MCP stdio",
	Long: `Start a Model Context Protocol server over stdio. The server exposes
scroll_read, scroll_write, scroll_list, and vault_status, scoped by the
path policy in <dir>/mcp-policy.yaml. Anchors are never reachable from
this surface.

Authentication:
  Set SCROLLNS_PIN before starting the server. The PIN is read once and
  cleared from the environment.

Without a policy file every path except /anchors is reachable; a policy
file that is group or world readable is rejected outright.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	ns, err := openStore()
	if err != nil {
		return err
	}
	defer ns.Close()

	server, err := mcp.NewServer(ns, sess, mcp.Options{
		DataDir: dataDir,
		Audit:   auditLog,
	})
	if err != nil {
		return fmt.Errorf("failed to start MCP server: %w", err)
	}
	armAudit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		cancel()
		server.Close()
	}()

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
