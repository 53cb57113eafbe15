package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/backend"
	"github.com/hakoda-dev/scrollns/pkg/config"
	"github.com/hakoda-dev/scrollns/pkg/kernel"
	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/security"
	"github.com/hakoda-dev/scrollns/pkg/session"
	"github.com/hakoda-dev/scrollns/pkg/store"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	dataDir string

	cfg      *config.Config
	sess     *session.Manager
	auditLog *audit.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scrollns",
	Short: "scrollns is a capability-scoped encrypted scroll store",
	Long: `A virtual data layer for wallet state: every value is a versioned,
hash-stamped scroll in a single path namespace, encrypted at rest under
a PIN-unlocked key hierarchy.`,
	SilenceUsage: true,
	// PersistentPreRunE opens the session manager before every
	// subcommand. The vault stays locked until a command needs it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get user home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".scrollns")
		}
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		var err error
		cfg, err = config.Load(dataDir)
		if err != nil {
			return err
		}
		sess, err = session.Open(dataDir, cfg.SessionConfig())
		if err != nil {
			return err
		}
		if cfg.AuditEnabled {
			auditLog = audit.NewLogger(filepath.Join(dataDir, "audit"))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if sess != nil {
			sess.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "Data directory (default ~/.scrollns)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

// ensureUnlocked unlocks the session, reading the PIN from SCROLLNS_PIN
// or prompting. The chain key for the audit log is armed on success.
func ensureUnlocked() error {
	if sess.Unlocked() {
		return nil
	}
	initialized, err := sess.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		return fmt.Errorf("vault not initialized; run 'scrollns init' first")
	}

	pin := os.Getenv("SCROLLNS_PIN")
	os.Unsetenv("SCROLLNS_PIN")
	if pin == "" {
		pin, err = readSecret("Enter PIN: ")
		if err != nil {
			return err
		}
	}

	if err := sess.Unlock(pin); err != nil {
		if remaining, ok := session.IsRateLimited(err); ok {
			return fmt.Errorf("too many failed attempts; try again in %s", remaining.Round(time.Second))
		}
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	armAudit()
	recordAudit(audit.OpVaultUnlock, audit.ResultSuccess, "", "")
	return nil
}

// armAudit hands the audit subkey to the logger. Requires an unlocked
// session; a locked vault leaves the logger inert.
func armAudit() {
	if auditLog == nil {
		return
	}
	key, err := sess.DeriveKey(session.LabelAudit)
	if err != nil {
		return
	}
	if err := auditLog.SetChainKey(key); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit log unavailable: %v\n", err)
	}
}

func recordAudit(op, result, path, detail string) {
	if auditLog == nil {
		return
	}
	_ = auditLog.Log(op, audit.SourceCLI, result, path, detail)
}

// openStore composes the configured mounts under a kernel and wraps the
// whole tree in the encrypted store. The caller owns the returned store
// and must Close it.
func openStore() (*store.Store, error) {
	mounts := cfg.Mounts
	if len(mounts) == 0 {
		mounts = []config.Mount{{Prefix: "/", Backend: "file"}}
	}

	k := kernel.New()
	for _, m := range mounts {
		var ns namespace.Namespace
		switch m.Backend {
		case "memory":
			ns = backend.NewMemory()
		case "file":
			root := m.Root
			if root == "" {
				root = cfg.StoreRoot
			}
			if root == "" {
				root = filepath.Join(dataDir, "scrolls")
			}
			f, err := backend.NewFile(root)
			if err != nil {
				k.Close()
				return nil, err
			}
			ns = f
		default:
			k.Close()
			return nil, fmt.Errorf("unknown backend %q for mount %s", m.Backend, m.Prefix)
		}
		if err := k.Mount(m.Prefix, ns); err != nil {
			k.Close()
			return nil, err
		}
	}
	return store.New(k, sess, "main"), nil
}

// readSecret reads a line without echo when stdin is a terminal, and
// falls back to plain line input for piped stdin.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(raw), nil
	}
	return readLine()
}

func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the vault from a recovery mnemonic and a PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		initialized, err := sess.Initialized()
		if err != nil {
			return err
		}
		if initialized {
			return fmt.Errorf("vault already initialized at %s", dataDir)
		}

		mnemonic := os.Getenv("SCROLLNS_MNEMONIC")
		os.Unsetenv("SCROLLNS_MNEMONIC")
		if mnemonic == "" {
			mnemonic, err = readSecret("Recovery mnemonic: ")
			if err != nil {
				return err
			}
		}
		if mnemonic == "" {
			return fmt.Errorf("a recovery mnemonic is required")
		}

		pin, err := readSecret("Choose a PIN: ")
		if err != nil {
			return err
		}
		check := security.CheckPIN(pin)
		if check.Strength == security.StrengthWeak {
			return fmt.Errorf("PIN rejected: %s", check.Warnings[0])
		}
		for _, w := range check.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		confirm, err := readSecret("Confirm PIN: ")
		if err != nil {
			return err
		}
		if pin != confirm {
			return fmt.Errorf("PINs do not match")
		}

		if err := sess.Initialize(pin, mnemonic); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}

		armAudit()
		recordAudit(audit.OpVaultInit, audit.ResultSuccess, "", "")
		fmt.Printf("Vault initialized at %s\n", dataDir)
		fmt.Printf("Session timeout: %s\n", cfg.SessionTimeout.Std())
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Verify the PIN and report lockout state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		fmt.Println("PIN accepted.")
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Wipe any live session key material",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordAudit(audit.OpVaultLock, audit.ResultSuccess, "", "")
		sess.Lock()
		fmt.Println("Locked.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and mount status",
	RunE: func(cmd *cobra.Command, args []string) error {
		initialized, err := sess.Initialized()
		if err != nil {
			return err
		}
		fmt.Printf("Data directory: %s\n", dataDir)
		fmt.Printf("Initialized:    %v\n", initialized)
		if !initialized {
			return nil
		}
		remaining, err := sess.LockoutRemaining()
		if err != nil {
			return err
		}
		if remaining > 0 {
			fmt.Printf("Locked out:     %s remaining\n", remaining.Round(time.Second))
		}
		fmt.Printf("Audit log:      %v\n", cfg.AuditEnabled)
		mounts := cfg.Mounts
		if len(mounts) == 0 {
			mounts = []config.Mount{{Prefix: "/", Backend: "file"}}
		}
		fmt.Println("Mounts:")
		for _, m := range mounts {
			fmt.Printf("  %-16s %s\n", m.Prefix, m.Backend)
		}
		return nil
	},
}

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Destroy the key record; scrolls become unreadable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetForce {
			fmt.Print("This destroys the PIN record and lockout state. Data encrypted\n" +
				"under the current hierarchy becomes unreadable without the mnemonic.\n" +
				"Type 'reset' to continue: ")
			answer, err := readLine()
			if err != nil {
				return err
			}
			if answer != "reset" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		recordAudit(audit.OpVaultReset, audit.ResultSuccess, "", "")
		if err := sess.Reset(); err != nil {
			return fmt.Errorf("failed to reset vault: %w", err)
		}
		fmt.Println("Vault reset. Run 'scrollns init' to re-enroll.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip the confirmation prompt")
}
