package main

import (
	"fmt"

	"github.com/hakoda-dev/scrollns/pkg/anchor"
	"github.com/hakoda-dev/scrollns/pkg/audit"

	"github.com/spf13/cobra"
)

var anchorRoot string

func init() {
	rootCmd.AddCommand(anchorCmd)
	anchorCmd.AddCommand(anchorCreateCmd)
	anchorCmd.AddCommand(anchorListCmd)
	anchorCmd.AddCommand(anchorVerifyCmd)
	anchorCmd.AddCommand(anchorRestoreCmd)

	anchorCmd.PersistentFlags().StringVar(&anchorRoot, "root", "/", "Subtree the anchor covers")
}

var anchorCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Snapshot and restore subtrees",
}

func openAnchors() (*anchor.Manager, func(), error) {
	if err := ensureUnlocked(); err != nil {
		return nil, nil, err
	}
	ns, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return anchor.NewManager(ns), func() { ns.Close() }, nil
}

var anchorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Record a verifiable snapshot of a subtree",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeNS, err := openAnchors()
		if err != nil {
			return err
		}
		defer closeNS()

		rec, err := m.Create(anchorRoot)
		if err != nil {
			recordAudit(audit.OpAnchorCreate, audit.ResultError, anchorRoot, err.Error())
			return err
		}
		recordAudit(audit.OpAnchorCreate, audit.ResultSuccess, anchorRoot, rec.ID)
		fmt.Printf("anchor %s over %s (%d scrolls, hash %s)\n",
			rec.ID, rec.Root, len(rec.Scrolls), shortHash(rec.Hash))
		return nil
	},
}

var anchorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List anchors for a subtree, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeNS, err := openAnchors()
		if err != nil {
			return err
		}
		defer closeNS()

		recs, err := m.List(anchorRoot)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("no anchors")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s  %s  %3d scrolls  %s\n",
				rec.ID, rec.CreatedAt.Format("2006-01-02 15:04:05"), len(rec.Scrolls), shortHash(rec.Hash))
		}
		return nil
	},
}

var anchorVerifyCmd = &cobra.Command{
	Use:   "verify <id>",
	Short: "Check an anchor's hash chain and snapshot hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeNS, err := openAnchors()
		if err != nil {
			return err
		}
		defer closeNS()

		if err := m.Verify(anchorRoot, args[0]); err != nil {
			return err
		}
		fmt.Printf("anchor %s verified\n", args[0])
		return nil
	},
}

var anchorRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a subtree to an anchored snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, closeNS, err := openAnchors()
		if err != nil {
			return err
		}
		defer closeNS()

		if err := m.Restore(anchorRoot, args[0]); err != nil {
			recordAudit(audit.OpAnchorRestore, audit.ResultError, anchorRoot, err.Error())
			return err
		}
		recordAudit(audit.OpAnchorRestore, audit.ResultSuccess, anchorRoot, args[0])
		fmt.Printf("restored %s to anchor %s\n", anchorRoot, args[0])
		return nil
	},
}
