package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditLimit int
	auditSince string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of records to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show records since duration (e.g., 24h)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the tamper-evident operation log",
}

// ensureAudit unlocks the session and arms the chain key; record
// inspection needs the key to recompute HMACs.
func ensureAudit() error {
	if auditLog == nil {
		return fmt.Errorf("audit log disabled in config")
	}
	return ensureUnlocked()
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent audit records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureAudit(); err != nil {
			return err
		}
		var since time.Time
		if auditSince != "" {
			d, err := time.ParseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid --since duration: %w", err)
			}
			since = time.Now().UTC().Add(-d)
		}

		events, err := auditLog.Events(auditLimit, since)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no audit records")
			return nil
		}
		for _, ev := range events {
			detail := ev.Detail
			if detail != "" {
				detail = "  " + detail
			}
			fmt.Printf("%s  %-20s %-7s [%s]%s\n", ev.Timestamp, ev.Operation, ev.Result, ev.Source, detail)
		}
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the HMAC chain across every log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureAudit(); err != nil {
			return err
		}
		res, err := auditLog.Verify()
		if err != nil {
			return err
		}
		if res.Valid {
			fmt.Printf("audit chain valid: %d records\n", res.RecordsTotal)
			return nil
		}
		fmt.Printf("audit chain INVALID (%d records):\n", res.RecordsTotal)
		for _, msg := range res.Errors {
			fmt.Printf("  %s\n", msg)
		}
		return fmt.Errorf("audit verification failed")
	},
}
