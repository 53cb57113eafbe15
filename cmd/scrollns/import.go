package main

import (
	"fmt"
	"os"

	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/importer"

	"github.com/spf13/cobra"
)

var (
	importFormat       string
	importPrefix       string
	importPreserveCase bool
	importDryRun       bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFormat, "format", "flat", "Input format: flat, tree")
	importCmd.Flags().StringVar(&importPrefix, "prefix", "/", "Prefix prepended to imported paths")
	importCmd.Flags().BoolVar(&importPreserveCase, "preserve-case", false, "Keep the original casing of names")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Parse and report without writing")
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import scrolls from a JSON dump",
	Long: `Parses a JSON file into scrolls and writes them into the namespace.
The flat format maps paths to payloads; the tree format flattens a
nested object into a path hierarchy. Names that are not valid path
segments are sanitized and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		parser, err := importer.New(importer.Format(importFormat))
		if err != nil {
			return err
		}
		res, err := parser.Parse(data, importer.Options{
			Prefix:       importPrefix,
			PreserveCase: importPreserveCase,
		})
		if err != nil {
			return err
		}

		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		for _, s := range res.Skipped {
			fmt.Fprintf(os.Stderr, "skipped %s: %s\n", s.Name, s.Reason)
		}
		if importDryRun {
			for _, s := range res.Scrolls {
				fmt.Println(s.Path)
			}
			fmt.Printf("would import %d scrolls\n", len(res.Scrolls))
			return nil
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		for _, s := range res.Scrolls {
			if _, err := ns.Write(s.Path, s.Payload); err != nil {
				recordAudit(audit.OpScrollWrite, audit.ResultError, s.Path, err.Error())
				return fmt.Errorf("failed to import %s: %w", s.Path, err)
			}
			recordAudit(audit.OpScrollWrite, audit.ResultSuccess, s.Path, "imported")
		}
		fmt.Printf("imported %d scrolls (%d skipped)\n", len(res.Scrolls), len(res.Skipped))
		return nil
	},
}
