package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hakoda-dev/scrollns/internal/cli"
	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/namespace"
	"github.com/hakoda-dev/scrollns/pkg/scroll"
	"github.com/hakoda-dev/scrollns/pkg/sealed"
	"github.com/hakoda-dev/scrollns/pkg/session"

	"github.com/spf13/cobra"
)

var (
	sealOutput   string
	sealPassword bool
	sealAsURI    bool

	unsealApply bool
)

func init() {
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(unsealCmd)

	sealCmd.Flags().StringVarP(&sealOutput, "output", "o", "", "Write the sealed blob to this file")
	sealCmd.Flags().BoolVar(&sealPassword, "password", false, "Seal under a prompted password instead of the export key")
	sealCmd.Flags().BoolVar(&sealAsURI, "uri", false, "Print the blob as a scrollns:// URI")

	unsealCmd.Flags().BoolVar(&unsealApply, "apply", false, "Write the contained scrolls into the namespace")
}

var sealCmd = &cobra.Command{
	Use:   "seal <path-or-pattern>...",
	Short: "Export scrolls as an encrypted, tamper-evident blob",
	Long: `Collects every scroll matched by the arguments and seals them into a
portable container. By default the container is bound to this vault's
export subkey; --password derives the keys from a prompted password so
the blob can be opened elsewhere.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sealOutput == "" && !sealAsURI {
			return fmt.Errorf("pick an output: -o <file> or --uri")
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		keys, err := cli.ExpandPatterns(ns, args)
		if err != nil {
			recordAudit(audit.OpExportSeal, audit.ResultError, strings.Join(args, ","), err.Error())
			return err
		}
		scrolls := make([]scroll.Scroll, 0, len(keys))
		for _, key := range keys {
			s, err := ns.Read(key)
			if err != nil {
				return err
			}
			scrolls = append(scrolls, *s)
		}

		opts := sealed.Options{KDF: cfg.KDFParams()}
		if sealPassword {
			opts.Password, err = readSecret("Export password: ")
			if err != nil {
				return err
			}
			if opts.Password == "" {
				return fmt.Errorf("export password must not be empty")
			}
		} else {
			opts.Key, err = sess.DeriveKey(session.LabelExport)
			if err != nil {
				return err
			}
		}

		blob, err := sealed.Seal(scrolls, opts)
		if err != nil {
			recordAudit(audit.OpExportSeal, audit.ResultError, strings.Join(args, ","), err.Error())
			return err
		}
		recordAudit(audit.OpExportSeal, audit.ResultSuccess, strings.Join(args, ","),
			fmt.Sprintf("%d scrolls", len(scrolls)))

		if sealAsURI {
			fmt.Println(sealed.EncodeURI(blob))
			return nil
		}
		if err := os.WriteFile(sealOutput, blob, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", sealOutput, err)
		}
		fmt.Printf("sealed %d scrolls to %s\n", len(scrolls), sealOutput)
		return nil
	},
}

var unsealCmd = &cobra.Command{
	Use:   "unseal <file-or-uri>",
	Short: "Open a sealed blob and list or restore its scrolls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := readSealedArg(args[0])
		if err != nil {
			return err
		}
		header, err := sealed.ReadHeader(blob)
		if err != nil {
			return err
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		opts := sealed.Options{}
		if header.Mode == sealed.ModePassword {
			opts.Password, err = readSecret("Export password: ")
			if err != nil {
				return err
			}
		} else {
			opts.Key, err = sess.DeriveKey(session.LabelExport)
			if err != nil {
				return err
			}
		}

		scrolls, err := sealed.Unseal(blob, opts)
		if err != nil {
			recordAudit(audit.OpExportUnseal, audit.ResultError, "", err.Error())
			return err
		}
		recordAudit(audit.OpExportUnseal, audit.ResultSuccess, "",
			fmt.Sprintf("%d scrolls", len(scrolls)))

		if !unsealApply {
			fmt.Printf("sealed %s, %d scrolls:\n", header.CreatedAt.Format("2006-01-02 15:04:05"), len(scrolls))
			for _, s := range scrolls {
				fmt.Printf("  %-40s v%-4d %s\n", s.Key, s.Meta.Version, shortHash(s.Meta.Hash))
			}
			return nil
		}

		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()
		for _, s := range scrolls {
			if _, err := namespace.WriteScroll(ns, s); err != nil {
				return fmt.Errorf("failed to restore %s: %w", s.Key, err)
			}
		}
		fmt.Printf("restored %d scrolls\n", len(scrolls))
		return nil
	},
}

// readSealedArg accepts either a scrollns:// URI or a file path.
func readSealedArg(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, sealed.URIPrefix) {
		return sealed.DecodeURI(arg)
	}
	blob, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return blob, nil
}
