package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hakoda-dev/scrollns/internal/cli"
	"github.com/hakoda-dev/scrollns/pkg/audit"
	"github.com/hakoda-dev/scrollns/pkg/patch"
	"github.com/hakoda-dev/scrollns/pkg/scroll"

	"github.com/spf13/cobra"
)

var (
	getShowMeta bool

	listLong bool

	historyAt uint64
)

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(compactCmd)

	getCmd.Flags().BoolVar(&getShowMeta, "meta", false, "Include version, hash, and timestamps")
	listCmd.Flags().BoolVarP(&listLong, "long", "l", false, "Show version and hash per scroll")
	historyCmd.Flags().Uint64Var(&historyAt, "at", 0, "Reconstruct the payload at this sequence number")
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Read a scroll and print its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		s, err := ns.Read(args[0])
		if err != nil {
			recordAudit(audit.OpScrollRead, audit.ResultError, args[0], err.Error())
			return err
		}
		recordAudit(audit.OpScrollRead, audit.ResultSuccess, args[0], "")

		if getShowMeta {
			return printJSON(s)
		}
		return printJSON(s.Payload)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <path> [json]",
	Short: "Write a scroll; the payload is a JSON argument or piped stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := payloadArg(args)
		if err != nil {
			return err
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		s, err := ns.Write(args[0], payload)
		if err != nil {
			recordAudit(audit.OpScrollWrite, audit.ResultError, args[0], err.Error())
			return err
		}
		recordAudit(audit.OpScrollWrite, audit.ResultSuccess, args[0], "")
		fmt.Printf("%s version %d hash %s\n", s.Key, s.Meta.Version, shortHash(s.Meta.Hash))
		return nil
	},
}

// payloadArg returns the payload bytes from the second argument or, when
// absent, from stdin.
func payloadArg(args []string) ([]byte, error) {
	if len(args) == 2 {
		return []byte(args[1]), nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no payload: pass a JSON argument or pipe one on stdin")
	}
	return raw, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

var listCmd = &cobra.Command{
	Use:   "list [prefix-or-pattern]",
	Short: "List scroll paths under a prefix or matching a pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "/"
		if len(args) == 1 {
			target = args[0]
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		var keys []string
		if scroll.IsPattern(target) {
			keys, err = cli.ExpandPattern(ns, target)
		} else {
			keys, err = ns.List(target)
		}
		if err != nil {
			recordAudit(audit.OpScrollList, audit.ResultError, target, err.Error())
			return err
		}
		recordAudit(audit.OpScrollList, audit.ResultSuccess, target, "")

		for _, key := range keys {
			if !listLong {
				fmt.Println(key)
				continue
			}
			s, err := ns.Read(key)
			if err != nil {
				return err
			}
			fmt.Printf("%-40s v%-4d %s\n", key, s.Meta.Version, shortHash(s.Meta.Hash))
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <pattern>",
	Short: "Stream commits matching a pattern until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := scroll.ValidatePattern(args[0]); err != nil {
			return err
		}
		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		sub, err := ns.Watch(args[0])
		if err != nil {
			recordAudit(audit.OpScrollWatch, audit.ResultError, args[0], err.Error())
			return err
		}
		recordAudit(audit.OpScrollWatch, audit.ResultSuccess, args[0], "")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			sub.Cancel()
		}()

		enc := json.NewEncoder(os.Stdout)
		for ev := range sub.Events() {
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "watch error: %v\n", ev.Err)
				continue
			}
			if err := enc.Encode(ev.Scroll); err != nil {
				return err
			}
		}
		return nil
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch <path>",
	Short: "Apply a patch document from stdin to a scroll",
	Long: `Reads a patch document {"base_hash": ..., "ops": [...]} from stdin and
applies it to the scroll at path. The write is rejected when the scroll
has changed since the patch was computed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read patch from stdin: %w", err)
		}
		var p patch.Patch
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("patch is not valid JSON: %w", err)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		cur, err := ns.Read(args[0])
		if err != nil {
			recordAudit(audit.OpScrollPatch, audit.ResultError, args[0], err.Error())
			return err
		}
		next, err := p.ApplyTo(cur)
		if err != nil {
			recordAudit(audit.OpScrollPatch, audit.ResultError, args[0], err.Error())
			return err
		}
		s, err := ns.Write(args[0], next)
		if err != nil {
			recordAudit(audit.OpScrollPatch, audit.ResultError, args[0], err.Error())
			return err
		}
		recordAudit(audit.OpScrollPatch, audit.ResultSuccess, args[0], "")
		fmt.Printf("%s version %d hash %s\n", s.Key, s.Meta.Version, shortHash(s.Meta.Hash))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Show the recorded change sequence of a scroll",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		if historyAt > 0 {
			state, err := ns.StateAt(args[0], historyAt)
			if err != nil {
				return err
			}
			return printJSON(state)
		}

		seqs, err := ns.History(args[0])
		if err != nil {
			return err
		}
		if len(seqs) == 0 {
			fmt.Println("no history")
			return nil
		}
		for _, seq := range seqs {
			fmt.Println(seq)
		}
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact <path>",
	Short: "Fold a scroll's history into a snapshot record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		ns, err := openStore()
		if err != nil {
			return err
		}
		defer ns.Close()

		if err := ns.Compact(args[0]); err != nil {
			return err
		}
		fmt.Printf("compacted history for %s\n", args[0])
		return nil
	},
}
