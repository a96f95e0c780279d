package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/timeparsing"
	"github.com/specweave/specweave/internal/ui"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		GroupID: "maintenance",
		Short:   "Inspect and clean the tracker metadata cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size per provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			st, err := a.cache().GetStats()
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(st)
			}
			a.printf("%s %s\n", ui.RenderCategory("Cache"), ui.RenderMuted(a.cfg.Cache.Dir))
			a.printf("  %d files, %s\n", st.TotalFiles, humanize.IBytes(uint64(st.TotalSize)))
			for _, p := range sortedKeys(st.Providers) {
				ps := st.Providers[p]
				a.printf("  %s%s: %d files, %s\n", ui.TreeLast, p, ps.Files, humanize.IBytes(uint64(ps.Size)))
			}
			if st.OldestCache != nil {
				a.printf("  oldest entry: %s ago\n", st.OldestCacheAge.Round(time.Second))
			}
			if st.Corrupt > 0 {
				a.warn(fmt.Sprintf("%d unreadable cache files", st.Corrupt))
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if err := a.cache().ClearAll(); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(map[string]bool{"cleared": true})
			}
			a.printf("%s Cache cleared\n", ui.RenderPassIcon())
			return nil
		},
	}

	var olderThan string
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove entries stored before a given age",
		Long: `Remove cache entries whose storedAt is strictly older than the given age.

Examples:
  specweave cache prune --older-than 7d
  specweave cache prune --older-than 36h
  specweave cache prune --older-than "3 days ago"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := timeparsing.ParseAge(olderThan, time.Now())
			if err != nil {
				return fmt.Errorf("--older-than: %w", err)
			}
			if err := a.load(); err != nil {
				return err
			}
			n, err := a.cache().DeleteOlderThan(age)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(map[string]int{"deleted": n})
			}
			a.printf("%s Removed %d entries older than %s\n", ui.RenderPassIcon(), n, age)
			return nil
		},
	}
	prune.Flags().StringVar(&olderThan, "older-than", "7d", "Age threshold (7d, 36h, \"3 days ago\", 2026-01-01)")

	cmd.AddCommand(stats, clearCmd, prune)
	return cmd
}
