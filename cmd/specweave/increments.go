package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/increment"
	"github.com/specweave/specweave/internal/statussync"
	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/ui"
)

// incrementRow is one line of 'increments list'.
type incrementRow struct {
	*types.Increment
	// CachedState is the tracker state from the last sync, read from the
	// cache without contacting the tracker.
	CachedState string `json:"cachedState,omitempty"`
}

func newIncrementsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "increments",
		GroupID: "status",
		Short:   "List increments and check work-in-progress limits",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List increments with their status and tracker link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			incs, errs, err := a.incs.LoadAll()
			if err != nil {
				return err
			}
			for _, id := range sortedKeys(errs) {
				a.warn(fmt.Sprintf("%s: %v", id, errs[id]))
			}

			c := a.cache()
			rows := make([]incrementRow, 0, len(incs))
			for _, inc := range incs {
				row := incrementRow{Increment: inc}
				if link := inc.External; link != nil && link.IssueID != "" {
					var st types.ExternalStatus
					if ok, _ := c.GetInto(statussync.StatusCacheKey(link.Platform, link.IssueID), &st); ok {
						row.CachedState = st.State
					}
				}
				rows = append(rows, row)
			}
			if a.jsonOutput {
				return a.outputJSON(rows)
			}
			if len(rows) == 0 {
				a.printf("No increments found\n")
				return nil
			}
			for _, row := range rows {
				a.printf("%s  %-10s %s\n", ui.RenderAccent(row.ID), row.Status, row.Title)
				if link := row.External; link != nil && link.IssueID != "" {
					detail := fmt.Sprintf("%s #%s", link.Platform, link.IssueID)
					if row.CachedState != "" {
						detail += " (" + row.CachedState + ")"
					}
					a.printf("  %s%s\n", ui.TreeLast, ui.RenderMuted(detail))
				}
			}
			return nil
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Fail when more increments are active than limits.hardCap allows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			incs, _, err := a.incs.LoadAll()
			if err != nil {
				return err
			}
			report := increment.CheckDiscipline(incs, a.cfg.Limits.HardCap)
			if a.jsonOutput {
				if err := a.outputJSON(report); err != nil {
					return err
				}
			} else if report.Violation {
				a.printf("%s %s\n", ui.RenderFailIcon(), report.Message)
			} else {
				a.printf("%s %s\n", ui.RenderPassIcon(), report.Message)
			}
			if report.Violation {
				return fmt.Errorf("work-in-progress limit exceeded")
			}
			return nil
		},
	}

	cmd.AddCommand(list, check)
	return cmd
}
