package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/acsync"
	"github.com/specweave/specweave/internal/ui"
)

func newACCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ac",
		GroupID: "status",
		Short:   "Reconcile acceptance criteria with task status",
	}
	cmd.AddCommand(newACSyncCmd(a), newACStatusCmd(a), newACValidateCmd(a))
	return cmd
}

func newACSyncCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sync [increment]",
		Short: "Check or uncheck spec.md ACs from tasks.md",
		Long: `Recompute each acceptance criterion from the tasks that satisfy it and
rewrite the spec.md checkboxes that disagree. An AC is complete when every
task referencing it is completed; canceled and transferred tasks keep it open.

ACs marked <!-- manual --> and increments with preserveFormat set are reported
as conflicts and left unchanged.

Examples:
  specweave ac sync 0043-payments
  specweave ac sync --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			r := acsync.NewReconciler(a.incs)
			r.OnWarning = a.warn

			if len(args) == 1 {
				res, err := r.SyncACStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if a.jsonOutput {
					return a.outputJSON(res)
				}
				a.printACResult(res)
				return nil
			}
			if !all {
				return fmt.Errorf("specify an increment or --all")
			}

			results, errs, err := r.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				failed := make(map[string]string, len(errs))
				for id, e := range errs {
					failed[id] = e.Error()
				}
				return a.outputJSON(map[string]interface{}{"results": results, "errors": failed})
			}
			for _, res := range results {
				a.printACResult(res)
			}
			for _, id := range sortedKeys(errs) {
				a.printf("%s %s: %v\n", ui.RenderFailIcon(), id, errs[id])
			}
			a.printf("\n%d increments checked, %d failed\n", len(results)+len(errs), len(errs))
			if len(errs) > 0 {
				return fmt.Errorf("%d increments failed", len(errs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Sync every increment that has a tasks.md")
	return cmd
}

func (a *app) printACResult(res *acsync.Result) {
	switch {
	case len(res.Updated) > 0:
		a.printf("%s %s: updated %v\n", ui.RenderPassIcon(), res.IncrementID, res.Updated)
	default:
		a.printf("%s %s: up to date\n", ui.RenderSkipIcon(), res.IncrementID)
	}
	if len(res.Conflicts) > 0 {
		a.printf("  %s%s %v\n", ui.TreeLast, ui.RenderWarn("conflicts:"), res.Conflicts)
	}
}

func newACStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <increment>",
		Short: "Show derived AC completion next to the spec.md checkboxes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			id := args[0]
			specDoc, err := a.incs.ReadSpec(id)
			if err != nil {
				return err
			}
			taskDoc, err := a.incs.ReadTasks(id)
			if err != nil {
				return err
			}
			status := acsync.ComputeACStatus(taskDoc.ByID())
			if a.jsonOutput {
				return a.outputJSON(status)
			}

			a.printf("%s %s\n\n", ui.RenderCategory("Acceptance criteria"), ui.RenderMuted(id))
			for _, ac := range specDoc.ACs {
				st := status[ac.ID]
				box := "[ ]"
				if ac.Checked {
					box = "[x]"
				}
				line := fmt.Sprintf("%s %s %s", box, ac.ID, ui.RenderProgress(st.Completed, st.Total))
				if st.Total > 0 && st.IsComplete != ac.Checked {
					line += " " + ui.RenderWarn("(out of date)")
				}
				if ac.Protected {
					line += " " + ui.RenderMuted("(manual)")
				}
				a.printf("  %s\n", line)
			}
			return nil
		},
	}
}

func newACValidateCmd(a *app) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <increment>",
		Short: "Report orphaned ACs, invalid references and dependency problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			specDoc, err := a.incs.ReadSpec(args[0])
			if err != nil {
				return err
			}
			taskDoc, err := a.incs.ReadTasks(args[0])
			if err != nil {
				return err
			}
			warnings := acsync.ValidateACMapping(specDoc, taskDoc)
			if a.jsonOutput {
				if warnings == nil {
					warnings = []acsync.Warning{}
				}
				if err := a.outputJSON(warnings); err != nil {
					return err
				}
			} else if len(warnings) == 0 {
				a.printf("%s %s: no problems found\n", ui.RenderPassIcon(), args[0])
			} else {
				for _, w := range warnings {
					a.printf("%s %s\n", ui.RenderWarnIcon(), w.String())
				}
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("%d validation warnings", len(warnings))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any warning is found")
	return cmd
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
