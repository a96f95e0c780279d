package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/statussync"
	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/ui"
)

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "tracker",
		Short:   "Bidirectional status sync with the configured tracker",
		Long: `Compare each increment's status, labels and assignees with its linked
tracker issue and update whichever side is stale.

When both sides changed since the last sync, statusSync.conflictResolution
decides: last-write-wins, local-wins, external-wins or prompt. Prompted
conflicts are asked interactively when statusSync.promptUser is true and the
terminal is interactive; otherwise they are deferred until
'specweave sync resolve'.`,
	}
	cmd.AddCommand(newSyncStatusCmd(a), newSyncAllCmd(a), newSyncResolveCmd(a))
	return cmd
}

type syncFlags struct {
	dryRun bool
	policy string
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Show what would change without writing anything")
	cmd.Flags().StringVar(&f.policy, "policy", "", "Override the conflict policy (last-write-wins, local-wins, external-wins, prompt)")
}

func (f *syncFlags) options() (statussync.Options, error) {
	opts := statussync.Options{DryRun: f.dryRun}
	if f.policy != "" {
		p, err := types.ParseResolution(f.policy)
		if err != nil {
			return opts, err
		}
		opts.Policy = p
	}
	return opts, nil
}

func newSyncStatusCmd(a *app) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "status <increment>",
		Short: "Sync one increment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := engine.Sync(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			if out.Action == statussync.ActionDeferred && !opts.DryRun {
				if resolved, err := a.promptResolve(cmd.Context(), engine, out); err != nil {
					return err
				} else if resolved != nil {
					out = resolved
				}
			}
			if a.jsonOutput {
				return a.outputJSON(out)
			}
			a.printOutcome(out)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSyncAllCmd(a *app) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Sync every increment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := engine.SyncAll(cmd.Context(), opts)
			if err != nil && res == nil {
				return err
			}
			if a.jsonOutput {
				if jerr := a.outputJSON(res); jerr != nil {
					return jerr
				}
			} else {
				for _, item := range res.Items {
					if item.Err != nil {
						a.printf("%s %s: %v\n", ui.RenderFailIcon(), item.IncrementID, item.Err)
						continue
					}
					a.printOutcome(item.Outcome)
				}
				a.printf("\n%s\n", res.Summary())
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d increments failed to sync", res.Failed)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newSyncResolveCmd(a *app) *cobra.Command {
	var use string
	cmd := &cobra.Command{
		Use:   "resolve <increment>",
		Short: "Resolve a deferred conflict",
		Long: `Apply a decision to an increment whose conflict was deferred by the
prompt policy. The tracker is read again before anything is written.

Examples:
  specweave sync resolve 0043-payments --use local
  specweave sync resolve 0043-payments --use external`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, err := parseDecision(use)
			if err != nil {
				return err
			}
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			out, err := engine.ResolveConflict(cmd.Context(), args[0], decision)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(out)
			}
			a.printOutcome(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&use, "use", "", "Winning side: local, external or last-write-wins")
	_ = cmd.MarkFlagRequired("use")
	return cmd
}

// parseDecision parses --use. Any resolution except prompt is accepted.
func parseDecision(s string) (types.Resolution, error) {
	r, err := types.ParseResolution(s)
	if err != nil {
		return "", err
	}
	if r == types.ResolvePrompt {
		return "", fmt.Errorf("--use must pick a side, not %q", s)
	}
	return r, nil
}

// promptResolve asks which side wins a deferred conflict. It returns nil
// without asking when prompts are disabled or the terminal is not
// interactive, and nil when the user chooses to decide later.
func (a *app) promptResolve(ctx context.Context, engine *statussync.Engine, out *statussync.Outcome) (*statussync.Outcome, error) {
	if !engine.Config.PromptUser || a.jsonOutput || !a.interactive() {
		return nil, nil
	}

	var lines []string
	for _, c := range out.Conflicts {
		lines = append(lines, fmt.Sprintf("%s: local %q, %s %q", c.Type, c.LocalValue, engine.Client.DisplayName(), c.ExternalValue))
	}
	choice := "later"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s changed on both sides", out.IncrementID)).
				Description(strings.Join(lines, "\n")).
				Options(
					huh.NewOption("Keep SpecWeave values", string(types.ResolveLocalWins)),
					huh.NewOption("Keep "+engine.Client.DisplayName()+" values", string(types.ResolveExternalWins)),
					huh.NewOption("Decide later", "later"),
				).
				Value(&choice),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, nil
		}
		return nil, err
	}
	if choice == "later" {
		return nil, nil
	}
	return engine.ResolveConflict(ctx, out.IncrementID, types.Resolution(choice))
}

func (a *app) printOutcome(out *statussync.Outcome) {
	if out == nil {
		return
	}
	var icon string
	switch out.Action {
	case statussync.ActionPushed, statussync.ActionPulled, statussync.ActionCreated:
		icon = ui.RenderPassIcon()
	case statussync.ActionDeferred:
		icon = ui.RenderWarnIcon()
	case statussync.ActionSkipped:
		icon = ui.RenderSkipIcon()
	default:
		icon = ui.RenderInfoIcon()
	}

	line := fmt.Sprintf("%s %s: %s", icon, out.IncrementID, out.Action)
	if out.State != "" {
		line += " (" + ui.RenderSyncState(string(out.State)) + ")"
	}
	if out.ExternalState != "" {
		line += fmt.Sprintf(" %s → %s", out.LocalStatus, out.ExternalState)
	}
	if out.DryRun {
		line += " " + ui.RenderMuted("[dry run]")
	}
	a.printf("%s\n", line)
	if out.Issue != nil && out.Issue.URL != "" {
		a.printf("  %s%s\n", ui.TreeLast, ui.RenderAccent(out.Issue.URL))
	}
	for _, c := range out.Conflicts {
		a.printf("  %s%s: local=%q external=%q\n", ui.TreeLast, c.Type, c.LocalValue, c.ExternalValue)
	}
	for _, w := range out.Warnings {
		a.printf("  %s%s\n", ui.TreeLast, ui.RenderWarn(w))
	}
}
