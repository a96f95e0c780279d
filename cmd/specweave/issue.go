package main

import (
	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/ui"
)

func newIssueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "issue",
		GroupID: "tracker",
		Short:   "Tracker issue commands",
	}

	var repo string
	create := &cobra.Command{
		Use:   "create <increment>",
		Short: "Create the tracker issue for an increment, reusing any existing one",
		Long: `Create the issue titled "[FS-NNN] <title>" for an increment.

The tracker is searched for the title prefix first and an existing issue is
reused. After creating, the search is repeated; if a concurrent run created
the same issue, the earliest one is kept and the others are closed as
duplicates. The resulting issue is linked in metadata.json unless --repo
targets another repository.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := engine.CreateIssue(cmd.Context(), args[0], repo)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.outputJSON(res)
			}
			verb := "Created"
			if res.WasReused {
				verb = "Reused"
			}
			a.printf("%s %s %s issue %s: %s\n", ui.RenderPassIcon(), verb, engine.Client.DisplayName(), res.Issue.ID, res.Issue.Title)
			if res.Issue.URL != "" {
				a.printf("  %s%s\n", ui.TreeLast, ui.RenderAccent(res.Issue.URL))
			}
			if res.DuplicatesClosed > 0 {
				a.printf("  %sclosed %d duplicate(s)\n", ui.TreeLast, res.DuplicatesClosed)
			}
			return nil
		},
	}
	create.Flags().StringVar(&repo, "repo", "", "Target repository (owner/name) or project instead of the configured one")
	cmd.AddCommand(create)
	return cmd
}
