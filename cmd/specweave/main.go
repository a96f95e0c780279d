// Command specweave keeps increment specs, tasks and tracker issues in sync.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/config"
	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/increment"
	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/telemetry"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/ui"
	"github.com/specweave/specweave/internal/utils"

	// Register tracker adapters.
	_ "github.com/specweave/specweave/internal/tracker/azuredevops"
	_ "github.com/specweave/specweave/internal/tracker/github"
	_ "github.com/specweave/specweave/internal/tracker/jira"
)

// Version is set at build time.
var Version = "dev"

// app carries the global flags and the project state resolved from them.
type app struct {
	rootFlag   string
	jsonOutput bool
	verbose    bool
	quiet      bool
	noColor    bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	root string
	cfg  *config.Config
	incs *increment.Store

	// newClient builds the configured tracker. Tests replace it.
	newClient func(ctx context.Context, cfg *config.Config) (tracker.Client, error)
	// interactive reports whether prompts can be shown.
	interactive func() bool
}

func newApp() *app {
	return &app{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newClient: newTrackerClient,
		interactive: func() bool {
			return ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stdout)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "specweave",
		Short:         "Keep increment specs, tasks and tracker issues in sync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug.SetVerbose(a.verbose)
			debug.SetQuiet(a.quiet)
			ui.ConfigureColor(a.noColor || a.jsonOutput)
		},
	}
	root.PersistentFlags().StringVar(&a.rootFlag, "root", "", "Project root (default: nearest directory containing .specweave)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose/debug output")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-essential output")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddGroup(
		&cobra.Group{ID: "status", Title: "Status:"},
		&cobra.Group{ID: "tracker", Title: "Tracker:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
	)
	root.AddCommand(
		newACCmd(a),
		newIncrementsCmd(a),
		newSyncCmd(a),
		newIssueCmd(a),
		newCacheCmd(a),
		newHookCmd(a),
	)
	return root
}

// load resolves the project root and reads its configuration. It is
// idempotent.
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	start := a.rootFlag
	if start == "" {
		start = "."
	}
	root, err := utils.FindProjectRoot(start)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	md := metadata.NewStore(root)
	md.AuditLimit = cfg.Audit.Limit

	a.root = root
	a.cfg = cfg
	a.incs = increment.NewStore(root, md)
	debug.Logf("specweave: project root %s, provider %q\n", root, cfg.Sync.Provider)
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := telemetry.Init(ctx, "specweave", Version); err != nil {
		debug.Logf("telemetry: %v\n", err)
	}

	err := newRootCmd(newApp()).ExecuteContext(ctx)
	telemetry.Shutdown(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
