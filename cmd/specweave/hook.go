package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specweave/specweave/internal/acsync"
	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/statussync"
	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/utils"
)

// hookInput is the JSON an editor hook writes to stdin.
type hookInput struct {
	IncrementID string `json:"incrementId"`
	ProjectRoot string `json:"projectRoot"`
}

func newHookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hook",
		GroupID: "maintenance",
		Short:   "Entry points for editor and agent hooks",
		Hidden:  true,
	}

	postTask := &cobra.Command{
		Use:   "post-task",
		Short: "Run after a task changes: AC sync, then status sync when autoSync is on",
		Long: `Reads {"incrementId": "...", "projectRoot": "..."} from stdin. Without an
incrementId every active increment is processed. Outside a specweave project
the hook exits silently. Failures are reported as warnings and never fail
the hook.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readHookInput(a.stdin)
			if err != nil {
				a.warn(err.Error())
				return nil
			}
			if in.ProjectRoot != "" && a.rootFlag == "" {
				a.rootFlag = in.ProjectRoot
			}
			if err := a.load(); err != nil {
				if errors.Is(err, utils.ErrNotInProject) {
					return nil
				}
				a.warn(err.Error())
				return nil
			}

			ids, err := a.hookTargets(in.IncrementID)
			if err != nil {
				a.warn(err.Error())
				return nil
			}

			r := acsync.NewReconciler(a.incs)
			r.OnWarning = func(msg string) { debug.Logf("hook: %s\n", msg) }
			for _, id := range ids {
				res, err := r.SyncACStatus(cmd.Context(), id)
				if err != nil {
					a.warn(fmt.Sprintf("AC sync for %s: %v", id, err))
					continue
				}
				if len(res.Updated) > 0 {
					debug.LogEvent(a.root, "AC_SYNC", id, strings.Join(res.Updated, ","))
					a.message(fmt.Sprintf("%s: updated %s", id, strings.Join(res.Updated, ", ")))
				}
			}

			ss := a.cfg.StatusSync
			if !ss.Enabled || !ss.AutoSync {
				return nil
			}
			engine, err := a.newEngine(cmd.Context())
			if err != nil {
				a.warn(err.Error())
				return nil
			}
			for _, id := range ids {
				out, err := engine.Sync(cmd.Context(), id, statussync.Options{})
				if err != nil {
					a.warn(fmt.Sprintf("status sync for %s: %v", id, err))
					continue
				}
				debug.LogEvent(a.root, "STATUS_SYNC", id, string(out.Action))
			}
			return nil
		},
	}
	cmd.AddCommand(postTask)
	return cmd
}

func readHookInput(r io.Reader) (hookInput, error) {
	var in hookInput
	data, err := io.ReadAll(r)
	if err != nil {
		return in, fmt.Errorf("read hook input: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("parse hook input: %w", err)
	}
	return in, nil
}

// hookTargets returns id, or every active increment when id is empty.
func (a *app) hookTargets(id string) ([]string, error) {
	if id != "" {
		return []string{id}, nil
	}
	incs, _, err := a.incs.LoadAll()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, inc := range incs {
		if inc.Status == types.IncrementActive {
			ids = append(ids, inc.ID)
		}
	}
	return ids, nil
}
