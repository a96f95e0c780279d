// Package acsync derives acceptance-criteria completion from task status and
// writes the result back into spec.md checkboxes.
package acsync

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/increment"
	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/telemetry"
	"github.com/specweave/specweave/internal/types"
)

// ACStatus is the derived completion of one acceptance criterion.
type ACStatus struct {
	Total      int      `json:"total"`
	Completed  int      `json:"completed"`
	Percentage float64  `json:"percentage"`
	IsComplete bool     `json:"isComplete"`
	Tasks      []string `json:"tasks,omitempty"`
}

// ComputeACStatus aggregates tasks into per-AC completion. Every task
// counts toward each AC it satisfies; only completed tasks count as done,
// so canceled or transferred tasks keep an AC open.
func ComputeACStatus(tasks map[string]*types.Task) map[string]ACStatus {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]ACStatus)
	for _, id := range ids {
		t := tasks[id]
		for _, ac := range t.SatisfiesACs {
			st := out[ac]
			st.Total++
			if t.Status == types.TaskCompleted {
				st.Completed++
			}
			st.Tasks = append(st.Tasks, t.ID)
			out[ac] = st
		}
	}
	for ac, st := range out {
		if st.Total > 0 {
			st.Percentage = float64(st.Completed) * 100 / float64(st.Total)
		}
		st.IsComplete = st.Total > 0 && st.Completed == st.Total
		out[ac] = st
	}
	return out
}

// Result describes one syncACStatus run.
type Result struct {
	IncrementID string              `json:"incrementId"`
	Updated     []string            `json:"updated"`
	Conflicts   []string            `json:"conflicts"`
	Warnings    []Warning           `json:"warnings"`
	Status      map[string]ACStatus `json:"status"`
	Changed     bool                `json:"changed"`
}

// Reconciler keeps spec.md AC checkboxes consistent with tasks.md.
type Reconciler struct {
	Increments *increment.Store
	Metadata   *metadata.Store

	// OnWarning receives each validation warning as it is found.
	OnWarning func(string)
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(incs *increment.Store) *Reconciler {
	return &Reconciler{Increments: incs, Metadata: incs.Metadata}
}

// SyncACStatus recomputes AC completion for an increment and rewrites
// spec.md in a single atomic write when any checkbox disagrees.
func (r *Reconciler) SyncACStatus(ctx context.Context, incrementID string) (*Result, error) {
	ctx, span := telemetry.Tracer("specweave/acsync").Start(ctx, "acsync.SyncACStatus")
	defer span.End()
	span.SetAttributes(attribute.String("specweave.increment", incrementID))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	taskDoc, err := r.Increments.ReadTasks(incrementID)
	if err != nil {
		return nil, err
	}
	specDoc, err := r.Increments.ReadSpec(incrementID)
	if err != nil {
		return nil, err
	}
	md, err := r.Metadata.Load(incrementID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		IncrementID: incrementID,
		Updated:     []string{},
		Conflicts:   []string{},
		Status:      ComputeACStatus(taskDoc.ByID()),
	}
	res.Warnings = ValidateACMapping(specDoc, taskDoc)
	for _, w := range res.Warnings {
		r.warn(w.String())
	}

	for _, ac := range specDoc.ACs {
		st, ok := res.Status[ac.ID]
		if !ok || st.Total == 0 {
			continue
		}
		if st.IsComplete == ac.Checked {
			continue
		}
		if ac.Protected || md.PreserveFormat {
			res.Conflicts = append(res.Conflicts, ac.ID)
			continue
		}
		if ac.Checked {
			// A checked AC whose tasks are not all done was ticked by hand.
			res.Conflicts = append(res.Conflicts, ac.ID)
		}
		specDoc.SetChecked(ac.ID, st.IsComplete)
		res.Updated = append(res.Updated, ac.ID)
	}

	if len(res.Updated) > 0 {
		if err := r.Increments.WriteSpec(incrementID, specDoc); err != nil {
			return nil, err
		}
		res.Changed = true
		debug.Logf("acsync: %s updated %v\n", incrementID, res.Updated)
	}

	if len(res.Updated) > 0 || (len(res.Conflicts) > 0 && !sameConflicts(md, res.Conflicts)) {
		ev := r.Metadata.NewEvent(metadata.KindACSync)
		ev.Updated = res.Updated
		ev.Conflicts = res.Conflicts
		for _, w := range res.Warnings {
			ev.Warnings = append(ev.Warnings, w.String())
		}
		if err := r.Metadata.AppendAudit(incrementID, ev); err != nil {
			// spec.md is already consistent; losing the audit entry is not fatal
			r.warn(fmt.Sprintf("audit trail for %s not updated: %v", incrementID, err))
		}
	}

	span.SetAttributes(
		attribute.Int("specweave.ac.updated", len(res.Updated)),
		attribute.Int("specweave.ac.conflicts", len(res.Conflicts)),
	)
	return res, nil
}

// sameConflicts reports whether the latest ac-sync audit event already
// records exactly these conflicts.
func sameConflicts(md *metadata.Metadata, conflicts []string) bool {
	for i := len(md.AuditTrail) - 1; i >= 0; i-- {
		ev := md.AuditTrail[i]
		if ev.Kind != metadata.KindACSync {
			continue
		}
		prev := slices.Clone(ev.Conflicts)
		cur := slices.Clone(conflicts)
		slices.Sort(prev)
		slices.Sort(cur)
		return slices.Equal(prev, cur)
	}
	return false
}

// SyncAll runs SyncACStatus for every increment that has a tasks.md.
// Per-increment failures are collected, not fatal.
func (r *Reconciler) SyncAll(ctx context.Context) ([]*Result, map[string]error, error) {
	ids, err := r.Increments.List()
	if err != nil {
		return nil, nil, err
	}
	var (
		results []*Result
		errs    = make(map[string]error)
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, errs, err
		}
		if _, err := os.Stat(r.Increments.TasksPath(id)); err != nil {
			continue
		}
		res, err := r.SyncACStatus(ctx, id)
		if err != nil {
			errs[id] = err
			continue
		}
		results = append(results, res)
	}
	return results, errs, nil
}

func (r *Reconciler) warn(msg string) {
	if r.OnWarning != nil {
		r.OnWarning(msg)
	}
}
