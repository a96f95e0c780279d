package statussync

import (
	"sort"
	"strings"

	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/types"
)

// State is the divergence class of one increment relative to its issue.
type State string

// Sync states
const (
	StateInSync        State = "in-sync"
	StateLocalAhead    State = "local-ahead"
	StateExternalAhead State = "external-ahead"
	StateConflict      State = "conflict"
)

// Projection is the part of an increment that is mirrored to the tracker,
// expressed in the tracker's vocabulary. Status is the increment status the
// local side and the snapshot carry; tracker projections leave it empty.
type Projection struct {
	State     string
	Status    types.IncrementStatus
	Labels    []string
	Assignees []string
}

// Equal compares states case-insensitively and labels and assignees as sets.
func (p Projection) Equal(o Projection) bool {
	return tracker.SameState(p.State, o.State) &&
		sameSet(p.Labels, o.Labels) &&
		sameSet(p.Assignees, o.Assignees)
}

// SnapshotProjection returns the shared projection recorded at the last
// sync, or nil when the increment was never synced.
func SnapshotProjection(s *types.SyncSnapshot) *Projection {
	if s == nil {
		return nil
	}
	return &Projection{State: s.ExternalState, Status: s.LocalStatus, Labels: s.Labels, Assignees: s.Assignees}
}

// localEqual compares the local side with the snapshot. When both carry an
// increment status the statuses are compared instead of mapped states, so
// a pulled tracker state that shares a local status with the main state
// (Jira "In Review", ADO "Resolved") is not mistaken for a local edit.
func (p Projection) localEqual(snapshot Projection) bool {
	if p.Status != "" && snapshot.Status != "" {
		if p.Status != snapshot.Status {
			return false
		}
	} else if !tracker.SameState(p.State, snapshot.State) {
		return false
	}
	return sameSet(p.Labels, snapshot.Labels) && sameSet(p.Assignees, snapshot.Assignees)
}

// Classify compares both sides against the last synced snapshot: the local
// side by increment status, labels and assignees, the tracker side by
// tracker state, labels and assignees. When both changed the result is a
// conflict even if they changed to the same value. Without a snapshot
// anything but an exact match is a conflict.
func Classify(local, external Projection, snapshot *Projection) State {
	if snapshot == nil {
		if local.Equal(external) {
			return StateInSync
		}
		return StateConflict
	}
	localChanged := !local.localEqual(*snapshot)
	externalChanged := !external.Equal(*snapshot)
	switch {
	case localChanged && externalChanged:
		return StateConflict
	case localChanged:
		return StateLocalAhead
	case externalChanged:
		return StateExternalAhead
	default:
		return StateInSync
	}
}

// Diff lists the fields on which local and external disagree.
func Diff(local, external Projection) []types.SyncConflict {
	var out []types.SyncConflict
	if !tracker.SameState(local.State, external.State) {
		out = append(out, types.SyncConflict{
			Type:          types.ConflictStatus,
			LocalValue:    local.State,
			ExternalValue: external.State,
		})
	}
	if !sameSet(local.Labels, external.Labels) {
		out = append(out, types.SyncConflict{
			Type:          types.ConflictLabel,
			LocalValue:    strings.Join(normalizeSet(local.Labels), ", "),
			ExternalValue: strings.Join(normalizeSet(external.Labels), ", "),
		})
	}
	if !sameSet(local.Assignees, external.Assignees) {
		out = append(out, types.SyncConflict{
			Type:          types.ConflictAssignee,
			LocalValue:    strings.Join(normalizeSet(local.Assignees), ", "),
			ExternalValue: strings.Join(normalizeSet(external.Assignees), ", "),
		})
	}
	return out
}

func sameSet(a, b []string) bool {
	na, nb := normalizeSet(a), normalizeSet(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// normalizeSet trims, drops empties, dedupes and sorts.
func normalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
