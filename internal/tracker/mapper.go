package tracker

import (
	"strings"

	"github.com/specweave/specweave/internal/types"
)

// StatusMapping translates between increment statuses and tracker states.
// Mappings are data so that projects can override them from config.
type StatusMapping struct {
	ToExternal map[types.IncrementStatus]string
	// ToLocal is keyed by lower-cased tracker state.
	ToLocal map[string]types.IncrementStatus
}

var defaultMappings = map[string]struct {
	out map[types.IncrementStatus]string
	in  map[string]types.IncrementStatus
}{
	"github": {
		out: map[types.IncrementStatus]string{
			types.IncrementPlanning:  "open",
			types.IncrementActive:    "open",
			types.IncrementPaused:    "open",
			types.IncrementCompleted: "closed",
			types.IncrementAbandoned: "closed",
		},
		in: map[string]types.IncrementStatus{
			"open":   types.IncrementActive,
			"closed": types.IncrementCompleted,
		},
	},
	"jira": {
		out: map[types.IncrementStatus]string{
			types.IncrementPlanning:  "To Do",
			types.IncrementActive:    "In Progress",
			types.IncrementPaused:    "To Do",
			types.IncrementCompleted: "Done",
			types.IncrementAbandoned: "Done",
		},
		in: map[string]types.IncrementStatus{
			"to do":       types.IncrementPlanning,
			"backlog":     types.IncrementPlanning,
			"in progress": types.IncrementActive,
			"in review":   types.IncrementActive,
			"done":        types.IncrementCompleted,
		},
	},
	"ado": {
		out: map[types.IncrementStatus]string{
			types.IncrementPlanning:  "New",
			types.IncrementActive:    "Active",
			types.IncrementPaused:    "New",
			types.IncrementCompleted: "Closed",
			types.IncrementAbandoned: "Removed",
		},
		in: map[string]types.IncrementStatus{
			"new":      types.IncrementPlanning,
			"active":   types.IncrementActive,
			"resolved": types.IncrementCompleted,
			"closed":   types.IncrementCompleted,
			"removed":  types.IncrementAbandoned,
		},
	},
}

// DefaultStatusMapping returns the built-in mapping for a platform.
// Unknown platforms get the GitHub open/closed mapping.
func DefaultStatusMapping(platform string) StatusMapping {
	d, ok := defaultMappings[strings.ToLower(platform)]
	if !ok {
		d = defaultMappings["github"]
	}
	m := StatusMapping{
		ToExternal: make(map[types.IncrementStatus]string, len(d.out)),
		ToLocal:    make(map[string]types.IncrementStatus, len(d.in)),
	}
	for k, v := range d.out {
		m.ToExternal[k] = v
	}
	for k, v := range d.in {
		m.ToLocal[k] = v
	}
	return m
}

// WithOverrides returns a copy of m with config overrides applied.
// Override keys are increment statuses; values are tracker states. A
// tracker state with no reverse entry yet maps back to the overriding status.
func (m StatusMapping) WithOverrides(overrides map[string]string) StatusMapping {
	out := StatusMapping{
		ToExternal: make(map[types.IncrementStatus]string, len(m.ToExternal)),
		ToLocal:    make(map[string]types.IncrementStatus, len(m.ToLocal)),
	}
	for k, v := range m.ToExternal {
		out.ToExternal[k] = v
	}
	for k, v := range m.ToLocal {
		out.ToLocal[k] = v
	}
	for local, state := range overrides {
		st, err := types.ParseIncrementStatus(local)
		if err != nil {
			continue
		}
		out.ToExternal[st] = state
		key := strings.ToLower(state)
		if _, ok := out.ToLocal[key]; !ok {
			out.ToLocal[key] = st
		}
	}
	return out
}

// External maps an increment status to a tracker state.
func (m StatusMapping) External(status types.IncrementStatus) (string, bool) {
	s, ok := m.ToExternal[status]
	return s, ok
}

// Local maps a tracker state to an increment status. When the current
// local status already projects onto state it is kept, so an external
// "open" does not turn a paused increment into an active one.
func (m StatusMapping) Local(state string, current types.IncrementStatus) (types.IncrementStatus, bool) {
	if ext, ok := m.ToExternal[current]; ok && SameState(ext, state) {
		return current, true
	}
	st, ok := m.ToLocal[strings.ToLower(strings.TrimSpace(state))]
	return st, ok
}

// SameState compares tracker states case-insensitively.
func SameState(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
