// Package types defines the core data structures shared by the specweave
// parsers, reconciler and sync engine.
package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task in tasks.md.
type TaskStatus string

// Task status constants
const (
	TaskPending     TaskStatus = "pending"
	TaskInProgress  TaskStatus = "in_progress"
	TaskCompleted   TaskStatus = "completed"
	TaskTransferred TaskStatus = "transferred"
	TaskCanceled    TaskStatus = "canceled"
)

// IsValid checks if the task status value is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskTransferred, TaskCanceled:
		return true
	}
	return false
}

// Marker returns the checkbox character used for the status in tasks.md.
func (s TaskStatus) Marker() byte {
	switch s {
	case TaskCompleted:
		return 'x'
	case TaskInProgress:
		return '~'
	case TaskTransferred:
		return '>'
	case TaskCanceled:
		return '-'
	default:
		return ' '
	}
}

// TaskStatusFromMarker maps a checkbox character to a status.
func TaskStatusFromMarker(m byte) (TaskStatus, bool) {
	switch m {
	case ' ':
		return TaskPending, true
	case 'x', 'X':
		return TaskCompleted, true
	case '~':
		return TaskInProgress, true
	case '>':
		return TaskTransferred, true
	case '-':
		return TaskCanceled, true
	}
	return "", false
}

// ParseTaskStatus parses a task status name, accepting common spellings.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "todo", "open":
		return TaskPending, nil
	case "in_progress", "in-progress", "inprogress", "doing":
		return TaskInProgress, nil
	case "completed", "complete", "done":
		return TaskCompleted, nil
	case "transferred", "moved":
		return TaskTransferred, nil
	case "canceled", "cancelled":
		return TaskCanceled, nil
	}
	return "", fmt.Errorf("invalid task status %q", s)
}

// Task is a unit of work declared in an increment's tasks.md.
// Tasks are never removed from the file; retired tasks are marked
// canceled or transferred instead.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	UserStory    string     `json:"userStory,omitempty"`
	SatisfiesACs []string   `json:"satisfiesACs,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`

	// Position of the task line (1-based) and of the checkbox marker byte
	// within it. Used to rewrite the marker without touching other bytes.
	LineNumber int `json:"-"`
	MarkerCol  int `json:"-"`
}

// AcceptanceCriterion is a checkbox line under a user story in spec.md.
type AcceptanceCriterion struct {
	ID          string `json:"id"`
	UserStory   string `json:"userStory"`
	Description string `json:"description"`
	Checked     bool   `json:"checked"`
	// Protected ACs carry a manual marker and are never flipped by the reconciler.
	Protected bool `json:"protected,omitempty"`

	LineNumber int `json:"-"`
	MarkerCol  int `json:"-"`
}

// IncrementStatus is the lifecycle state of an increment.
type IncrementStatus string

// Increment status constants
const (
	IncrementPlanning  IncrementStatus = "planning"
	IncrementActive    IncrementStatus = "active"
	IncrementPaused    IncrementStatus = "paused"
	IncrementCompleted IncrementStatus = "completed"
	IncrementAbandoned IncrementStatus = "abandoned"
)

// IsValid checks if the increment status value is valid
func (s IncrementStatus) IsValid() bool {
	switch s {
	case IncrementPlanning, IncrementActive, IncrementPaused, IncrementCompleted, IncrementAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether no further work is expected on the increment.
func (s IncrementStatus) IsTerminal() bool {
	return s == IncrementCompleted || s == IncrementAbandoned
}

// ParseIncrementStatus parses an increment status, normalizing in-progress
// spellings to active.
func ParseIncrementStatus(s string) (IncrementStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "planning", "planned", "backlog":
		return IncrementPlanning, nil
	case "active", "in-progress", "in_progress":
		return IncrementActive, nil
	case "paused", "on-hold":
		return IncrementPaused, nil
	case "completed", "complete", "done":
		return IncrementCompleted, nil
	case "abandoned", "cancelled", "canceled":
		return IncrementAbandoned, nil
	}
	return "", fmt.Errorf("invalid increment status %q", s)
}

// Increment is a numbered unit of planned work with its own spec, plan and tasks.
type Increment struct {
	ID       string          `json:"id"`
	Number   int             `json:"number"`
	Slug     string          `json:"slug"`
	Title    string          `json:"title,omitempty"`
	Status   IncrementStatus `json:"status"`
	Priority string          `json:"priority,omitempty"`
	Type     string          `json:"type,omitempty"`
	External *ExternalLink   `json:"external,omitempty"`
}

// ExternalLink binds an increment to one issue in an external tracker.
type ExternalLink struct {
	Platform       string        `json:"platform"`
	IssueID        string        `json:"issueId"`
	URL            string        `json:"url,omitempty"`
	LastSyncedAt   *time.Time    `json:"lastSyncedAt,omitempty"`
	LastKnownState string        `json:"lastKnownState,omitempty"`
	Snapshot       *SyncSnapshot `json:"snapshot,omitempty"`
}

// SyncSnapshot records both projections at the last successful sync.
type SyncSnapshot struct {
	LocalStatus   IncrementStatus `json:"localStatus"`
	ExternalState string          `json:"externalState"`
	Labels        []string        `json:"labels,omitempty"`
	Assignees     []string        `json:"assignees,omitempty"`
	SyncedAt      time.Time       `json:"syncedAt"`
}

// ExternalStatus is the tracker-side view of an issue's state.
type ExternalStatus struct {
	State     string    `json:"state"`
	Labels    []string  `json:"labels,omitempty"`
	Assignees []string  `json:"assignees,omitempty"`
	Milestone string    `json:"milestone,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConflictType names the field that diverged.
type ConflictType string

// Conflict types
const (
	ConflictStatus   ConflictType = "status"
	ConflictAssignee ConflictType = "assignee"
	ConflictLabel    ConflictType = "label"
)

// SyncConflict describes one field that changed on both sides since the last sync.
type SyncConflict struct {
	Type          ConflictType `json:"type"`
	LocalValue    string       `json:"localValue"`
	ExternalValue string       `json:"externalValue"`
	Resolution    Resolution   `json:"resolution,omitempty"`
}

// Resolution is a conflict resolution policy.
type Resolution string

// Resolution policies
const (
	ResolveLastWriteWins Resolution = "last-write-wins"
	ResolveLocalWins     Resolution = "local-wins"
	ResolveExternalWins  Resolution = "external-wins"
	ResolvePrompt        Resolution = "prompt"
)

// IsValid checks if the resolution is one of the canonical policies
func (r Resolution) IsValid() bool {
	switch r {
	case ResolveLastWriteWins, ResolveLocalWins, ResolveExternalWins, ResolvePrompt:
		return true
	}
	return false
}

// ParseResolution parses a policy name. Tracker-specific spellings such as
// "github-wins" or "specweave-wins" map onto the canonical policies.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "last-write-wins", "timestamp", "newest":
		return ResolveLastWriteWins, nil
	case "local-wins", "specweave-wins", "ours", "local":
		return ResolveLocalWins, nil
	case "external-wins", "github-wins", "jira-wins", "ado-wins", "tracker-wins", "theirs", "external":
		return ResolveExternalWins, nil
	case "prompt", "manual", "ask":
		return ResolvePrompt, nil
	}
	return "", fmt.Errorf("invalid conflict resolution %q (valid: last-write-wins, local-wins, external-wins, prompt)", s)
}
