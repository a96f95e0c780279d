package spec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/specweave/specweave/internal/types"
)

var (
	taskLinePattern   = regexp.MustCompile(`^(\s*)[-*]\s+\[([\x20-\x7e])\]\s+\*\*(T-\d+):?\*\*:?\s*(.*)$`)
	annotationPattern = regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*([A-Za-z][A-Za-z ]*?):?\*\*:?\s*(.*)$`)
)

// TaskDocument is a parsed tasks.md. It keeps every original line so that
// Serialize reproduces the input byte for byte apart from status edits.
type TaskDocument struct {
	Tasks    []*types.Task
	Warnings []ParseWarning

	buf  lineBuffer
	byID map[string]*types.Task
}

// ParseTasks scans tasks.md content. Task lines look like
//
//	- [x] **T-001**: Implement login form
//	  - **User Story**: US-001
//	  - **Satisfies ACs**: AC-US1-01, AC-US1-02
//	  - **Depends on**: T-000
//
// A "## US-001" heading sets the default user story for the tasks below it.
func ParseTasks(content string) *TaskDocument {
	doc := &TaskDocument{
		buf:  newLineBuffer(content),
		byID: make(map[string]*types.Task),
	}

	var (
		current      *types.Task
		currentStory string
		inFence      bool
	)

	for i := range doc.buf.lines {
		line := doc.buf.text(i)
		lineNo := i + 1

		if fencePattern.MatchString(line) {
			inFence = !inFence
			current = nil
			continue
		}
		if inFence {
			continue
		}

		if level, text, ok := heading(line); ok {
			current = nil
			if m := storyHeading.FindStringSubmatch(text); m != nil {
				currentStory = types.NormalizeUserStoryID(m[1])
			} else if level <= 2 {
				currentStory = ""
			}
			continue
		}

		if idx := taskLinePattern.FindStringSubmatchIndex(line); idx != nil {
			current = doc.addTask(line, idx, lineNo, currentStory)
			continue
		}

		if current == nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'
		if m := annotationPattern.FindStringSubmatch(line); m != nil && (indented || strings.HasPrefix(line, "**")) {
			doc.applyAnnotation(current, m[1], m[2], lineNo)
			continue
		}
		if !indented {
			current = nil
		}
	}

	return doc
}

func (d *TaskDocument) addTask(line string, idx []int, lineNo int, story string) *types.Task {
	marker := line[idx[4]]
	id := line[idx[6]:idx[7]]
	title := strings.TrimSpace(line[idx[8]:idx[9]])

	status, ok := types.TaskStatusFromMarker(marker)
	if !ok {
		d.warn(lineNo, "task %s has unknown checkbox marker %q, treating as pending", id, string(marker))
		status = types.TaskPending
	}

	task := &types.Task{
		ID:         id,
		Title:      title,
		Status:     status,
		UserStory:  story,
		LineNumber: lineNo,
		MarkerCol:  idx[4],
	}
	if _, dup := d.byID[id]; dup {
		d.warn(lineNo, "duplicate task id %s, keeping the first occurrence", id)
		return task
	}
	d.byID[id] = task
	d.Tasks = append(d.Tasks, task)
	return task
}

func (d *TaskDocument) applyAnnotation(task *types.Task, label, value string, lineNo int) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "user story", "story", "us":
		if _, ok := types.UserStoryNumber(value); !ok {
			d.warn(lineNo, "task %s has malformed user story reference %q", task.ID, value)
			return
		}
		task.UserStory = types.NormalizeUserStoryID(value)
	case "satisfies acs", "satisfies ac", "satisfies", "acs", "ac":
		for _, tok := range splitIDList(value) {
			if !types.IsValidACID(tok) {
				d.warn(lineNo, "task %s references malformed AC id %q", task.ID, tok)
				continue
			}
			task.SatisfiesACs = append(task.SatisfiesACs, types.NormalizeACID(tok))
		}
	case "priority":
		task.Priority = value
	case "depends on", "dependencies", "dependency":
		for _, tok := range splitIDList(value) {
			if strings.EqualFold(tok, "none") {
				continue
			}
			if !types.IsValidTaskID(tok) {
				d.warn(lineNo, "task %s has malformed dependency %q", task.ID, tok)
				continue
			}
			task.Dependencies = append(task.Dependencies, tok)
		}
	case "status":
		if st, err := types.ParseTaskStatus(strings.Trim(value, "[]x ")); err == nil && st != task.Status {
			d.warn(lineNo, "task %s status annotation %q disagrees with checkbox; checkbox wins", task.ID, value)
		}
	}
}

func (d *TaskDocument) warn(line int, format string, args ...any) {
	d.Warnings = append(d.Warnings, ParseWarning{Line: line, Message: fmt.Sprintf(format, args...)})
}

// Task returns the task with the given id.
func (d *TaskDocument) Task(id string) (*types.Task, bool) {
	t, ok := d.byID[id]
	return t, ok
}

// ByID returns the tasks keyed by id.
func (d *TaskDocument) ByID() map[string]*types.Task {
	out := make(map[string]*types.Task, len(d.byID))
	for k, v := range d.byID {
		out[k] = v
	}
	return out
}

// StoryGroup is the ordered set of tasks belonging to one user story.
type StoryGroup struct {
	UserStory string
	Tasks     []*types.Task
}

// ByUserStory groups tasks by user story in first-appearance order.
// Tasks without a story are grouped under the empty string.
func (d *TaskDocument) ByUserStory() []StoryGroup {
	var groups []StoryGroup
	index := make(map[string]int)
	for _, t := range d.Tasks {
		i, ok := index[t.UserStory]
		if !ok {
			i = len(groups)
			index[t.UserStory] = i
			groups = append(groups, StoryGroup{UserStory: t.UserStory})
		}
		groups[i].Tasks = append(groups[i].Tasks, t)
	}
	return groups
}

// SetStatus rewrites the checkbox of a task. Returns false when the task is
// unknown or already has that status.
func (d *TaskDocument) SetStatus(id string, status types.TaskStatus) bool {
	t, ok := d.byID[id]
	if !ok || t.Status == status {
		return false
	}
	d.buf.setMarker(t.LineNumber-1, t.MarkerCol, status.Marker())
	t.Status = status
	return true
}

// Serialize renders the document. Untouched documents serialize to exactly
// the content they were parsed from.
func (d *TaskDocument) Serialize() string {
	return d.buf.String()
}
