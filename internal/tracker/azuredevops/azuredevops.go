package azuredevops

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/types"
)

const duplicateTag = "duplicate"

func init() {
	tracker.Register("ado", func() tracker.Client {
		return &Tracker{}
	})
}

// Tracker talks to one Azure DevOps project.
type Tracker struct {
	client         *Client
	workItemType   string
	duplicateState string
	md             goldmark.Markdown
}

// New creates a tracker around an existing client.
func New(client *Client) *Tracker {
	return &Tracker{
		client:         client,
		workItemType:   "Task",
		duplicateState: "Removed",
		md:             goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return "ado" }

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string { return "Azure DevOps" }

// Init reads sync.ado.{organization, project, pat, workItemType,
// duplicateState}. The PAT falls back to AZURE_DEVOPS_PAT when the config
// carries EnvPrefix "AZURE_DEVOPS".
func (t *Tracker) Init(ctx context.Context, cfg *tracker.Config) error {
	org, err := cfg.GetRequired("organization")
	if err != nil {
		return err
	}
	project, err := cfg.GetRequired("project")
	if err != nil {
		return err
	}
	pat, err := cfg.GetRequired("pat")
	if err != nil {
		return err
	}
	*t = *New(NewClient(org, project, pat))
	if wit := cfg.Get("work_item_type"); wit != "" {
		t.workItemType = wit
	}
	if ds := cfg.Get("duplicate_state"); ds != "" {
		t.duplicateState = ds
	}
	return nil
}

// ForRepo returns a tracker for another project in the same organization.
func (t *Tracker) ForRepo(project string) (tracker.Client, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if project == "" {
		return nil, fmt.Errorf("empty Azure DevOps project")
	}
	c := *t.client
	c.Project = project
	other := *t
	other.client = &c
	return &other, nil
}

// SearchIssuesByTitlePattern runs a WIQL CONTAINS query on the title.
func (t *Tracker) SearchIssuesByTitlePattern(ctx context.Context, pattern string) ([]tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	items, err := t.client.QueryByTitle(ctx, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.Issue, 0, len(items))
	for i := range items {
		out = append(out, t.toIssue(&items[i]))
	}
	debug.Logf("ado: title search %q returned %d work items\n", pattern, len(out))
	return out, nil
}

// CreateIssue creates a work item of the configured type. The body is
// rendered to HTML for System.Description.
func (t *Tracker) CreateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	ops := []PatchOperation{{Op: "add", Path: "/fields/System.Title", Value: req.Title}}
	if req.Body != "" {
		html, err := t.render(req.Body)
		if err != nil {
			return nil, err
		}
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/System.Description", Value: html})
	}
	if len(req.Labels) > 0 {
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/System.Tags", Value: joinTags(req.Labels)})
	}
	wi, err := t.client.CreateWorkItem(ctx, t.workItemType, ops)
	if err != nil {
		return nil, err
	}
	iss := t.toIssue(wi)
	return &iss, nil
}

// GetIssueStatus returns System.State, tags and the assignee's unique name.
func (t *Tracker) GetIssueStatus(ctx context.Context, id string) (*types.ExternalStatus, error) {
	n, err := t.parseID(id)
	if err != nil {
		return nil, err
	}
	wi, err := t.client.FetchWorkItem(ctx, n)
	if err != nil {
		return nil, err
	}
	st := &types.ExternalStatus{
		State:  wi.Fields.State,
		Labels: splitTags(wi.Fields.Tags),
	}
	if a := wi.Fields.AssignedTo; a != nil && a.UniqueName != "" {
		st.Assignees = []string{a.UniqueName}
	}
	if st.UpdatedAt, err = parseTimestamp(wi.Fields.ChangedDate); err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateIssueStatus replaces System.State, System.Tags and
// System.AssignedTo in one JSON patch. Work items hold one assignee.
func (t *Tracker) UpdateIssueStatus(ctx context.Context, id string, upd tracker.StatusUpdate) error {
	n, err := t.parseID(id)
	if err != nil {
		return err
	}
	var ops []PatchOperation
	if upd.State != "" {
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/System.State", Value: upd.State})
	}
	if upd.Labels != nil {
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/System.Tags", Value: joinTags(upd.Labels)})
	}
	if upd.Assignees != nil {
		assignee := ""
		if len(upd.Assignees) > 0 {
			assignee = upd.Assignees[0]
		}
		ops = append(ops, PatchOperation{Op: "add", Path: "/fields/System.AssignedTo", Value: assignee})
	}
	if len(ops) == 0 {
		return nil
	}
	_, err = t.client.UpdateWorkItem(ctx, n, ops)
	return err
}

// PostComment renders body as HTML and adds it to the discussion.
func (t *Tracker) PostComment(ctx context.Context, id, body string) error {
	n, err := t.parseID(id)
	if err != nil {
		return err
	}
	html, err := t.render(body)
	if err != nil {
		return err
	}
	return t.client.AddComment(ctx, n, html)
}

// CloseAsDuplicate comments, tags and moves id to the duplicate state.
// Work items already closed or removed are left alone.
func (t *Tracker) CloseAsDuplicate(ctx context.Context, id, canonicalID string) error {
	n, err := t.parseID(id)
	if err != nil {
		return err
	}
	wi, err := t.client.FetchWorkItem(ctx, n)
	if err != nil {
		return err
	}
	if isClosed(wi.Fields.State) {
		return nil
	}
	if err := t.PostComment(ctx, id, "Duplicate of #"+canonicalID); err != nil {
		return err
	}
	tags := append(splitTags(wi.Fields.Tags), duplicateTag)
	_, err = t.client.UpdateWorkItem(ctx, n, []PatchOperation{
		{Op: "add", Path: "/fields/System.State", Value: t.duplicateState},
		{Op: "add", Path: "/fields/System.Tags", Value: joinTags(tags)},
	})
	return err
}

func (t *Tracker) render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := t.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render comment: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (t *Tracker) toIssue(wi *WorkItem) tracker.Issue {
	created, _ := parseTimestamp(wi.Fields.CreatedDate)
	return tracker.Issue{
		ID:        strconv.Itoa(wi.ID),
		Number:    wi.ID,
		Title:     wi.Fields.Title,
		State:     wi.Fields.State,
		CreatedAt: created,
		URL:       t.client.BuildWorkItemURL(wi.ID),
		Labels:    splitTags(wi.Fields.Tags),
		Closed:    isClosed(wi.Fields.State),
	}
}

func (t *Tracker) parseID(id string) (int, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid Azure DevOps work item id %q", id)
	}
	return n, nil
}

func (t *Tracker) ready() error {
	if t.client == nil {
		return &tracker.ErrNotInitialized{Tracker: "ado"}
	}
	return nil
}

func isClosed(state string) bool {
	switch strings.ToLower(state) {
	case "closed", "removed", "done":
		return true
	}
	return false
}

// splitTags parses the "; "-separated System.Tags value.
func splitTags(s string) []string {
	var out []string
	for _, tag := range strings.Split(s, ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func joinTags(tags []string) string {
	return strings.Join(tags, "; ")
}
