// Package jira implements tracker.Client for Jira Cloud and Server.
package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/types"
)

const duplicateLabel = "duplicate"

func init() {
	tracker.Register("jira", func() tracker.Client {
		return &Tracker{}
	})
}

// Tracker talks to one Jira project.
type Tracker struct {
	client         *Client
	project        string
	issueType      string
	duplicateState string
	cache          tracker.Cache
}

// New creates a tracker around an existing client.
func New(client *Client, project string) *Tracker {
	return &Tracker{client: client, project: project, issueType: "Task", duplicateState: "Done"}
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return "jira" }

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string { return "Jira" }

// Init reads sync.jira.{url|domain, project, email, apiToken, issueType,
// duplicateState}. Secrets fall back to JIRA_API_TOKEN and JIRA_EMAIL.
func (t *Tracker) Init(ctx context.Context, cfg *tracker.Config) error {
	baseURL := cfg.Get("url")
	if baseURL == "" {
		if domain := cfg.Get("domain"); domain != "" {
			baseURL = "https://" + strings.TrimPrefix(domain, "https://")
		}
	}
	if baseURL == "" {
		return fmt.Errorf("sync.jira.url not configured\nSet sync.jira.url or sync.jira.domain in .specweave/config.json\nOr: export JIRA_URL=VALUE")
	}
	project, err := cfg.GetRequired("project")
	if err != nil {
		return err
	}
	token, err := cfg.GetRequired("api_token")
	if err != nil {
		return err
	}

	c := t.cache
	*t = *New(NewClient(baseURL, cfg.Get("email"), token), project)
	t.cache = c
	if it := cfg.Get("issue_type"); it != "" {
		t.issueType = it
	}
	if ds := cfg.Get("duplicate_state"); ds != "" {
		t.duplicateState = ds
	}
	return nil
}

// ForRepo returns a tracker for another project key on the same instance.
func (t *Tracker) ForRepo(project string) (tracker.Client, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if project == "" {
		return nil, fmt.Errorf("empty Jira project key")
	}
	other := *t
	other.project = project
	return &other, nil
}

// SearchIssuesByTitlePattern runs a phrase search on summary.
func (t *Tracker) SearchIssuesByTitlePattern(ctx context.Context, pattern string) ([]tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	jql := fmt.Sprintf(`project = "%s" AND summary ~ "\"%s\"" ORDER BY created ASC`, jqlEscape(t.project), jqlEscape(pattern))
	issues, err := t.client.SearchIssues(ctx, jql)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.Issue, 0, len(issues))
	for i := range issues {
		out = append(out, t.toIssue(&issues[i]))
	}
	debug.Logf("jira: %s returned %d issues\n", jql, len(out))
	return out, nil
}

// CreateIssue creates an issue of the configured type.
func (t *Tracker) CreateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	fields := map[string]any{
		"project":   map[string]string{"key": t.project},
		"summary":   req.Title,
		"issuetype": map[string]string{"name": t.issueType},
	}
	if req.Body != "" {
		fields["description"] = PlainTextToADF(req.Body)
	}
	if len(req.Labels) > 0 {
		fields["labels"] = sanitizeLabels(req.Labels)
	}
	ji, err := t.client.CreateIssue(ctx, fields)
	if err != nil {
		return nil, err
	}
	iss := t.toIssue(ji)
	return &iss, nil
}

// GetIssueStatus returns the workflow status name, labels and assignee
// account id.
func (t *Tracker) GetIssueStatus(ctx context.Context, id string) (*types.ExternalStatus, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	ji, err := t.client.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &types.ExternalStatus{Labels: ji.Fields.Labels}
	if ji.Fields.Status != nil {
		st.State = ji.Fields.Status.Name
	}
	if ji.Fields.Assignee != nil && ji.Fields.Assignee.AccountID != "" {
		st.Assignees = []string{ji.Fields.Assignee.AccountID}
	}
	if st.UpdatedAt, err = ParseTimestamp(ji.Fields.Updated); err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateIssueStatus transitions to State and sets labels and assignee.
// Jira holds one assignee; the first entry wins and an empty list unassigns.
func (t *Tracker) UpdateIssueStatus(ctx context.Context, id string, upd tracker.StatusUpdate) error {
	if err := t.ready(); err != nil {
		return err
	}
	if upd.State != "" {
		if err := t.transitionTo(ctx, id, upd.State); err != nil {
			return err
		}
	}
	fields := map[string]any{}
	if upd.Labels != nil {
		fields["labels"] = sanitizeLabels(upd.Labels)
	}
	if upd.Assignees != nil {
		if len(upd.Assignees) == 0 {
			fields["assignee"] = nil
		} else {
			fields["assignee"] = map[string]string{"accountId": upd.Assignees[0]}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return t.client.UpdateIssue(ctx, id, fields)
}

// PostComment adds a comment.
func (t *Tracker) PostComment(ctx context.Context, id, body string) error {
	if err := t.ready(); err != nil {
		return err
	}
	return t.client.AddComment(ctx, id, body)
}

// CloseAsDuplicate comments, labels and transitions id to the duplicate
// state. Issues already in the done category are left alone.
func (t *Tracker) CloseAsDuplicate(ctx context.Context, id, canonicalID string) error {
	if err := t.ready(); err != nil {
		return err
	}
	ji, err := t.client.GetIssue(ctx, id)
	if err != nil {
		return err
	}
	if isDone(ji) {
		return nil
	}
	if err := t.client.AddComment(ctx, id, "Duplicate of "+canonicalID); err != nil {
		return err
	}
	labels := append(append([]string(nil), ji.Fields.Labels...), duplicateLabel)
	if err := t.client.UpdateIssue(ctx, id, map[string]any{"labels": labels}); err != nil {
		return err
	}
	return t.transitionTo(ctx, id, t.duplicateState)
}

// SetCache lets transition ids survive between runs.
func (t *Tracker) SetCache(c tracker.Cache) { t.cache = c }

func (t *Tracker) transitionsKey() string {
	return fmt.Sprintf("jira-transitions-%s-%s", t.project, t.issueType)
}

// transitionTo finds a transition whose target status (or name) matches
// state. Being in that status already is not an error. A transition id
// remembered from an earlier run is tried first; when the workflow rejects
// it the transitions are listed again.
func (t *Tracker) transitionTo(ctx context.Context, key, state string) error {
	known := map[string]string{}
	if t.cache != nil {
		if _, err := t.cache.GetFreshInto(t.transitionsKey(), &known); err != nil {
			debug.Logf("jira: %v\n", err)
			known = map[string]string{}
		}
		if id, ok := known[strings.ToLower(state)]; ok {
			err := t.client.DoTransition(ctx, key, id)
			if err == nil {
				return nil
			}
			debug.Logf("jira: cached transition %s to %q failed on %s: %v\n", id, state, key, err)
			delete(known, strings.ToLower(state))
		}
	}

	transitions, err := t.client.Transitions(ctx, key)
	if err != nil {
		return err
	}
	var names []string
	for _, tr := range transitions {
		if (tr.To != nil && tracker.SameState(tr.To.Name, state)) || tracker.SameState(tr.Name, state) {
			if err := t.client.DoTransition(ctx, key, tr.ID); err != nil {
				return err
			}
			t.rememberTransition(known, state, tr.ID)
			return nil
		}
		if tr.To != nil {
			names = append(names, tr.To.Name)
		}
	}
	ji, err := t.client.GetIssue(ctx, key)
	if err == nil && ji.Fields.Status != nil && tracker.SameState(ji.Fields.Status.Name, state) {
		return nil
	}
	return fmt.Errorf("jira issue %s has no transition to %q (available: %s)", key, state, strings.Join(names, ", "))
}

func (t *Tracker) rememberTransition(known map[string]string, state, id string) {
	if t.cache == nil {
		return
	}
	known[strings.ToLower(state)] = id
	if err := t.cache.Set(t.transitionsKey(), known, 0); err != nil {
		debug.Logf("jira: cache transitions: %v\n", err)
	}
}

func (t *Tracker) toIssue(ji *Issue) tracker.Issue {
	created, _ := ParseTimestamp(ji.Fields.Created)
	iss := tracker.Issue{
		ID:        ji.Key,
		Number:    tracker.NumberFromKey(ji.Key),
		Title:     ji.Fields.Summary,
		CreatedAt: created,
		URL:       t.client.BrowseURL(ji.Key),
		Labels:    ji.Fields.Labels,
		Closed:    isDone(ji),
	}
	if ji.Fields.Status != nil {
		iss.State = ji.Fields.Status.Name
	}
	return iss
}

func (t *Tracker) ready() error {
	if t.client == nil {
		return &tracker.ErrNotInitialized{Tracker: "jira"}
	}
	return nil
}

func isDone(ji *Issue) bool {
	s := ji.Fields.Status
	return s != nil && s.StatusCategory != nil && s.StatusCategory.Key == "done"
}

// sanitizeLabels replaces spaces, which Jira labels cannot contain.
func sanitizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, strings.ReplaceAll(strings.TrimSpace(l), " ", "-"))
	}
	return out
}

func jqlEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
