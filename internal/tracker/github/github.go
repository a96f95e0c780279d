// Package github implements tracker.Client for GitHub Issues.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/types"
)

const (
	searchPageSize = 100
	duplicateLabel = "duplicate"
)

func init() {
	tracker.Register("github", func() tracker.Client {
		return &Tracker{}
	})
}

// Tracker talks to one GitHub repository.
type Tracker struct {
	client *gh.Client
	owner  string
	repo   string
}

// New creates a tracker around an existing go-github client.
func New(client *gh.Client, owner, repo string) *Tracker {
	return &Tracker{client: client, owner: owner, repo: repo}
}

// Name returns the tracker identifier.
func (t *Tracker) Name() string { return "github" }

// DisplayName returns the human-readable tracker name.
func (t *Tracker) DisplayName() string { return "GitHub" }

// Init reads sync.github.{token,owner,repo,apiUrl}. The token falls back to
// GITHUB_TOKEN; repo may be given as "owner/name".
func (t *Tracker) Init(ctx context.Context, cfg *tracker.Config) error {
	token, err := cfg.GetRequired("token")
	if err != nil {
		return err
	}
	repo, err := cfg.GetRequired("repo")
	if err != nil {
		return err
	}
	owner := cfg.Get("owner")
	if o, r, ok := strings.Cut(repo, "/"); ok {
		owner, repo = o, r
	}
	if owner == "" {
		return fmt.Errorf("sync.github.owner not configured (or set sync.github.repo to \"owner/name\")")
	}

	client := gh.NewClient(nil).WithAuthToken(token)
	if base := cfg.Get("api_url"); base != "" {
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return fmt.Errorf("github api url: %w", err)
		}
	}
	t.client, t.owner, t.repo = client, owner, repo
	return nil
}

// ForRepo returns a tracker for another repository sharing the same client.
func (t *Tracker) ForRepo(repo string) (tracker.Client, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return New(t.client, owner, name), nil
}

// SearchIssuesByTitlePattern runs an in:title search, open and closed.
func (t *Tracker) SearchIssuesByTitlePattern(ctx context.Context, pattern string) ([]tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`repo:%s/%s is:issue in:title "%s"`, t.owner, t.repo, strings.ReplaceAll(pattern, `"`, ""))
	opts := &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: searchPageSize}}

	var out []tracker.Issue
	for {
		res, resp, err := t.client.Search.Issues(ctx, q, opts)
		if err != nil {
			return nil, apiError("search issues", resp, err)
		}
		for _, iss := range res.Issues {
			if iss.IsPullRequest() {
				continue
			}
			out = append(out, toIssue(iss))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	debug.Logf("github: search %q returned %d issues\n", q, len(out))
	return out, nil
}

// CreateIssue opens a new issue.
func (t *Tracker) CreateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.Issue, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	ir := &gh.IssueRequest{Title: gh.String(req.Title)}
	if req.Body != "" {
		ir.Body = gh.String(req.Body)
	}
	if len(req.Labels) > 0 {
		labels := append([]string(nil), req.Labels...)
		ir.Labels = &labels
	}
	iss, resp, err := t.client.Issues.Create(ctx, t.owner, t.repo, ir)
	if err != nil {
		return nil, apiError("create issue", resp, err)
	}
	out := toIssue(iss)
	return &out, nil
}

// GetIssueStatus fetches state, labels, assignees and milestone.
func (t *Tracker) GetIssueStatus(ctx context.Context, id string) (*types.ExternalStatus, error) {
	iss, err := t.get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &types.ExternalStatus{
		State:     iss.GetState(),
		Labels:    labelNames(iss.Labels),
		UpdatedAt: iss.GetUpdatedAt().Time,
	}
	for _, u := range iss.Assignees {
		st.Assignees = append(st.Assignees, u.GetLogin())
	}
	if iss.Milestone != nil {
		st.Milestone = iss.Milestone.GetTitle()
	}
	return st, nil
}

// UpdateIssueStatus edits state, labels and assignees. GitHub states are
// "open" and "closed"; anything else is rejected before calling the API.
func (t *Tracker) UpdateIssueStatus(ctx context.Context, id string, upd tracker.StatusUpdate) error {
	num, err := t.number(id)
	if err != nil {
		return err
	}
	ir := &gh.IssueRequest{}
	if upd.State != "" {
		state := strings.ToLower(upd.State)
		if state != "open" && state != "closed" {
			return fmt.Errorf("github issues have no state %q", upd.State)
		}
		ir.State = gh.String(state)
		if state == "closed" {
			ir.StateReason = gh.String("completed")
		}
	}
	if upd.Labels != nil {
		labels := append([]string{}, upd.Labels...)
		ir.Labels = &labels
	}
	if upd.Assignees != nil {
		assignees := append([]string{}, upd.Assignees...)
		ir.Assignees = &assignees
	}
	if _, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, num, ir); err != nil {
		return apiError("update issue #"+id, resp, err)
	}
	return nil
}

// PostComment adds a comment to an issue.
func (t *Tracker) PostComment(ctx context.Context, id, body string) error {
	num, err := t.number(id)
	if err != nil {
		return err
	}
	if _, resp, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, num, &gh.IssueComment{Body: gh.String(body)}); err != nil {
		return apiError("comment on #"+id, resp, err)
	}
	return nil
}

// CloseAsDuplicate comments, labels and closes id as not planned. An issue
// that is already closed is left alone.
func (t *Tracker) CloseAsDuplicate(ctx context.Context, id, canonicalID string) error {
	iss, err := t.get(ctx, id)
	if err != nil {
		return err
	}
	if iss.GetState() == "closed" {
		return nil
	}
	num := iss.GetNumber()
	if err := t.PostComment(ctx, id, "Duplicate of #"+canonicalID); err != nil {
		return err
	}
	labels := append(labelNames(iss.Labels), duplicateLabel)
	ir := &gh.IssueRequest{
		State:       gh.String("closed"),
		StateReason: gh.String("not_planned"),
		Labels:      &labels,
	}
	if _, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, num, ir); err != nil {
		return apiError("close duplicate #"+id, resp, err)
	}
	return nil
}

func (t *Tracker) get(ctx context.Context, id string) (*gh.Issue, error) {
	num, err := t.number(id)
	if err != nil {
		return nil, err
	}
	iss, resp, err := t.client.Issues.Get(ctx, t.owner, t.repo, num)
	if err != nil {
		return nil, apiError("get issue #"+id, resp, err)
	}
	return iss, nil
}

func (t *Tracker) number(id string) (int, error) {
	if err := t.ready(); err != nil {
		return 0, err
	}
	num, err := strconv.Atoi(strings.TrimPrefix(id, "#"))
	if err != nil || num <= 0 {
		return 0, fmt.Errorf("invalid GitHub issue number %q", id)
	}
	return num, nil
}

func (t *Tracker) ready() error {
	if t.client == nil {
		return &tracker.ErrNotInitialized{Tracker: "github"}
	}
	return nil
}

func toIssue(iss *gh.Issue) tracker.Issue {
	return tracker.Issue{
		ID:        strconv.Itoa(iss.GetNumber()),
		Number:    iss.GetNumber(),
		Title:     iss.GetTitle(),
		State:     iss.GetState(),
		CreatedAt: iss.GetCreatedAt().Time,
		URL:       iss.GetHTMLURL(),
		Labels:    labelNames(iss.Labels),
		Closed:    iss.GetState() == "closed",
	}
}

func labelNames(labels []*gh.Label) []string {
	var out []string
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

// apiError converts a go-github error. 404s wrap tracker.ErrNotFound.
func apiError(op string, resp *gh.Response, err error) error {
	e := &tracker.APIError{Tracker: "github", Op: op, Err: err}
	if resp != nil && resp.Response != nil {
		e.StatusCode = resp.StatusCode
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		e.Body = ghErr.Message
		e.Err = nil
	}
	if e.StatusCode == http.StatusNotFound {
		e.Err = tracker.ErrNotFound
	}
	return e
}
