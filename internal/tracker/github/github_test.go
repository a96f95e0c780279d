package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	gh "github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/tracker/testutil"
)

func newTestTracker(t *testing.T) (*Tracker, *testutil.MockTrackerServer) {
	t.Helper()
	srv := testutil.NewMockTrackerServer()
	t.Cleanup(srv.Close)

	client := gh.NewClient(nil)
	base, err := url.Parse(srv.URL() + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return New(client, "acme", "web"), srv
}

func issueJSON(number int, title, state string, labels ...string) map[string]any {
	ls := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		ls = append(ls, map[string]string{"name": l})
	}
	return map[string]any{
		"number":     number,
		"title":      title,
		"state":      state,
		"html_url":   fmt.Sprintf("https://github.com/acme/web/issues/%d", number),
		"created_at": fmt.Sprintf("2026-01-%02dT10:00:00Z", number),
		"updated_at": "2026-02-01T10:00:00Z",
		"labels":     ls,
	}
}

func TestRegistered(t *testing.T) {
	c, err := tracker.New("github")
	require.NoError(t, err)
	assert.Equal(t, "GitHub", c.DisplayName())
}

func TestInit(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GITHUB_OWNER", "")

	tr := &Tracker{}
	err := tr.Init(context.Background(), tracker.NewConfig("github", map[string]string{"repo": "acme/web"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")

	t.Setenv("GITHUB_TOKEN", "ghp_test")
	require.NoError(t, tr.Init(context.Background(), tracker.NewConfig("github", map[string]string{"repo": "acme/web"})))
	assert.Equal(t, "acme", tr.owner)
	assert.Equal(t, "web", tr.repo)

	err = (&Tracker{}).Init(context.Background(), tracker.NewConfig("github", map[string]string{"repo": "web"}))
	assert.ErrorContains(t, err, "owner")
}

func TestNotInitialized(t *testing.T) {
	_, err := (&Tracker{}).SearchIssuesByTitlePattern(context.Background(), "[FS-001]")
	var notInit *tracker.ErrNotInitialized
	assert.ErrorAs(t, err, &notInit)
}

func TestSearchIssuesByTitlePattern(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/search/issues", http.StatusOK, map[string]any{
		"total_count": 2,
		"items": []any{
			issueJSON(1, "[FS-043] Payments", "open", "specweave"),
			issueJSON(2, "[FS-043] Payments", "closed"),
			func() map[string]any {
				pr := issueJSON(3, "[FS-043] PR", "open")
				pr["pull_request"] = map[string]string{"url": "https://api.github.com/pulls/3"}
				return pr
			}(),
		},
	})

	issues, err := tr.SearchIssuesByTitlePattern(context.Background(), "[FS-043]")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "1", issues[0].ID)
	assert.Equal(t, []string{"specweave"}, issues[0].Labels)
	assert.False(t, issues[0].Closed)
	assert.True(t, issues[1].Closed)
	assert.Equal(t, 2, issues[1].CreatedAt.Day())

	reqs := srv.RequestsTo(http.MethodGet, "/search/issues")
	require.Len(t, reqs, 1)
	q, err := url.ParseQuery(reqs[0].Query)
	require.NoError(t, err)
	assert.Equal(t, `repo:acme/web is:issue in:title "[FS-043]"`, q.Get("q"))
}

func TestCreateIssue(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodPost, "/repos/acme/web/issues", http.StatusCreated, issueJSON(7, "[FS-043] Payments", "open", "specweave"))

	iss, err := tr.CreateIssue(context.Background(), tracker.IssueRequest{Title: "[FS-043] Payments", Body: "body", Labels: []string{"specweave"}})
	require.NoError(t, err)
	assert.Equal(t, "7", iss.ID)
	assert.Equal(t, 7, iss.Number)

	var body map[string]any
	require.NoError(t, json.Unmarshal(srv.RequestsTo(http.MethodPost, "/repos/acme/web/issues")[0].Body, &body))
	assert.Equal(t, "[FS-043] Payments", body["title"])
	assert.Equal(t, []any{"specweave"}, body["labels"])
}

func TestGetIssueStatus(t *testing.T) {
	tr, srv := newTestTracker(t)
	iss := issueJSON(5, "x", "closed", "bug")
	iss["assignees"] = []map[string]string{{"login": "octocat"}}
	iss["milestone"] = map[string]any{"title": "v1"}
	srv.Respond(http.MethodGet, "/repos/acme/web/issues/5", http.StatusOK, iss)

	st, err := tr.GetIssueStatus(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, "closed", st.State)
	assert.Equal(t, []string{"bug"}, st.Labels)
	assert.Equal(t, []string{"octocat"}, st.Assignees)
	assert.Equal(t, "v1", st.Milestone)
	assert.Equal(t, 2026, st.UpdatedAt.Year())
}

func TestGetIssueStatus_NotFound(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.GetIssueStatus(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tracker.ErrNotFound))
	assert.True(t, tracker.IsNotFound(err))
}

func TestGetIssueStatus_InvalidID(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.GetIssueStatus(context.Background(), "PROJ-1")
	assert.ErrorContains(t, err, "invalid GitHub issue number")
}

func TestUpdateIssueStatus(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodPatch, "/repos/acme/web/issues/5", http.StatusOK, issueJSON(5, "x", "closed"))

	err := tr.UpdateIssueStatus(context.Background(), "5", tracker.StatusUpdate{State: "Closed", Labels: []string{}})
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(srv.RequestsTo(http.MethodPatch, "/repos/acme/web/issues/5")[0].Body, &body))
	assert.Equal(t, "closed", body["state"])
	assert.Equal(t, "completed", body["state_reason"])
	assert.Equal(t, []any{}, body["labels"])
	_, hasAssignees := body["assignees"]
	assert.False(t, hasAssignees, "nil assignees leave the field untouched")

	err = tr.UpdateIssueStatus(context.Background(), "5", tracker.StatusUpdate{State: "In Progress"})
	assert.ErrorContains(t, err, "no state")
}

func TestUpdateIssueStatus_ServerError(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.SetServerError(true)

	err := tr.UpdateIssueStatus(context.Background(), "5", tracker.StatusUpdate{State: "open"})
	var apiErr *tracker.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestCloseAsDuplicate(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/repos/acme/web/issues/9", http.StatusOK, issueJSON(9, "[FS-043] Payments", "open", "specweave"))
	srv.Respond(http.MethodPost, "/repos/acme/web/issues/9/comments", http.StatusCreated, map[string]any{"id": 1})
	srv.Respond(http.MethodPatch, "/repos/acme/web/issues/9", http.StatusOK, issueJSON(9, "[FS-043] Payments", "closed"))

	require.NoError(t, tr.CloseAsDuplicate(context.Background(), "9", "7"))

	var comment map[string]any
	require.NoError(t, json.Unmarshal(srv.RequestsTo(http.MethodPost, "/repos/acme/web/issues/9/comments")[0].Body, &comment))
	assert.Equal(t, "Duplicate of #7", comment["body"])

	var edit map[string]any
	require.NoError(t, json.Unmarshal(srv.RequestsTo(http.MethodPatch, "/repos/acme/web/issues/9")[0].Body, &edit))
	assert.Equal(t, "closed", edit["state"])
	assert.Equal(t, "not_planned", edit["state_reason"])
	assert.Equal(t, []any{"specweave", "duplicate"}, edit["labels"])
}

func TestCloseAsDuplicate_AlreadyClosed(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/repos/acme/web/issues/9", http.StatusOK, issueJSON(9, "x", "closed"))

	require.NoError(t, tr.CloseAsDuplicate(context.Background(), "9", "7"))
	assert.Empty(t, srv.RequestsTo(http.MethodPatch, "/repos/acme/web/issues/9"))
}

func TestForRepo(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodPost, "/repos/acme/api/issues/3/comments", http.StatusCreated, map[string]any{"id": 1})

	other, err := tr.ForRepo("acme/api")
	require.NoError(t, err)
	require.NoError(t, other.PostComment(context.Background(), "3", "hello"))
	assert.Len(t, srv.RequestsTo(http.MethodPost, "/repos/acme/api/issues/3/comments"), 1)

	_, err = tr.ForRepo("api")
	assert.Error(t, err)
}
