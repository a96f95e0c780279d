package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specweave/specweave/internal/cache"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/tracker/testutil"
)

func newTestTracker(t *testing.T) (*Tracker, *testutil.MockTrackerServer) {
	t.Helper()
	srv := testutil.NewMockTrackerServer()
	t.Cleanup(srv.Close)
	return New(NewClient(srv.URL(), "dev@example.com", "token"), "PROJ"), srv
}

func issueJSON(key, summary, status, category string, labels ...string) map[string]any {
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{
		"id":  "10001",
		"key": key,
		"fields": map[string]any{
			"summary": summary,
			"status": map[string]any{
				"name":           status,
				"statusCategory": map[string]string{"key": category},
			},
			"labels":  labels,
			"created": "2026-01-05T09:30:00.000+0000",
			"updated": "2026-02-01T12:00:00.000+0000",
		},
	}
}

func decode(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestInit(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "secret")
	t.Setenv("JIRA_EMAIL", "dev@example.com")
	t.Setenv("JIRA_URL", "")

	tr := &Tracker{}
	err := tr.Init(context.Background(), tracker.NewConfig("jira", map[string]string{
		"domain":    "acme.atlassian.net",
		"project":   "PROJ",
		"issueType": "Story",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://acme.atlassian.net", tr.client.URL)
	assert.Equal(t, "dev@example.com", tr.client.Username)
	assert.Equal(t, "Story", tr.issueType)
	assert.Equal(t, "Done", tr.duplicateState)

	err = (&Tracker{}).Init(context.Background(), tracker.NewConfig("jira", map[string]string{"project": "PROJ"}))
	assert.ErrorContains(t, err, "sync.jira.url")
}

func TestSearchIssuesByTitlePattern(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/rest/api/3/search", http.StatusOK, map[string]any{
		"startAt": 0, "maxResults": 100, "total": 2,
		"issues": []any{
			issueJSON("PROJ-12", "[FS-043] Payments", "In Progress", "indeterminate"),
			issueJSON("PROJ-15", "[FS-043] Payments", "Done", "done"),
		},
	})

	issues, err := tr.SearchIssuesByTitlePattern(context.Background(), "[FS-043]")
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "PROJ-12", issues[0].ID)
	assert.Equal(t, 12, issues[0].Number)
	assert.Equal(t, "In Progress", issues[0].State)
	assert.Equal(t, srv.URL()+"/browse/PROJ-12", issues[0].URL)
	assert.False(t, issues[0].Closed)
	assert.True(t, issues[1].Closed)
	assert.Equal(t, 2026, issues[0].CreatedAt.Year())

	reqs := srv.RequestsTo(http.MethodGet, "/rest/api/3/search")
	require.Len(t, reqs, 1)
	q, err := url.ParseQuery(reqs[0].Query)
	require.NoError(t, err)
	assert.Equal(t, `project = "PROJ" AND summary ~ "\"[FS-043]\"" ORDER BY created ASC`, q.Get("jql"))
	assert.Contains(t, reqs[0].Headers.Get("Authorization"), "Basic ")
}

func TestCreateIssue(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodPost, "/rest/api/3/issue", http.StatusCreated, map[string]string{"id": "10001", "key": "PROJ-12"})
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-12", http.StatusOK, issueJSON("PROJ-12", "[FS-043] Payments", "To Do", "new", "spec-weave"))

	iss, err := tr.CreateIssue(context.Background(), tracker.IssueRequest{Title: "[FS-043] Payments", Body: "line one\nline two", Labels: []string{"spec weave"}})
	require.NoError(t, err)
	assert.Equal(t, "PROJ-12", iss.ID)
	assert.Equal(t, "To Do", iss.State)

	fields := decode(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue")[0].Body)["fields"].(map[string]any)
	assert.Equal(t, "[FS-043] Payments", fields["summary"])
	assert.Equal(t, map[string]any{"key": "PROJ"}, fields["project"])
	assert.Equal(t, map[string]any{"name": "Task"}, fields["issuetype"])
	assert.Equal(t, []any{"spec-weave"}, fields["labels"])
	desc := fields["description"].(map[string]any)
	assert.Equal(t, "doc", desc["type"])
	assert.Len(t, desc["content"], 2)
}

func TestGetIssueStatus(t *testing.T) {
	tr, srv := newTestTracker(t)
	iss := issueJSON("PROJ-12", "x", "In Review", "indeterminate", "api")
	iss["fields"].(map[string]any)["assignee"] = map[string]string{"accountId": "abc123", "displayName": "Ana"}
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-12", http.StatusOK, iss)

	st, err := tr.GetIssueStatus(context.Background(), "PROJ-12")
	require.NoError(t, err)
	assert.Equal(t, "In Review", st.State)
	assert.Equal(t, []string{"api"}, st.Labels)
	assert.Equal(t, []string{"abc123"}, st.Assignees)
	assert.Equal(t, 2, int(st.UpdatedAt.Month()))

	_, err = tr.GetIssueStatus(context.Background(), "PROJ-404")
	assert.True(t, errors.Is(err, tracker.ErrNotFound))
}

func TestUpdateIssueStatus(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-12/transitions", http.StatusOK, map[string]any{
		"transitions": []any{
			map[string]any{"id": "11", "name": "Start", "to": map[string]string{"name": "In Progress"}},
			map[string]any{"id": "31", "name": "Finish", "to": map[string]string{"name": "Done"}},
		},
	})
	srv.Respond(http.MethodPost, "/rest/api/3/issue/PROJ-12/transitions", http.StatusNoContent, nil)
	srv.Respond(http.MethodPut, "/rest/api/3/issue/PROJ-12", http.StatusNoContent, nil)

	err := tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{
		State:     "done",
		Labels:    []string{"api"},
		Assignees: []string{},
	})
	require.NoError(t, err)

	posted := decode(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue/PROJ-12/transitions")[0].Body)
	assert.Equal(t, map[string]any{"id": "31"}, posted["transition"])

	fields := decode(t, srv.RequestsTo(http.MethodPut, "/rest/api/3/issue/PROJ-12")[0].Body)["fields"].(map[string]any)
	assert.Equal(t, []any{"api"}, fields["labels"])
	v, ok := fields["assignee"]
	assert.True(t, ok)
	assert.Nil(t, v, "empty assignees unassign")
}

func TestUpdateIssueStatus_NoTransition(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-12/transitions", http.StatusOK, map[string]any{"transitions": []any{}})
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-12", http.StatusOK, issueJSON("PROJ-12", "x", "To Do", "new"))

	err := tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{State: "Done"})
	assert.ErrorContains(t, err, "no transition")

	// Already there: nothing to do.
	require.NoError(t, tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{State: "to do"}))
}

func TestUpdateIssueStatus_CachedTransition(t *testing.T) {
	store := cache.New(t.TempDir(), cache.WithDefaultTTL(time.Hour))
	const path = "/rest/api/3/issue/PROJ-12/transitions"

	tr, srv := newTestTracker(t)
	tr.SetCache(store)
	srv.Respond(http.MethodGet, path, http.StatusOK, map[string]any{
		"transitions": []any{map[string]any{"id": "31", "name": "Finish", "to": map[string]string{"name": "Done"}}},
	})
	srv.Respond(http.MethodPost, path, http.StatusNoContent, nil)

	require.NoError(t, tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{State: "Done"}))
	require.NoError(t, tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{State: "done"}))

	assert.Len(t, srv.RequestsTo(http.MethodGet, path), 1, "second update reuses the cached id")
	posts := srv.RequestsTo(http.MethodPost, path)
	require.Len(t, posts, 2)
	assert.Equal(t, map[string]any{"id": "31"}, decode(t, posts[1].Body)["transition"])

	var known map[string]string
	found, err := store.GetFreshInto("jira-transitions-PROJ-Task", &known)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]string{"done": "31"}, known)
}

func TestUpdateIssueStatus_StaleCachedTransition(t *testing.T) {
	store := cache.New(t.TempDir(), cache.WithDefaultTTL(time.Hour))
	require.NoError(t, store.Set("jira-transitions-PROJ-Task", map[string]string{"done": "99"}, 0))
	const path = "/rest/api/3/issue/PROJ-12/transitions"

	tr, srv := newTestTracker(t)
	tr.SetCache(store)
	srv.Respond(http.MethodGet, path, http.StatusOK, map[string]any{
		"transitions": []any{map[string]any{"id": "41", "name": "Close", "to": map[string]string{"name": "Done"}}},
	})
	srv.Handle(http.MethodPost, path, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Transition.ID != "41" {
			testutil.WriteJSON(w, http.StatusBadRequest, map[string]any{"errorMessages": []string{"Transition id is not valid"}})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, tr.UpdateIssueStatus(context.Background(), "PROJ-12", tracker.StatusUpdate{State: "Done"}))
	assert.Len(t, srv.RequestsTo(http.MethodPost, path), 2)
	assert.Len(t, srv.RequestsTo(http.MethodGet, path), 1)

	var known map[string]string
	_, err := store.GetFreshInto("jira-transitions-PROJ-Task", &known)
	require.NoError(t, err)
	assert.Equal(t, "41", known["done"])
}

func TestInitKeepsCache(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "secret")
	store := cache.New(t.TempDir())

	tr := &Tracker{}
	tr.SetCache(store)
	require.NoError(t, tr.Init(context.Background(), tracker.NewConfig("jira", map[string]string{
		"url":     "https://jira.example.com",
		"project": "PROJ",
	})))
	assert.Same(t, store, tr.cache)
}

func TestPostComment(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodPost, "/rest/api/3/issue/PROJ-12/comment", http.StatusCreated, map[string]string{"id": "1"})

	require.NoError(t, tr.PostComment(context.Background(), "PROJ-12", "Status sync: To Do → Done"))
	body := decode(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue/PROJ-12/comment")[0].Body)
	doc := body["body"].(map[string]any)
	para := doc["content"].([]any)[0].(map[string]any)
	text := para["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "Status sync: To Do → Done", text["text"])
}

func TestCloseAsDuplicate(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-15", http.StatusOK, issueJSON("PROJ-15", "[FS-043] Payments", "To Do", "new", "specweave"))
	srv.Respond(http.MethodPost, "/rest/api/3/issue/PROJ-15/comment", http.StatusCreated, map[string]string{"id": "1"})
	srv.Respond(http.MethodPut, "/rest/api/3/issue/PROJ-15", http.StatusNoContent, nil)
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-15/transitions", http.StatusOK, map[string]any{
		"transitions": []any{map[string]any{"id": "31", "name": "Finish", "to": map[string]string{"name": "Done"}}},
	})
	srv.Respond(http.MethodPost, "/rest/api/3/issue/PROJ-15/transitions", http.StatusNoContent, nil)

	require.NoError(t, tr.CloseAsDuplicate(context.Background(), "PROJ-15", "PROJ-12"))

	fields := decode(t, srv.RequestsTo(http.MethodPut, "/rest/api/3/issue/PROJ-15")[0].Body)["fields"].(map[string]any)
	assert.Equal(t, []any{"specweave", "duplicate"}, fields["labels"])
	assert.Len(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue/PROJ-15/transitions"), 1)
	assert.Len(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue/PROJ-15/comment"), 1)
}

func TestCloseAsDuplicate_AlreadyDone(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.Respond(http.MethodGet, "/rest/api/3/issue/PROJ-15", http.StatusOK, issueJSON("PROJ-15", "x", "Done", "done"))

	require.NoError(t, tr.CloseAsDuplicate(context.Background(), "PROJ-15", "PROJ-12"))
	assert.Empty(t, srv.RequestsTo(http.MethodPost, "/rest/api/3/issue/PROJ-15/comment"))
}

func TestAuthError(t *testing.T) {
	tr, srv := newTestTracker(t)
	srv.SetAuthError(true)

	_, err := tr.SearchIssuesByTitlePattern(context.Background(), "[FS-001]")
	var apiErr *tracker.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestBearerAuthWithoutUsername(t *testing.T) {
	srv := testutil.NewMockTrackerServer()
	defer srv.Close()
	srv.Respond(http.MethodPost, "/rest/api/3/issue/PROJ-1/comment", http.StatusCreated, map[string]string{"id": "1"})

	tr := New(NewClient(srv.URL()+"/", "", "pat"), "PROJ")
	require.NoError(t, tr.PostComment(context.Background(), "PROJ-1", "hi"))
	assert.Equal(t, "Bearer pat", srv.GetRequests()[0].Headers.Get("Authorization"))
}

func TestParseTimestamp(t *testing.T) {
	for _, ts := range []string{"2026-01-05T09:30:00.000+0000", "2026-01-05T09:30:00+0000", "2026-01-05T09:30:00Z"} {
		got, err := ParseTimestamp(ts)
		require.NoError(t, err, ts)
		assert.Equal(t, 9, got.UTC().Hour())
	}
	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}
