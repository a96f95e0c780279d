package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/specweave/specweave/internal/tracker"
)

// Issue is a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the fields the tracker reads.
type IssueFields struct {
	Summary  string       `json:"summary"`
	Status   *StatusField `json:"status"`
	Assignee *UserField   `json:"assignee"`
	Labels   []string     `json:"labels"`
	Created  string       `json:"created"`
	Updated  string       `json:"updated"`
}

// StatusField is a workflow status.
type StatusField struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory,omitempty"`
}

// StatusCategory groups statuses into new, indeterminate and done.
type StatusCategory struct {
	Key string `json:"key"`
}

// UserField is a Jira user.
type UserField struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// Transition is an available workflow transition.
type Transition struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	To   *StatusField `json:"to"`
}

// SearchResult is a JQL search page.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

const (
	searchFields = "summary,status,assignee,labels,created,updated"
	pageSize     = 100
)

// Client provides HTTP access to a Jira Cloud or Server instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	HTTPClient *http.Client
}

// NewClient creates a Jira client.
func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		URL:        strings.TrimSuffix(baseURL, "/"),
		Username:   username,
		APIToken:   apiToken,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchIssues runs a JQL query, following pagination.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	var all []Issue
	startAt := 0
	for {
		params := url.Values{
			"jql":        {jql},
			"fields":     {searchFields},
			"startAt":    {strconv.Itoa(startAt)},
			"maxResults": {strconv.Itoa(pageSize)},
		}
		body, err := c.doRequest(ctx, "search issues", http.MethodGet, "/rest/api/3/search?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var page SearchResult
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse search response: %w", err)
		}
		all = append(all, page.Issues...)
		if len(page.Issues) == 0 || startAt+len(page.Issues) >= page.Total {
			return all, nil
		}
		startAt += len(page.Issues)
	}
}

// GetIssue fetches one issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	body, err := c.doRequest(ctx, "get issue "+key, http.MethodGet,
		"/rest/api/3/issue/"+url.PathEscape(key)+"?fields="+searchFields, nil)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return &issue, nil
}

// CreateIssue creates an issue and returns it as stored.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]any) (*Issue, error) {
	body, err := c.doRequest(ctx, "create issue", http.MethodPost, "/rest/api/3/issue", map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return c.GetIssue(ctx, created.Key)
}

// UpdateIssue sets fields on an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields map[string]any) error {
	_, err := c.doRequest(ctx, "update issue "+key, http.MethodPut,
		"/rest/api/3/issue/"+url.PathEscape(key), map[string]any{"fields": fields})
	return err
}

// Transitions lists the transitions available from the issue's status.
func (c *Client) Transitions(ctx context.Context, key string) ([]Transition, error) {
	body, err := c.doRequest(ctx, "list transitions of "+key, http.MethodGet,
		"/rest/api/3/issue/"+url.PathEscape(key)+"/transitions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}
	return resp.Transitions, nil
}

// DoTransition moves an issue through a transition.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	_, err := c.doRequest(ctx, "transition "+key, http.MethodPost,
		"/rest/api/3/issue/"+url.PathEscape(key)+"/transitions",
		map[string]any{"transition": map[string]string{"id": transitionID}})
	return err
}

// AddComment posts a comment rendered as ADF.
func (c *Client) AddComment(ctx context.Context, key, text string) error {
	_, err := c.doRequest(ctx, "comment on "+key, http.MethodPost,
		"/rest/api/3/issue/"+url.PathEscape(key)+"/comment",
		map[string]any{"body": PlainTextToADF(text)})
	return err
}

// BrowseURL returns the web URL of an issue.
func (c *Client) BrowseURL(key string) string {
	return c.URL + "/browse/" + key
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "specweave-jira-sync/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &tracker.APIError{Tracker: "jira", Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &tracker.APIError{Tracker: "jira", Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = tracker.ErrNotFound
		}
		return nil, apiErr
	}
	return body, nil
}

// setAuth uses basic auth when a username is known (Cloud) and a bearer
// personal access token otherwise (Server/Data Center).
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
}

// ParseTimestamp parses Jira's timestamp formats.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized Jira timestamp %q", ts)
}
