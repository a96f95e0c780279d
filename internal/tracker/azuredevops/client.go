package azuredevops

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

// Client provides methods to interact with the Azure DevOps REST API.
type Client struct {
	Organization string
	Project      string
	PAT          string // Personal Access Token
	BaseURL      string // derived from Organization
	HTTPClient   *http.Client
}

// NewClient creates a client. organization may be a name or a full URL.
func NewClient(organization, project, pat string) *Client {
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = "https://dev.azure.com/" + organization
	}
	return &Client{
		Organization: organization,
		Project:      project,
		PAT:          pat,
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		HTTPClient:   &http.Client{Timeout: DefaultTimeout},
	}
}

// QueryByTitle returns work items of the project whose title contains text.
func (c *Client) QueryByTitle(ctx context.Context, text string) ([]WorkItem, error) {
	wiql := fmt.Sprintf(
		"SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' AND [System.Title] CONTAINS '%s' ORDER BY [System.CreatedDate] ASC",
		wiqlEscape(c.Project), wiqlEscape(text))

	body, err := c.doRequest(ctx, "WIQL query", http.MethodPost, c.projectPath("/_apis/wit/wiql"), WIQLQueryRequest{Query: wiql}, "")
	if err != nil {
		return nil, err
	}
	var resp WIQLQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse WIQL response: %w", err)
	}

	ids := make([]string, 0, len(resp.WorkItems))
	for _, ref := range resp.WorkItems {
		ids = append(ids, strconv.Itoa(ref.ID))
	}
	var items []WorkItem
	for i := 0; i < len(ids); i += MaxBatchSize {
		end := min(i+MaxBatchSize, len(ids))
		path := c.projectPath("/_apis/wit/workitems?ids=" + strings.Join(ids[i:end], ","))
		body, err := c.doRequest(ctx, "fetch work items", http.MethodGet, path, nil, "")
		if err != nil {
			return nil, err
		}
		var batch WorkItemBatchResponse
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("parse work items response: %w", err)
		}
		items = append(items, batch.Value...)
	}
	return items, nil
}

// FetchWorkItem retrieves one work item.
func (c *Client) FetchWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	body, err := c.doRequest(ctx, fmt.Sprintf("fetch work item %d", id), http.MethodGet,
		c.projectPath(fmt.Sprintf("/_apis/wit/workitems/%d", id)), nil, "")
	if err != nil {
		return nil, err
	}
	var wi WorkItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("parse work item: %w", err)
	}
	return &wi, nil
}

// CreateWorkItem creates a work item of the given type from patch operations.
func (c *Client) CreateWorkItem(ctx context.Context, workItemType string, ops []PatchOperation) (*WorkItem, error) {
	path := c.projectPath("/_apis/wit/workitems/$" + url.PathEscape(workItemType))
	body, err := c.doRequest(ctx, "create work item", http.MethodPost, path, ops, "application/json-patch+json")
	if err != nil {
		return nil, err
	}
	var wi WorkItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("parse create response: %w", err)
	}
	return &wi, nil
}

// UpdateWorkItem applies patch operations to a work item.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []PatchOperation) (*WorkItem, error) {
	path := c.projectPath(fmt.Sprintf("/_apis/wit/workitems/%d", id))
	body, err := c.doRequest(ctx, fmt.Sprintf("update work item %d", id), http.MethodPatch, path, ops, "application/json-patch+json")
	if err != nil {
		return nil, err
	}
	var wi WorkItem
	if err := json.Unmarshal(body, &wi); err != nil {
		return nil, fmt.Errorf("parse update response: %w", err)
	}
	return &wi, nil
}

// AddComment posts an HTML comment to a work item.
func (c *Client) AddComment(ctx context.Context, id int, html string) error {
	path := c.projectPath(fmt.Sprintf("/_apis/wit/workItems/%d/comments?api-version=%s", id, CommentAPIVersion))
	_, err := c.doRequest(ctx, fmt.Sprintf("comment on work item %d", id), http.MethodPost, path, map[string]string{"text": html}, "")
	return err
}

// BuildWorkItemURL returns the web URL for a work item.
func (c *Client) BuildWorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, url.PathEscape(c.Project), id)
}

func (c *Client) projectPath(p string) string {
	return "/" + url.PathEscape(c.Project) + p
}

// doRequest performs an authenticated request. api-version is appended
// unless the path already carries one.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body interface{}, contentType string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	reqURL := c.BaseURL + path
	if !strings.Contains(path, "api-version=") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		reqURL += sep + "api-version=" + APIVersion
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Basic auth with an empty username and the PAT as password.
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.PAT)))
	req.Header.Set("Accept", "application/json")
	switch {
	case contentType != "":
		req.Header.Set("Content-Type", contentType)
	case body != nil:
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &tracker.APIError{Tracker: "ado", Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &tracker.APIError{Tracker: "ado", Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusNotFound {
			apiErr.Err = tracker.ErrNotFound
		}
		return nil, apiErr
	}
	return respBody, nil
}

// parseTimestamp parses Azure DevOps ISO 8601 timestamps.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.0000000Z"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}

func wiqlEscape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
