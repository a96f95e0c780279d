package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/specweave/specweave/internal/types"
)

type stubClient struct{ name string }

func (s *stubClient) Name() string                                { return s.name }
func (s *stubClient) DisplayName() string                         { return s.name }
func (s *stubClient) Init(context.Context, *Config) error         { return nil }
func (s *stubClient) PostComment(context.Context, string, string) error { return nil }
func (s *stubClient) CloseAsDuplicate(context.Context, string, string) error {
	return nil
}
func (s *stubClient) SearchIssuesByTitlePattern(context.Context, string) ([]Issue, error) {
	return nil, nil
}
func (s *stubClient) CreateIssue(context.Context, IssueRequest) (*Issue, error) { return nil, nil }
func (s *stubClient) GetIssueStatus(context.Context, string) (*types.ExternalStatus, error) {
	return nil, ErrNotFound
}
func (s *stubClient) UpdateIssueStatus(context.Context, string, StatusUpdate) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if got := r.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
	if _, err := r.New("github"); err == nil {
		t.Error("New() should fail for unregistered tracker")
	}

	r.Register("zebra", func() Client { return &stubClient{name: "zebra"} })
	r.Register("alpha", func() Client { return &stubClient{name: "alpha"} })

	got := r.List()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zebra" {
		t.Errorf("List() = %v", got)
	}
	c1, err := r.New("alpha")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c2, _ := r.New("alpha")
	if c1 == c2 {
		t.Error("New() should return a fresh instance")
	}
}

func TestConfigGet(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "from-env")
	t.Setenv("AZURE_DEVOPS_PAT", "pat-env")

	cfg := NewConfig("jira", map[string]string{"apitoken": "", "domain": "acme.atlassian.net"})
	if got := cfg.Get("domain"); got != "acme.atlassian.net" {
		t.Errorf("Get(domain) = %q", got)
	}
	if got := cfg.Get("api_token"); got != "from-env" {
		t.Errorf("Get(api_token) = %q, want env fallback", got)
	}
	if _, err := cfg.GetRequired("project"); err == nil {
		t.Error("GetRequired should fail for a missing key")
	}

	ado := &Config{Prefix: "ado", EnvPrefix: "AZURE_DEVOPS"}
	if got := ado.Get("pat"); got != "pat-env" {
		t.Errorf("ado pat = %q", got)
	}
}

func TestStatusMapping(t *testing.T) {
	m := DefaultStatusMapping("jira")
	if got, _ := m.External(types.IncrementActive); got != "In Progress" {
		t.Errorf("External(active) = %q", got)
	}
	if got, _ := m.Local("done", types.IncrementActive); got != types.IncrementCompleted {
		t.Errorf("Local(done) = %q", got)
	}

	gh := DefaultStatusMapping("github")
	if got, _ := gh.Local("open", types.IncrementPaused); got != types.IncrementPaused {
		t.Errorf("paused should survive an open state, got %q", got)
	}
	if got, _ := gh.Local("OPEN", types.IncrementCompleted); got != types.IncrementActive {
		t.Errorf("reopened issue should map to active, got %q", got)
	}

	o := gh.WithOverrides(map[string]string{"paused": "on-hold", "bogus": "x"})
	if got, _ := o.External(types.IncrementPaused); got != "on-hold" {
		t.Errorf("override External(paused) = %q", got)
	}
	if got, _ := o.Local("on-hold", types.IncrementActive); got != types.IncrementPaused {
		t.Errorf("override Local(on-hold) = %q", got)
	}
	if got, _ := gh.External(types.IncrementPaused); got != "open" {
		t.Error("WithOverrides must not mutate the original")
	}
}

func TestAPIError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &APIError{Tracker: "github", Op: "get issue", StatusCode: 404, Body: "Not Found"})
	if !IsNotFound(err) {
		t.Error("404 APIError should be IsNotFound")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("errors.As failed: %v", err)
	}
	if IsNotFound(&APIError{StatusCode: 500}) {
		t.Error("500 is not not-found")
	}
	if NumberFromKey("PROJ-123") != 123 || NumberFromKey("42") != 42 {
		t.Error("NumberFromKey mismatch")
	}
}
