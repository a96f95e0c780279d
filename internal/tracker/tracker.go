// Package tracker defines the interface every external issue tracker adapter
// implements, plus the registry, configuration lookup and status mapping
// shared by the GitHub, JIRA and Azure DevOps adapters.
package tracker

import (
	"context"
	"time"

	"github.com/specweave/specweave/internal/types"
)

// Client is the plugin interface that all tracker integrations implement.
//
// CreateIssue is deliberately low level: callers outside tests go through
// dedup.Protector so that concurrent creators never leave duplicates behind.
type Client interface {
	// Name returns the lowercase identifier for this tracker (e.g., "github").
	Name() string

	// DisplayName returns the human-readable name (e.g., "GitHub").
	DisplayName() string

	// Init configures the client. Called once before any other method.
	Init(ctx context.Context, cfg *Config) error

	// SearchIssuesByTitlePattern returns open and closed issues whose title
	// contains pattern.
	SearchIssuesByTitlePattern(ctx context.Context, pattern string) ([]Issue, error)

	// CreateIssue creates a new issue.
	CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error)

	// GetIssueStatus returns the tracker-side state of an issue.
	// Returns ErrNotFound if the issue does not exist.
	GetIssueStatus(ctx context.Context, id string) (*types.ExternalStatus, error)

	// UpdateIssueStatus writes state and labels (and assignees when set).
	UpdateIssueStatus(ctx context.Context, id string, update StatusUpdate) error

	// PostComment adds a markdown comment to an issue.
	PostComment(ctx context.Context, id, body string) error

	// CloseAsDuplicate closes id with a reference to canonicalID.
	CloseAsDuplicate(ctx context.Context, id, canonicalID string) error
}

// RepoScoped is implemented by clients that can target a different
// repository or project than the configured one.
type RepoScoped interface {
	ForRepo(repo string) (Client, error)
}

// Cache holds tracker metadata that rarely changes between runs.
// *cache.Manager satisfies it.
type Cache interface {
	GetFreshInto(key string, v any) (bool, error)
	Set(key string, value any, ttl time.Duration) error
}

// CacheUser is implemented by clients that can reuse cached metadata.
type CacheUser interface {
	SetCache(Cache)
}
