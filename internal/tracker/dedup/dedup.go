// Package dedup creates external issues without leaving duplicates behind
// when several processes create the same issue concurrently.
//
// Creation runs in three phases:
//
//  1. detect: search for an existing issue with the title pattern and reuse it.
//  2. verify: create, then search again until the new issue is visible.
//  3. reflect: if more than one open issue matches, keep the earliest and
//     close the others as duplicates of it.
//
// Failures in phases 1 and 2 abort the operation. Phase 3 is best effort:
// a failed close is reported and counted, never returned as an error.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/telemetry"
	"github.com/specweave/specweave/internal/tracker"
)

const (
	defaultVerifyAttempts = 4
	defaultVerifyInterval = 500 * time.Millisecond
)

var errNotVisible = errors.New("created issue not yet visible in search")

// Request describes the issue to create.
type Request struct {
	Title string
	Body  string
	// TitlePattern identifies the logical issue, e.g. "[FS-043]". The title
	// must contain it. Defaults to Title.
	TitlePattern string
	Labels       []string
	// Repo targets another repository or project when the client supports it.
	Repo string
}

// Result is the outcome of a protected create.
type Result struct {
	// Issue is the canonical issue callers should link to.
	Issue            tracker.Issue `json:"issue"`
	DuplicatesFound  int           `json:"duplicatesFound"`
	DuplicatesClosed int           `json:"duplicatesClosed"`
	WasReused        bool          `json:"wasReused"`
	// Created is the issue this call created, if any. It may differ from
	// Issue when a concurrent creator won.
	Created *tracker.Issue `json:"created,omitempty"`
}

// VerificationError is returned when the issue was created but the
// post-create check failed. Created must be reconciled by hand or by a
// later run.
type VerificationError struct {
	Created *tracker.Issue
	Err     error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("issue %s created but duplicate verification failed: %v", e.Created.ID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Protector wraps a tracker client with duplicate protection.
type Protector struct {
	Client tracker.Client

	VerifyAttempts int
	VerifyInterval time.Duration

	OnMessage func(string)
	OnWarning func(string)
}

// NewProtector creates a protector with default verification settings.
func NewProtector(client tracker.Client) *Protector {
	return &Protector{Client: client}
}

// CreateWithProtection returns the canonical issue for req, creating it
// only when no issue with the title pattern exists.
func (p *Protector) CreateWithProtection(ctx context.Context, req Request) (*Result, error) {
	ctx, span := telemetry.Tracer("specweave/dedup").Start(ctx, "dedup.CreateWithProtection")
	defer span.End()

	pattern := req.TitlePattern
	if pattern == "" {
		pattern = req.Title
	}
	if pattern == "" {
		return nil, errors.New("issue title must not be empty")
	}
	if !strings.Contains(req.Title, pattern) {
		return nil, fmt.Errorf("title %q does not contain pattern %q", req.Title, pattern)
	}
	span.SetAttributes(attribute.String("specweave.dedup.pattern", pattern))

	client, err := p.client(req.Repo)
	if err != nil {
		return nil, err
	}

	// Phase 1: detect.
	matches, err := search(ctx, client, pattern)
	if err != nil {
		return nil, fmt.Errorf("duplicate check for %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		open := openIssues(matches)
		canonical := mostRecent(open)
		if canonical == nil {
			canonical = mostRecent(matches)
		}
		res := &Result{Issue: *canonical, WasReused: true, DuplicatesFound: max(len(open)-1, 0)}
		p.message(fmt.Sprintf("Reusing existing %s issue %s for %s", client.DisplayName(), canonical.ID, pattern))
		telemetry.Count(ctx, "specweave/dedup", "specweave.dedup.reused", 1)
		return res, nil
	}

	// Phase 2: create and verify.
	created, err := client.CreateIssue(ctx, tracker.IssueRequest{Title: req.Title, Body: req.Body, Labels: req.Labels})
	if err != nil {
		return nil, fmt.Errorf("create issue %q: %w", pattern, err)
	}
	debug.Logf("dedup: created %s issue %s for %s\n", client.Name(), created.ID, pattern)

	matches, err = p.verify(ctx, client, pattern, created)
	if err != nil {
		return nil, &VerificationError{Created: created, Err: err}
	}

	open := openIssues(matches)
	res := &Result{Issue: *created, Created: created}
	if len(open) <= 1 {
		return res, nil
	}

	// Phase 3: keep the earliest, close the rest.
	canonical := earliest(open)
	res.Issue = *canonical
	res.DuplicatesFound = len(open) - 1
	for _, iss := range open {
		if iss.ID == canonical.ID {
			continue
		}
		if err := client.CloseAsDuplicate(ctx, iss.ID, canonical.ID); err != nil {
			p.warn(fmt.Sprintf("failed to close duplicate %s (canonical %s): %v", iss.ID, canonical.ID, err))
			continue
		}
		res.DuplicatesClosed++
	}
	telemetry.Count(ctx, "specweave/dedup", "specweave.dedup.duplicates", int64(res.DuplicatesFound),
		attribute.Int("closed", res.DuplicatesClosed))
	if res.DuplicatesClosed < res.DuplicatesFound {
		p.warn(fmt.Sprintf("%d of %d duplicates of %s left open", res.DuplicatesFound-res.DuplicatesClosed, res.DuplicatesFound, pattern))
	} else {
		p.message(fmt.Sprintf("Closed %d duplicate(s) of %s, keeping %s", res.DuplicatesClosed, pattern, canonical.ID))
	}
	return res, nil
}

// verify searches until the created issue shows up, retrying with backoff.
// If it never shows up the created issue is added to the matches anyway.
func (p *Protector) verify(ctx context.Context, client tracker.Client, pattern string, created *tracker.Issue) ([]tracker.Issue, error) {
	attempts := p.VerifyAttempts
	if attempts <= 0 {
		attempts = defaultVerifyAttempts
	}
	interval := p.VerifyInterval
	if interval <= 0 {
		interval = defaultVerifyInterval
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var matches []tracker.Issue
	err := backoff.Retry(func() error {
		m, err := search(ctx, client, pattern)
		if err != nil {
			return backoff.Permanent(err)
		}
		matches = m
		if !containsID(m, created.ID) {
			return errNotVisible
		}
		return nil
	}, bo)

	if errors.Is(err, errNotVisible) {
		debug.Logf("dedup: %s not visible after %d searches\n", created.ID, attempts)
		return append(matches, *created), nil
	}
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (p *Protector) client(repo string) (tracker.Client, error) {
	if repo == "" {
		return p.Client, nil
	}
	scoped, ok := p.Client.(tracker.RepoScoped)
	if !ok {
		return nil, fmt.Errorf("%s tracker does not support repository overrides", p.Client.Name())
	}
	return scoped.ForRepo(repo)
}

// search re-filters results locally; tracker search is often fuzzy.
func search(ctx context.Context, client tracker.Client, pattern string) ([]tracker.Issue, error) {
	found, err := client.SearchIssuesByTitlePattern(ctx, pattern)
	if err != nil {
		return nil, err
	}
	out := found[:0:0]
	for _, iss := range found {
		if strings.Contains(iss.Title, pattern) {
			out = append(out, iss)
		}
	}
	return out, nil
}

func openIssues(issues []tracker.Issue) []tracker.Issue {
	var out []tracker.Issue
	for _, iss := range issues {
		if !iss.Closed {
			out = append(out, iss)
		}
	}
	return out
}

func containsID(issues []tracker.Issue, id string) bool {
	for _, iss := range issues {
		if iss.ID == id {
			return true
		}
	}
	return false
}

// earliest picks the first-created issue, breaking ties by lowest number.
func earliest(issues []tracker.Issue) *tracker.Issue {
	if len(issues) == 0 {
		return nil
	}
	sorted := append([]tracker.Issue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].Number < sorted[j].Number
	})
	return &sorted[0]
}

// mostRecent picks the last-created issue, breaking ties by lowest number.
func mostRecent(issues []tracker.Issue) *tracker.Issue {
	if len(issues) == 0 {
		return nil
	}
	sorted := append([]tracker.Issue(nil), issues...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].Number < sorted[j].Number
	})
	return &sorted[0]
}

func (p *Protector) message(msg string) {
	if p.OnMessage != nil {
		p.OnMessage(msg)
	}
}

func (p *Protector) warn(msg string) {
	if p.OnWarning != nil {
		p.OnWarning(msg)
	}
}
