package statussync

import (
	"context"
	"fmt"

	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/tracker/dedup"
	"github.com/specweave/specweave/internal/types"
)

// IssuePattern returns the title prefix that identifies an increment's
// issue, e.g. "[FS-043]".
func (e *Engine) IssuePattern(inc *types.Increment) string {
	prefix := e.Config.IssuePrefix
	if prefix == "" {
		prefix = "FS"
	}
	return fmt.Sprintf("[%s-%03d]", prefix, inc.Number)
}

func (e *Engine) issueRequest(inc *types.Increment, labels []string) dedup.Request {
	pattern := e.IssuePattern(inc)
	return dedup.Request{
		Title:        pattern + " " + inc.Title,
		Body:         issueBody(inc),
		TitlePattern: pattern,
		Labels:       labels,
	}
}

// CreateIssue opens (or reuses) the tracker issue for an increment through
// duplicate protection, independent of the statusSync switches. An issue
// created in the configured repository is linked in metadata.json; one
// created in another repository is only reported.
func (e *Engine) CreateIssue(ctx context.Context, incrementID, repo string) (*dedup.Result, error) {
	inc, err := e.Increments.Load(incrementID)
	if err != nil {
		return nil, err
	}
	md, err := e.Metadata.Load(incrementID)
	if err != nil {
		return nil, err
	}
	if repo == "" && md.External != nil && md.External.IssueID != "" {
		return nil, fmt.Errorf("%s is already linked to %s issue %s", incrementID, md.External.Platform, md.External.IssueID)
	}

	req := e.issueRequest(inc, md.Labels)
	req.Repo = repo
	res, err := e.Protector.CreateWithProtection(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create %s issue for %s: %w", e.Client.DisplayName(), incrementID, err)
	}
	if repo != "" {
		return res, nil
	}

	_, err = e.Metadata.Update(incrementID, func(md *metadata.Metadata) error {
		md.External = &types.ExternalLink{Platform: e.Client.Name(), IssueID: res.Issue.ID, URL: res.Issue.URL}
		ev := e.Metadata.NewEvent(metadata.KindStatusSync)
		ev.Detail = fmt.Sprintf("linked issue %s", res.Issue.ID)
		if !res.WasReused {
			ev.Detail = fmt.Sprintf("created issue %s", res.Issue.ID)
		}
		md.AuditTrail = append(md.AuditTrail, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
