// Package statussync keeps an increment's status, labels and assignees in
// step with its linked tracker issue.
//
// Each call is a one-shot evaluation: the local and tracker projections are
// compared with the snapshot recorded at the last sync, the stale side is
// rewritten, and a new snapshot is stored in metadata.json. Divergence on
// both sides is resolved by policy; the prompt policy defers the item until
// ResolveConflict supplies a decision.
package statussync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/specweave/specweave/internal/cache"
	"github.com/specweave/specweave/internal/config"
	"github.com/specweave/specweave/internal/debug"
	"github.com/specweave/specweave/internal/increment"
	"github.com/specweave/specweave/internal/metadata"
	"github.com/specweave/specweave/internal/telemetry"
	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/tracker/dedup"
	"github.com/specweave/specweave/internal/types"
)

const scope = "specweave/statussync"

// ErrNoPendingConflict is returned by ResolveConflict when the increment has
// no deferred conflict.
var ErrNoPendingConflict = errors.New("no pending conflict")

// Action is what a sync did (or would do, in a dry run).
type Action string

// Sync actions
const (
	ActionNone     Action = "none"
	ActionPushed   Action = "pushed"
	ActionPulled   Action = "pulled"
	ActionDeferred Action = "deferred"
	ActionCreated  Action = "created"
	ActionSkipped  Action = "skipped"
)

// Options tune a single sync.
type Options struct {
	DryRun bool
	// Policy overrides the configured conflict resolution.
	Policy types.Resolution
}

// Outcome reports the result of syncing one increment.
type Outcome struct {
	IncrementID   string                `json:"incrementId"`
	State         State                 `json:"state,omitempty"`
	Action        Action                `json:"action"`
	DryRun        bool                  `json:"dryRun,omitempty"`
	LocalStatus   types.IncrementStatus `json:"localStatus,omitempty"`
	ExternalState string                `json:"externalState,omitempty"`
	Resolution    types.Resolution      `json:"resolution,omitempty"`
	Conflicts     []types.SyncConflict  `json:"conflicts,omitempty"`
	Issue         *tracker.Issue        `json:"issue,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
}

// Engine syncs increments with one tracker.
type Engine struct {
	Client     tracker.Client
	Increments *increment.Store
	Metadata   *metadata.Store
	Protector  *dedup.Protector
	Mapping    tracker.StatusMapping
	Config     config.StatusSync
	Now        func() time.Time

	// Cache, when set, receives every fetched tracker status under
	// StatusCacheKey so offline commands can show the last known state.
	Cache *cache.Manager

	OnMessage func(string)
	OnWarning func(string)
}

// NewEngine wires an engine for client using the platform's default status
// mapping with the config's overrides applied.
func NewEngine(client tracker.Client, incs *increment.Store, cfg config.StatusSync) *Engine {
	return &Engine{
		Client:     client,
		Increments: incs,
		Metadata:   incs.Metadata,
		Protector:  dedup.NewProtector(client),
		Mapping:    tracker.DefaultStatusMapping(client.Name()).WithOverrides(cfg.Mappings[client.Name()]),
		Config:     cfg,
		Now:        time.Now,
	}
}

// Sync evaluates and reconciles one increment.
func (e *Engine) Sync(ctx context.Context, incrementID string, opts Options) (out *Outcome, err error) {
	ctx, span := telemetry.Tracer(scope).Start(ctx, "statussync.Sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("specweave.increment", incrementID),
		attribute.String("specweave.tracker", e.Client.Name()),
		attribute.Bool("specweave.dry_run", opts.DryRun),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("specweave.sync.state", string(out.State)))
		telemetry.Count(ctx, scope, "specweave.sync.outcomes", 1,
			attribute.String("state", string(out.State)),
			attribute.String("action", string(out.Action)))
	}()

	out = &Outcome{IncrementID: incrementID, DryRun: opts.DryRun}
	if !e.Config.Enabled {
		return e.skip(out, "status sync is disabled"), nil
	}

	inc, err := e.Increments.Load(incrementID)
	if err != nil {
		return nil, err
	}
	md, err := e.Metadata.Load(incrementID)
	if err != nil {
		return nil, err
	}
	out.LocalStatus = inc.Status

	localState, ok := e.Mapping.External(inc.Status)
	if !ok {
		return e.skip(out, fmt.Sprintf("no %s state mapped for status %q", e.Client.DisplayName(), inc.Status)), nil
	}
	local := Projection{State: localState, Status: inc.Status, Labels: md.Labels, Assignees: md.Assignees}

	if md.External == nil || md.External.IssueID == "" {
		if !e.Config.AutoCreate {
			return e.skip(out, fmt.Sprintf("not linked to a %s issue", e.Client.DisplayName())), nil
		}
		created, err := e.link(ctx, inc, md, local, out)
		if err != nil {
			return nil, err
		}
		if created || opts.DryRun {
			return out, nil
		}
	}
	link := md.External
	if link.Platform != "" && link.Platform != e.Client.Name() {
		return e.skip(out, fmt.Sprintf("linked to %s, not %s", link.Platform, e.Client.Name())), nil
	}

	ext, err := e.Client.GetIssueStatus(ctx, link.IssueID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s issue %s: %w", e.Client.DisplayName(), link.IssueID, err)
	}
	e.cacheStatus(link.IssueID, ext)
	external := Projection{State: ext.State, Labels: ext.Labels, Assignees: ext.Assignees}
	out.ExternalState = ext.State

	snapshot := SnapshotProjection(link.Snapshot)
	out.State = Classify(local, external, snapshot)
	debug.Logf("statussync: %s local=%s external=%s state=%s\n", incrementID, local.State, ext.State, out.State)

	switch out.State {
	case StateLocalAhead:
		return e.push(ctx, inc, md, local, ext, out, opts, "")
	case StateExternalAhead:
		return e.pull(ctx, inc, md, ext, out, opts, "")
	case StateInSync:
		out.Action = ActionNone
		if snapshot == nil && !opts.DryRun {
			return out, e.record(incrementID, md, inc.Status, local, nil, "")
		}
		return out, nil
	}

	out.Conflicts = Diff(local, external)
	if len(out.Conflicts) == 0 {
		// Both sides moved to the same values.
		out.Action = ActionNone
		if opts.DryRun {
			return out, nil
		}
		return out, e.record(incrementID, md, inc.Status, local, nil, "")
	}

	policy := opts.Policy
	if policy == "" {
		policy = e.Config.ConflictResolution
	}
	if policy == "" {
		policy = types.ResolveLastWriteWins
	}
	out.Resolution = policy
	for i := range out.Conflicts {
		out.Conflicts[i].Resolution = policy
	}

	switch policy {
	case types.ResolvePrompt:
		return e.deferConflict(incrementID, md, out, opts)
	case types.ResolveLocalWins:
		return e.push(ctx, inc, md, local, ext, out, opts, policy)
	case types.ResolveExternalWins:
		return e.pull(ctx, inc, md, ext, out, opts, policy)
	case types.ResolveLastWriteWins:
		if e.localActivity(incrementID, md).After(ext.UpdatedAt) {
			return e.push(ctx, inc, md, local, ext, out, opts, policy)
		}
		return e.pull(ctx, inc, md, ext, out, opts, policy)
	default:
		return nil, fmt.Errorf("unknown conflict resolution %q", policy)
	}
}

// ResolveConflict applies a human decision to a deferred increment. The
// tracker is read again, so a conflict that has since disappeared is
// simply synced.
func (e *Engine) ResolveConflict(ctx context.Context, incrementID string, decision types.Resolution) (*Outcome, error) {
	if decision == types.ResolvePrompt || !decision.IsValid() {
		return nil, fmt.Errorf("cannot resolve with %q: want local-wins, external-wins or last-write-wins", decision)
	}
	md, err := e.Metadata.Load(incrementID)
	if err != nil {
		return nil, err
	}
	if md.PendingConflict == nil {
		return nil, fmt.Errorf("%s: %w", incrementID, ErrNoPendingConflict)
	}

	out, err := e.Sync(ctx, incrementID, Options{Policy: decision})
	if err != nil {
		return nil, err
	}
	if out.Action == ActionNone {
		if _, err := e.Metadata.Update(incrementID, func(md *metadata.Metadata) error {
			md.PendingConflict = nil
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// link attaches an issue to an unlinked increment through duplicate
// protection. It reports created=true when a new issue was opened; the
// caller then has nothing left to reconcile.
func (e *Engine) link(ctx context.Context, inc *types.Increment, md *metadata.Metadata, local Projection, out *Outcome) (created bool, err error) {
	out.Action = ActionCreated
	if out.DryRun {
		return true, nil
	}

	res, err := e.Protector.CreateWithProtection(ctx, e.issueRequest(inc, local.Labels))
	if err != nil {
		return false, fmt.Errorf("create %s issue for %s: %w", e.Client.DisplayName(), inc.ID, err)
	}
	iss := res.Issue
	out.Issue = &iss
	md.External = &types.ExternalLink{Platform: e.Client.Name(), IssueID: iss.ID, URL: iss.URL}

	if res.WasReused {
		e.message(fmt.Sprintf("Linked %s to existing %s issue %s", inc.ID, e.Client.DisplayName(), iss.ID))
		out.Action = ActionNone
		return false, e.Metadata.Save(inc.ID, md)
	}

	shared := Projection{State: iss.State, Labels: iss.Labels}
	if !shared.Equal(local) {
		upd := tracker.StatusUpdate{State: local.State, Labels: nonNil(local.Labels), Assignees: nonNil(local.Assignees)}
		if err := e.Client.UpdateIssueStatus(ctx, iss.ID, upd); err != nil {
			// The link is kept so the next sync pushes again instead of creating.
			_ = e.Metadata.Save(inc.ID, md)
			return false, fmt.Errorf("set initial state of %s issue %s: %w", e.Client.DisplayName(), iss.ID, err)
		}
	}
	out.ExternalState = local.State
	e.message(fmt.Sprintf("Created %s issue %s for %s", e.Client.DisplayName(), iss.ID, inc.ID))
	return true, e.record(inc.ID, md, inc.Status, local, nil, fmt.Sprintf("created issue %s", iss.ID))
}

func (e *Engine) push(ctx context.Context, inc *types.Increment, md *metadata.Metadata, local Projection, ext *types.ExternalStatus, out *Outcome, opts Options, policy types.Resolution) (*Outcome, error) {
	if local.Equal(Projection{State: ext.State, Labels: ext.Labels, Assignees: ext.Assignees}) {
		// The tracker already shows these values; only the snapshot moves.
		out.Action = ActionNone
		out.ExternalState = ext.State
		if opts.DryRun {
			return out, nil
		}
		return out, e.record(inc.ID, md, inc.Status, local, nil, "")
	}
	out.Action = ActionPushed
	out.ExternalState = local.State
	if opts.DryRun {
		return out, nil
	}

	id := md.External.IssueID
	upd := tracker.StatusUpdate{State: local.State, Labels: nonNil(local.Labels), Assignees: nonNil(local.Assignees)}
	if err := e.Client.UpdateIssueStatus(ctx, id, upd); err != nil {
		return nil, fmt.Errorf("update %s issue %s: %w", e.Client.DisplayName(), id, err)
	}

	detail := fmt.Sprintf("pushed %s → %s", ext.State, local.State)
	if err := e.record(inc.ID, md, inc.Status, local, out.Conflicts, withPolicy(detail, policy)); err != nil {
		return nil, err
	}
	e.message(fmt.Sprintf("%s: %s issue %s %s → %s", inc.ID, e.Client.DisplayName(), id, ext.State, local.State))
	e.comment(ctx, id, ext.State, local.State, "SpecWeave → "+e.Client.DisplayName(), out)
	return out, nil
}

func (e *Engine) pull(ctx context.Context, inc *types.Increment, md *metadata.Metadata, ext *types.ExternalStatus, out *Outcome, opts Options, policy types.Resolution) (*Outcome, error) {
	status, ok := e.Mapping.Local(ext.State, inc.Status)
	if !ok {
		return e.skip(out, fmt.Sprintf("%s state %q has no local status mapping", e.Client.DisplayName(), ext.State)), nil
	}
	out.Action = ActionPulled
	out.LocalStatus = status
	if opts.DryRun {
		return out, nil
	}

	md.Status = status
	md.Labels = nonNil(ext.Labels)
	md.Assignees = nonNil(ext.Assignees)
	shared := Projection{State: ext.State, Labels: md.Labels, Assignees: md.Assignees}

	detail := fmt.Sprintf("pulled %s → %s", inc.Status, status)
	if err := e.record(inc.ID, md, status, shared, out.Conflicts, withPolicy(detail, policy)); err != nil {
		return nil, err
	}
	e.message(fmt.Sprintf("%s: %s → %s from %s issue %s", inc.ID, inc.Status, status, e.Client.DisplayName(), md.External.IssueID))
	e.comment(ctx, md.External.IssueID, string(inc.Status), string(status), e.Client.DisplayName()+" → SpecWeave", out)
	return out, nil
}

func (e *Engine) deferConflict(incrementID string, md *metadata.Metadata, out *Outcome, opts Options) (*Outcome, error) {
	out.Action = ActionDeferred
	if opts.DryRun {
		return out, nil
	}
	if md.PendingConflict == nil {
		ev := e.Metadata.NewEvent(metadata.KindConflict)
		ev.Conflicts = conflictStrings(out.Conflicts)
		ev.Detail = "awaiting decision"
		md.AuditTrail = append(md.AuditTrail, ev)
	}
	md.PendingConflict = &metadata.PendingConflict{DetectedAt: e.now().UTC(), Conflicts: out.Conflicts}
	if err := e.Metadata.Save(incrementID, md); err != nil {
		return nil, err
	}
	e.warn(fmt.Sprintf("%s: conflict with %s issue %s needs a decision", incrementID, e.Client.DisplayName(), md.External.IssueID))
	return out, nil
}

// record stores the new shared snapshot, clears any pending conflict and,
// when detail is set, appends an audit event.
func (e *Engine) record(incrementID string, md *metadata.Metadata, status types.IncrementStatus, shared Projection, conflicts []types.SyncConflict, detail string) error {
	now := e.now().UTC()
	link := md.External
	link.LastSyncedAt = &now
	link.LastKnownState = shared.State
	link.Snapshot = &types.SyncSnapshot{
		LocalStatus:   status,
		ExternalState: shared.State,
		Labels:        normalizeSet(shared.Labels),
		Assignees:     normalizeSet(shared.Assignees),
		SyncedAt:      now,
	}
	md.PendingConflict = nil
	if detail != "" {
		ev := e.Metadata.NewEvent(metadata.KindStatusSync)
		ev.Timestamp = now
		ev.Updated = []string{"status"}
		ev.Conflicts = conflictStrings(conflicts)
		ev.Detail = detail
		md.AuditTrail = append(md.AuditTrail, ev)
	}
	return e.Metadata.Save(incrementID, md)
}

// comment posts the audit comment. Failures are warnings.
func (e *Engine) comment(ctx context.Context, issueID, from, to, direction string, out *Outcome) {
	body := fmt.Sprintf("Status sync: %s → %s (%s) at %s", from, to, direction, e.now().UTC().Format(time.RFC3339))
	if err := e.Client.PostComment(ctx, issueID, body); err != nil {
		msg := fmt.Sprintf("could not post sync comment on %s: %v", issueID, err)
		out.Warnings = append(out.Warnings, msg)
		e.warn(msg)
	}
}

func (e *Engine) skip(out *Outcome, reason string) *Outcome {
	out.Action = ActionSkipped
	out.Warnings = append(out.Warnings, reason)
	debug.Logf("statussync: %s skipped: %s\n", out.IncrementID, reason)
	return out
}

// localActivity returns when the local side last changed. LastActivity is
// used when it postdates the last sync; otherwise the newest modification
// time of spec.md and metadata.json stands in for edits made by hand.
func (e *Engine) localActivity(incrementID string, md *metadata.Metadata) time.Time {
	var synced, latest time.Time
	if md.External != nil && md.External.Snapshot != nil {
		synced = md.External.Snapshot.SyncedAt
	}
	if md.LastActivity != nil {
		if md.LastActivity.After(synced) {
			return *md.LastActivity
		}
		latest = *md.LastActivity
	}
	for _, path := range []string{e.Increments.SpecPath(incrementID), e.Metadata.Path(incrementID)} {
		if info, err := os.Stat(path); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

func issueBody(inc *types.Increment) string {
	body := fmt.Sprintf("SpecWeave increment `%s`\n\n- Status: %s\n", inc.ID, inc.Status)
	if inc.Priority != "" {
		body += fmt.Sprintf("- Priority: %s\n", inc.Priority)
	}
	if inc.Type != "" {
		body += fmt.Sprintf("- Type: %s\n", inc.Type)
	}
	return body
}

func withPolicy(detail string, policy types.Resolution) string {
	if policy == "" {
		return detail
	}
	return fmt.Sprintf("%s (conflict resolved by %s)", detail, policy)
}

func conflictStrings(conflicts []types.SyncConflict) []string {
	out := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, fmt.Sprintf("%s: local=%q external=%q", c.Type, c.LocalValue, c.ExternalValue))
	}
	return out
}

func nonNil(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// StatusCacheKey is the cache key of a tracker issue's last fetched status.
func StatusCacheKey(provider, issueID string) string {
	return provider + "-status-" + issueID
}

func (e *Engine) cacheStatus(issueID string, ext *types.ExternalStatus) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.Set(StatusCacheKey(e.Client.Name(), issueID), ext, 0); err != nil {
		debug.Logf("statussync: cache %s: %v\n", issueID, err)
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) message(msg string) {
	if e.OnMessage != nil {
		e.OnMessage(msg)
	}
}

func (e *Engine) warn(msg string) {
	if e.OnWarning != nil {
		e.OnWarning(msg)
	}
}
