package testutil

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/specweave/specweave/internal/tracker"
	"github.com/specweave/specweave/internal/types"
)

type memIssue struct {
	issue     tracker.Issue
	status    types.ExternalStatus
	hiddenFor int
}

// MemoryTracker is a concurrency-safe in-memory tracker.Client.
//
// SearchLag makes newly created issues invisible to the next N searches,
// which models the eventually consistent search indexes of real trackers.
type MemoryTracker struct {
	mu       sync.Mutex
	name     string
	next     int
	issues   map[string]*memIssue
	comments map[string][]string
	failures map[string]error
	calls    map[string]int
	now      func() time.Time

	SearchLag int

	// BeforeCreate, when set, runs at the start of CreateIssue without the
	// lock held. Concurrency tests use it as a barrier.
	BeforeCreate func()

	// Cache is whatever SetCache received.
	Cache tracker.Cache
}

// SetCache records the cache handed to the tracker.
func (m *MemoryTracker) SetCache(c tracker.Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cache = c
}

// NewMemoryTracker creates an empty tracker. Each clock reading advances
// by one second so creation order is observable through CreatedAt.
func NewMemoryTracker(name string) *MemoryTracker {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m := &MemoryTracker{
		name:     name,
		issues:   make(map[string]*memIssue),
		comments: make(map[string][]string),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m
}

// SetClock replaces the tracker's clock. It is called with the lock held.
func (m *MemoryTracker) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailOn makes every call of op fail with err until cleared with a nil err.
// Ops: search, create, get, update, comment, close. "close:<id>" fails
// only that issue.
func (m *MemoryTracker) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op was invoked.
func (m *MemoryTracker) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryTracker) enter(op string, keys ...string) error {
	m.calls[op]++
	for _, k := range append([]string{op}, keys...) {
		if err, ok := m.failures[k]; ok {
			return &tracker.APIError{Tracker: m.name, Op: op, StatusCode: 500, Err: err}
		}
	}
	return nil
}

var _ tracker.Client = (*MemoryTracker)(nil)

func (m *MemoryTracker) Name() string        { return m.name }
func (m *MemoryTracker) DisplayName() string { return strings.ToUpper(m.name[:1]) + m.name[1:] }

func (m *MemoryTracker) Init(context.Context, *tracker.Config) error { return nil }

func (m *MemoryTracker) SearchIssuesByTitlePattern(ctx context.Context, pattern string) ([]tracker.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("search"); err != nil {
		return nil, err
	}
	var out []tracker.Issue
	for _, mi := range m.issues {
		if mi.hiddenFor > 0 {
			mi.hiddenFor--
			continue
		}
		if strings.Contains(mi.issue.Title, pattern) {
			out = append(out, mi.issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryTracker) CreateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.Issue, error) {
	if m.BeforeCreate != nil {
		m.BeforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("create"); err != nil {
		return nil, err
	}
	iss := m.add(req.Title, m.now(), false, req.Labels)
	m.issues[iss.ID].hiddenFor = m.SearchLag
	return &iss, nil
}

// Seed inserts an issue directly, bypassing failures and search lag.
func (m *MemoryTracker) Seed(title string, createdAt time.Time, closed bool) tracker.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(title, createdAt, closed, nil)
}

func (m *MemoryTracker) add(title string, createdAt time.Time, closed bool, labels []string) tracker.Issue {
	m.next++
	id := strconv.Itoa(m.next)
	state := "open"
	if closed {
		state = "closed"
	}
	iss := tracker.Issue{
		ID:        id,
		Number:    m.next,
		Title:     title,
		State:     state,
		CreatedAt: createdAt,
		URL:       fmt.Sprintf("https://tracker.test/%s/issues/%s", m.name, id),
		Labels:    append([]string(nil), labels...),
		Closed:    closed,
	}
	m.issues[id] = &memIssue{
		issue:  iss,
		status: types.ExternalStatus{State: state, Labels: iss.Labels, UpdatedAt: createdAt},
	}
	return iss
}

func (m *MemoryTracker) GetIssueStatus(ctx context.Context, id string) (*types.ExternalStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("get"); err != nil {
		return nil, err
	}
	mi, ok := m.issues[id]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	st := mi.status
	st.Labels = append([]string(nil), st.Labels...)
	st.Assignees = append([]string(nil), st.Assignees...)
	return &st, nil
}

func (m *MemoryTracker) UpdateIssueStatus(ctx context.Context, id string, upd tracker.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("update"); err != nil {
		return err
	}
	mi, ok := m.issues[id]
	if !ok {
		return tracker.ErrNotFound
	}
	m.apply(mi, upd)
	return nil
}

func (m *MemoryTracker) apply(mi *memIssue, upd tracker.StatusUpdate) {
	if upd.State != "" {
		mi.status.State = upd.State
		mi.issue.State = upd.State
		mi.issue.Closed = tracker.SameState(upd.State, "closed")
	}
	if upd.Labels != nil {
		mi.status.Labels = append([]string(nil), upd.Labels...)
		mi.issue.Labels = mi.status.Labels
	}
	if upd.Assignees != nil {
		mi.status.Assignees = append([]string(nil), upd.Assignees...)
	}
	mi.status.UpdatedAt = m.now()
}

// SetExternal simulates an edit made directly in the tracker UI.
func (m *MemoryTracker) SetExternal(id string, upd tracker.StatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mi, ok := m.issues[id]; ok {
		m.apply(mi, upd)
	}
}

func (m *MemoryTracker) PostComment(ctx context.Context, id, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("comment"); err != nil {
		return err
	}
	if _, ok := m.issues[id]; !ok {
		return tracker.ErrNotFound
	}
	m.comments[id] = append(m.comments[id], body)
	return nil
}

func (m *MemoryTracker) CloseAsDuplicate(ctx context.Context, id, canonicalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("close", "close:"+id); err != nil {
		return err
	}
	mi, ok := m.issues[id]
	if !ok {
		return tracker.ErrNotFound
	}
	if mi.issue.Closed {
		return nil
	}
	m.comments[id] = append(m.comments[id], "Duplicate of #"+canonicalID)
	m.apply(mi, tracker.StatusUpdate{State: "closed"})
	return nil
}

// Issue returns a copy of an issue.
func (m *MemoryTracker) Issue(id string) (tracker.Issue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.issues[id]
	if !ok {
		return tracker.Issue{}, false
	}
	return mi.issue, true
}

// OpenIssues returns open issues whose title contains pattern, ignoring search lag.
func (m *MemoryTracker) OpenIssues(pattern string) []tracker.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracker.Issue
	for _, mi := range m.issues {
		if !mi.issue.Closed && strings.Contains(mi.issue.Title, pattern) {
			out = append(out, mi.issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Comments returns the comments posted to an issue.
func (m *MemoryTracker) Comments(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.comments[id]...)
}
