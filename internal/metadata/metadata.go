// Package metadata reads and writes the per-increment metadata.json file:
// status, external tracker link, pending conflicts and a bounded audit trail.
package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/utils"
)

// FileName is the metadata file inside each increment directory.
const FileName = "metadata.json"

// DefaultAuditLimit bounds the audit trail kept per increment.
const DefaultAuditLimit = 20

// Audit event kinds
const (
	KindACSync     = "ac-sync"
	KindStatusSync = "status-sync"
	KindConflict   = "conflict"
)

// Event is one audit trail entry.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Updated   []string  `json:"updated,omitempty"`
	Conflicts []string  `json:"conflicts,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// PendingConflict is a conflict waiting for a human decision.
type PendingConflict struct {
	DetectedAt time.Time            `json:"detectedAt"`
	Conflicts  []types.SyncConflict `json:"conflicts"`
}

// Metadata is the decoded metadata.json. Fields this package does not know
// about are kept and written back unchanged.
type Metadata struct {
	ID             string                `json:"id,omitempty"`
	Status         types.IncrementStatus `json:"status,omitempty"`
	Type           string                `json:"type,omitempty"`
	Priority       string                `json:"priority,omitempty"`
	Title          string                `json:"title,omitempty"`
	Created        *time.Time            `json:"created,omitempty"`
	LastActivity   *time.Time            `json:"lastActivity,omitempty"`
	Labels         []string              `json:"labels,omitempty"`
	Assignees      []string              `json:"assignees,omitempty"`
	PreserveFormat bool                  `json:"preserveFormat,omitempty"`

	External        *types.ExternalLink `json:"external,omitempty"`
	PendingConflict *PendingConflict    `json:"pendingConflict,omitempty"`
	AuditTrail      []Event             `json:"auditTrail,omitempty"`

	extra map[string]json.RawMessage
}

var knownKeys = []string{
	"id", "status", "type", "priority", "title", "created", "lastActivity",
	"labels", "assignees", "preserveFormat", "external", "pendingConflict", "auditTrail",
}

// Store manages metadata.json files under <root>/.specweave/increments.
type Store struct {
	Root       string
	AuditLimit int
	Now        func() time.Time
}

// NewStore creates a store rooted at the project root.
func NewStore(root string) *Store {
	return &Store{Root: root, AuditLimit: DefaultAuditLimit, Now: time.Now}
}

// Path returns the metadata.json path for an increment.
func (s *Store) Path(incrementID string) string {
	return filepath.Join(s.Root, ".specweave", "increments", incrementID, FileName)
}

// Load reads an increment's metadata. A missing file yields empty metadata.
func (s *Store) Load(incrementID string) (*Metadata, error) {
	data, err := os.ReadFile(s.Path(incrementID))
	if errors.Is(err, os.ErrNotExist) {
		return &Metadata{ID: incrementID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", incrementID, err)
	}
	return decode(data)
}

func decode(data []byte) (*Metadata, error) {
	var md Metadata
	if len(bytes.TrimSpace(data)) == 0 {
		return &md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	for _, k := range knownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		md.extra = raw
	}
	return &md, nil
}

// Save writes metadata atomically, trimming the audit trail to the limit.
func (s *Store) Save(incrementID string, md *Metadata) error {
	if md.ID == "" {
		md.ID = incrementID
	}
	md.AuditTrail = trim(md.AuditTrail, s.limit())

	known, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	merged := make(map[string]json.RawMessage, len(md.extra)+len(knownKeys))
	for k, v := range md.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	out = append(out, '\n')
	if err := utils.AtomicWriteFile(s.Path(incrementID), out, 0o644); err != nil {
		return fmt.Errorf("write metadata for %s: %w", incrementID, err)
	}
	return nil
}

// Update loads, mutates and saves metadata in one step. A change to the
// status, labels or assignees stamps LastActivity unless fn set it.
func (s *Store) Update(incrementID string, fn func(*Metadata) error) (*Metadata, error) {
	md, err := s.Load(incrementID)
	if err != nil {
		return nil, err
	}
	status, activity := md.Status, md.LastActivity
	labels := slices.Clone(md.Labels)
	assignees := slices.Clone(md.Assignees)
	if err := fn(md); err != nil {
		return nil, err
	}
	if md.LastActivity == activity && (md.Status != status ||
		!slices.Equal(md.Labels, labels) || !slices.Equal(md.Assignees, assignees)) {
		md.Touch(s.now())
	}
	if err := s.Save(incrementID, md); err != nil {
		return nil, err
	}
	return md, nil
}

// NewEvent builds an audit event with a fresh id and the store's clock.
func (s *Store) NewEvent(kind string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Timestamp: s.now().UTC()}
}

// AppendAudit appends an event to the increment's audit trail.
func (s *Store) AppendAudit(incrementID string, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now().UTC()
	}
	_, err := s.Update(incrementID, func(md *Metadata) error {
		md.AuditTrail = append(md.AuditTrail, ev)
		return nil
	})
	return err
}

// Touch records local activity, which last-write-wins compares against the
// tracker's update time.
func (md *Metadata) Touch(now time.Time) {
	t := now.UTC()
	md.LastActivity = &t
}

func (s *Store) limit() int {
	if s.AuditLimit <= 0 {
		return DefaultAuditLimit
	}
	return s.AuditLimit
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// trim keeps the most recent n events.
func trim(events []Event, n int) []Event {
	if len(events) <= n {
		return events
	}
	return append([]Event(nil), events[len(events)-n:]...)
}
