// Package cache is a file-backed key/value cache for tracker metadata
// (projects, boards, area paths) shared across CLI invocations.
//
// Each key is stored in its own JSON file. TTLs are recorded with every
// entry but Get never expires anything on its own; callers that care about
// freshness use GetFresh, and stale files are removed by DeleteOlderThan.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/specweave/specweave/internal/utils"
)

// DefaultTTL is used when Set is called with a zero ttl.
const DefaultTTL = 24 * time.Hour

const fileExt = ".json"

// entry is the on-disk representation of one cached value.
type entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
	TTLMs    int64           `json:"ttlMs"`
}

func (e *entry) expired(now time.Time) bool {
	if e.TTLMs <= 0 {
		return false
	}
	return now.After(e.StoredAt.Add(time.Duration(e.TTLMs) * time.Millisecond))
}

// Manager reads and writes cache entries under a directory.
type Manager struct {
	dir        string
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a cache manager rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Manager {
	m := &Manager{dir: dir, defaultTTL: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the cache directory.
func (m *Manager) Dir() string { return m.dir }

// Get returns the raw JSON value for key, or nil when absent. Corrupt files
// are treated as misses.
func (m *Manager) Get(key string) (json.RawMessage, error) {
	e, err := m.load(key)
	if err != nil || e == nil {
		return nil, err
	}
	return e.Value, nil
}

// GetFresh is Get, but returns nil for entries whose TTL has elapsed.
func (m *Manager) GetFresh(key string) (json.RawMessage, error) {
	e, err := m.load(key)
	if err != nil || e == nil {
		return nil, err
	}
	if e.expired(m.now()) {
		return nil, nil
	}
	return e.Value, nil
}

// GetInto decodes the cached value into v. It reports whether a value was found.
func (m *Manager) GetInto(key string, v any) (bool, error) {
	raw, err := m.Get(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return true, nil
}

// GetFreshInto is GetInto restricted to entries whose TTL has not elapsed.
func (m *Manager) GetFreshInto(key string, v any) (bool, error) {
	raw, err := m.GetFresh(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key, replacing any previous entry.
func (m *Manager) Set(key string, value any, ttl time.Duration) error {
	if key == "" {
		return errors.New("cache key must not be empty")
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	data, err := json.Marshal(entry{
		Key:      key,
		Value:    raw,
		StoredAt: m.now().UTC(),
		TTLMs:    ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	return utils.AtomicWriteFile(m.path(key), data, 0o644)
}

// Delete removes one entry. Deleting a missing key is not an error.
func (m *Manager) Delete(key string) error {
	err := os.Remove(m.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache entry %q: %w", key, err)
	}
	return nil
}

// DeleteOlderThan removes every entry stored strictly before now-age and
// returns how many were removed. Unreadable files are left in place.
func (m *Manager) DeleteOlderThan(age time.Duration) (int, error) {
	cutoff := m.now().Add(-age)
	files, err := m.files()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		e, err := readEntry(f)
		if err != nil {
			continue
		}
		if !e.StoredAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("delete %s: %w", filepath.Base(f), err)
		}
		removed++
	}
	return removed, nil
}

// ClearAll removes every cache file.
func (m *Manager) ClearAll() error {
	files, err := m.files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", filepath.Base(f), err)
		}
	}
	return nil
}

func (m *Manager) load(key string) (*entry, error) {
	e, err := readEntry(m.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func readEntry(path string) (*entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (m *Manager) files() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var out []string
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileExt) || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(m.dir, de.Name()))
	}
	return out, nil
}

// path maps a key to its file. Keys that are not filesystem safe get a
// digest suffix so distinct keys never share a file.
func (m *Manager) path(key string) string {
	return filepath.Join(m.dir, FileName(key))
}

// FileName returns the cache file name for a key.
func FileName(key string) string {
	safe := sanitize(key)
	if safe != key {
		sum := blake3.Sum256([]byte(key))
		safe = safe + "-" + hex.EncodeToString(sum[:6])
	}
	return safe + fileExt
}

func sanitize(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" || strings.HasPrefix(s, ".") {
		s = "_" + s
	}
	return s
}
