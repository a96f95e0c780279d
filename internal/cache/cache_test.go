package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	return New(t.TempDir(), WithClock(clock.Now)), clock
}

func TestSetGet(t *testing.T) {
	m, _ := newTestManager(t)

	raw, err := m.Get("jira-projects")
	require.NoError(t, err)
	assert.Nil(t, raw)

	require.NoError(t, m.Set("jira-projects", []string{"PROJ", "OPS"}, time.Hour))

	var got []string
	found, err := m.GetInto("jira-projects", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"PROJ", "OPS"}, got)

	require.NoError(t, m.Set("jira-projects", []string{"NEW"}, 0))
	found, err = m.GetInto("jira-projects", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"NEW"}, got)
}

func TestGetDoesNotExpire(t *testing.T) {
	m, clock := newTestManager(t)
	require.NoError(t, m.Set("ado-areas", map[string]int{"a": 1}, time.Minute))
	clock.Advance(time.Hour)

	raw, err := m.Get("ado-areas")
	require.NoError(t, err)
	assert.NotNil(t, raw, "Get must ignore TTL")

	raw, err = m.GetFresh("ado-areas")
	require.NoError(t, err)
	assert.Nil(t, raw, "GetFresh must honour TTL")
}

func TestGetFreshInto(t *testing.T) {
	m, clock := newTestManager(t)
	require.NoError(t, m.Set("jira-transitions-PROJ-Task", map[string]string{"done": "31"}, time.Hour))

	got := map[string]string{}
	found, err := m.GetFreshInto("jira-transitions-PROJ-Task", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "31", got["done"])

	clock.Advance(2 * time.Hour)
	stale := map[string]string{}
	found, err = m.GetFreshInto("jira-transitions-PROJ-Task", &stale)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, stale)
}

func TestUnsafeKeysDoNotCollide(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Set("github-o/r", 1, 0))
	require.NoError(t, m.Set("github-o_r", 2, 0))
	require.NoError(t, m.Set("../escape", 3, 0))

	var a, b, c int
	_, err := m.GetInto("github-o/r", &a)
	require.NoError(t, err)
	_, err = m.GetInto("github-o_r", &b)
	require.NoError(t, err)
	_, err = m.GetInto("../escape", &c)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, []int{a, b, c})

	assert.Equal(t, "github-o_r.json", FileName("github-o_r"))
	assert.True(t, strings.HasPrefix(FileName("github-o/r"), "github-o_r-"))

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, os.MkdirAll(m.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "jira-broken.json"), []byte("{not json"), 0o644))

	raw, err := m.Get("jira-broken")
	require.NoError(t, err)
	assert.Nil(t, raw)

	st, err := m.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalFiles)
	assert.Equal(t, 1, st.Corrupt)
}

func TestDeleteOlderThanIsStrict(t *testing.T) {
	m, clock := newTestManager(t)

	require.NoError(t, m.Set("jira-old", "x", 0))
	clock.Advance(time.Hour)
	require.NoError(t, m.Set("jira-boundary", "y", 0))
	clock.Advance(time.Hour)
	require.NoError(t, m.Set("ado-new", "z", 0))

	// jira-boundary is exactly one hour old: not strictly older, so kept.
	removed, err := m.DeleteOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for key, want := range map[string]bool{"jira-old": false, "jira-boundary": true, "ado-new": true} {
		raw, err := m.Get(key)
		require.NoError(t, err)
		assert.Equal(t, want, raw != nil, key)
	}
}

func TestClearAllAndStats(t *testing.T) {
	m, clock := newTestManager(t)

	st, err := m.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalFiles)
	assert.Nil(t, st.OldestCache)

	first := clock.Now()
	require.NoError(t, m.Set("jira-projects", []string{"A"}, 0))
	clock.Advance(10 * time.Minute)
	require.NoError(t, m.Set("jira-boards", []string{"B"}, 0))
	require.NoError(t, m.Set("ado-areas", []string{"C"}, 0))
	clock.Advance(5 * time.Minute)

	st, err = m.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, 2, st.Providers["jira"].Files)
	assert.Equal(t, 1, st.Providers["ado"].Files)
	assert.Positive(t, st.TotalSize)
	assert.Equal(t, st.Providers["jira"].Size+st.Providers["ado"].Size, st.TotalSize)
	require.NotNil(t, st.OldestCache)
	assert.True(t, st.OldestCache.Equal(first))
	assert.Equal(t, 15*time.Minute, st.OldestCacheAge)

	require.NoError(t, m.ClearAll())
	st, err = m.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalFiles)
}

func TestProvider(t *testing.T) {
	assert.Equal(t, "jira", Provider("jira-projects-PROJ"))
	assert.Equal(t, "github", Provider("github"))
	assert.Equal(t, "-x", Provider("-x"))
}
