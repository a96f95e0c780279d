package cache

import (
	"os"
	"strings"
	"time"
)

// ProviderStats is the per-provider share of the cache.
type ProviderStats struct {
	Files int   `json:"files"`
	Size  int64 `json:"size"`
}

// Stats summarizes the cache directory.
type Stats struct {
	TotalFiles     int                      `json:"totalFiles"`
	TotalSize      int64                    `json:"totalSize"`
	Providers      map[string]ProviderStats `json:"providers"`
	OldestCache    *time.Time               `json:"oldestCache,omitempty"`
	OldestCacheAge time.Duration            `json:"oldestCacheAge"`
	Corrupt        int                      `json:"corrupt,omitempty"`
}

// GetStats counts files, bytes and entries per provider. The provider is
// the key prefix before the first '-' ("jira-projects" -> "jira").
func (m *Manager) GetStats() (*Stats, error) {
	st := &Stats{Providers: make(map[string]ProviderStats)}
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	now := m.now()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		e, err := readEntry(f)
		if err != nil {
			st.Corrupt++
			continue
		}
		st.TotalFiles++
		st.TotalSize += info.Size()

		p := Provider(e.Key)
		ps := st.Providers[p]
		ps.Files++
		ps.Size += info.Size()
		st.Providers[p] = ps

		if st.OldestCache == nil || e.StoredAt.Before(*st.OldestCache) {
			t := e.StoredAt
			st.OldestCache = &t
		}
	}
	if st.OldestCache != nil {
		st.OldestCacheAge = now.Sub(*st.OldestCache)
	}
	return st, nil
}

// Provider extracts the provider prefix from a cache key.
func Provider(key string) string {
	if i := strings.IndexByte(key, '-'); i > 0 {
		return key[:i]
	}
	return key
}
