// Package config loads .specweave/config.json into a typed Config.
//
// The file may contain comments and trailing commas. Values can be
// overridden from the environment as SPECWEAVE_<SECTION>_<KEY>, for example
// SPECWEAVE_STATUSSYNC_CONFLICTRESOLUTION=local-wins.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"github.com/specweave/specweave/internal/types"
	"github.com/specweave/specweave/internal/utils"
)

// FileName is the config file inside .specweave.
const FileName = "config.json"

// Config is the fully decoded project configuration.
type Config struct {
	Root       string
	StatusSync StatusSync
	Sync       Sync
	Limits     Limits
	Cache      Cache
	Audit      Audit
}

// StatusSync controls the bidirectional status sync engine.
type StatusSync struct {
	Enabled            bool
	AutoSync           bool
	PromptUser         bool
	AutoCreate         bool
	ConflictResolution types.Resolution
	IssuePrefix        string
	// Mappings holds per-platform overrides, local status -> tracker state.
	Mappings map[string]map[string]string
}

// Sync selects the tracker and carries its raw settings.
type Sync struct {
	Provider string
	// Settings holds the "sync.<provider>" object for each provider, with
	// keys lower-cased.
	Settings map[string]map[string]string
}

// Limits bounds work in progress.
type Limits struct {
	HardCap int
}

// Cache configures the tracker metadata cache.
type Cache struct {
	Dir string
	TTL time.Duration
}

// Audit bounds the per-increment audit trail.
type Audit struct {
	Limit int
}

// Path returns the config file path for a project root.
func Path(root string) string {
	return filepath.Join(root, utils.ProjectDirName, FileName)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("SPECWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("statusSync.enabled", false)
	v.SetDefault("statusSync.autoSync", false)
	v.SetDefault("statusSync.promptUser", true)
	v.SetDefault("statusSync.autoCreate", false)
	v.SetDefault("statusSync.conflictResolution", string(types.ResolveLastWriteWins))
	v.SetDefault("statusSync.issuePrefix", "FS")
	v.SetDefault("sync.provider", "")
	v.SetDefault("limits.hardCap", 2)
	v.SetDefault("cache.dir", filepath.Join(utils.ProjectDirName, "cache"))
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("audit.limit", 20)
	return v
}

// Load reads the project config. A missing file yields the defaults.
func Load(root string) (*Config, error) {
	v := newViper()

	data, err := os.ReadFile(Path(root))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
			return nil, fmt.Errorf("parse %s: %w", Path(root), err)
		}
	}

	return decode(root, v)
}

func decode(root string, v *viper.Viper) (*Config, error) {
	policy, err := types.ParseResolution(v.GetString("statusSync.conflictResolution"))
	if err != nil {
		return nil, fmt.Errorf("statusSync.conflictResolution: %w", err)
	}

	cfg := &Config{
		Root: root,
		StatusSync: StatusSync{
			Enabled:            v.GetBool("statusSync.enabled"),
			AutoSync:           v.GetBool("statusSync.autoSync"),
			PromptUser:         v.GetBool("statusSync.promptUser"),
			AutoCreate:         v.GetBool("statusSync.autoCreate"),
			ConflictResolution: policy,
			IssuePrefix:        v.GetString("statusSync.issuePrefix"),
			Mappings:           make(map[string]map[string]string),
		},
		Sync: Sync{
			Provider: strings.ToLower(v.GetString("sync.provider")),
			Settings: make(map[string]map[string]string),
		},
		Limits: Limits{HardCap: v.GetInt("limits.hardCap")},
		Cache: Cache{
			Dir: v.GetString("cache.dir"),
			TTL: v.GetDuration("cache.ttl"),
		},
		Audit: Audit{Limit: v.GetInt("audit.limit")},
	}

	for platform := range v.GetStringMap("statusSync.statusMappings") {
		m := v.GetStringMapString("statusSync.statusMappings." + platform)
		for local := range m {
			if _, err := types.ParseIncrementStatus(local); err != nil {
				return nil, fmt.Errorf("statusSync.statusMappings.%s: %w", platform, err)
			}
		}
		cfg.StatusSync.Mappings[platform] = m
	}

	for provider, raw := range v.GetStringMap("sync") {
		if _, ok := raw.(map[string]any); !ok {
			continue
		}
		cfg.Sync.Settings[provider] = v.GetStringMapString("sync." + provider)
	}

	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if !filepath.IsAbs(cfg.Cache.Dir) {
		cfg.Cache.Dir = filepath.Join(root, cfg.Cache.Dir)
	}
	if cfg.StatusSync.IssuePrefix == "" {
		cfg.StatusSync.IssuePrefix = "FS"
	}
	return cfg, nil
}

// ProviderSettings returns the settings object for a provider, never nil.
func (c *Config) ProviderSettings(provider string) map[string]string {
	if s, ok := c.Sync.Settings[strings.ToLower(provider)]; ok {
		return s
	}
	return map[string]string{}
}
