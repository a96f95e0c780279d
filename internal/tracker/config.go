package tracker

import (
	"fmt"
	"os"
	"strings"
)

// Config holds settings for one tracker integration, read from the
// "sync.<prefix>" object of .specweave/config.json with environment
// variable fallback.
type Config struct {
	// Prefix is the provider key (e.g., "github", "jira", "ado").
	Prefix string

	// EnvPrefix overrides the environment variable prefix. Defaults to
	// the upper-cased Prefix.
	EnvPrefix string

	// Settings are the configured values. Keys are matched without regard
	// to case or underscores, so "apiToken" satisfies Get("api_token").
	Settings map[string]string
}

// NewConfig creates a tracker config.
func NewConfig(prefix string, settings map[string]string) *Config {
	return &Config{Prefix: prefix, Settings: settings}
}

// Get retrieves a setting, falling back to <ENVPREFIX>_<KEY>.
// Example: for prefix "jira", Get("api_token") reads sync.jira.apiToken
// and falls back to JIRA_API_TOKEN.
func (c *Config) Get(key string) string {
	want := normalizeKey(key)
	for k, v := range c.Settings {
		if normalizeKey(k) == want && v != "" {
			return v
		}
	}
	if v := os.Getenv(c.envVarName(key)); v != "" {
		return v
	}
	return ""
}

// GetRequired is like Get but returns an error with a hint if the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	if v := c.Get(key); v != "" {
		return v, nil
	}
	fullKey := "sync." + c.Prefix + "." + key
	return "", fmt.Errorf("%s not configured\nSet it in .specweave/config.json\nOr: export %s=VALUE", fullKey, c.envVarName(key))
}

func (c *Config) envVarName(key string) string {
	prefix := c.EnvPrefix
	if prefix == "" {
		prefix = c.Prefix
	}
	envKey := strings.ToUpper(prefix + "_" + key)
	return strings.ReplaceAll(envKey, ".", "_")
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}
