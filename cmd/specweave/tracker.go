package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/specweave/specweave/internal/cache"
	"github.com/specweave/specweave/internal/config"
	"github.com/specweave/specweave/internal/statussync"
	"github.com/specweave/specweave/internal/tracker"
)

// envPrefixes maps providers whose secrets use a different environment
// prefix than their config key.
var envPrefixes = map[string]string{
	"ado": "AZURE_DEVOPS",
}

var errNoProvider = errors.New("no tracker configured\nSet sync.provider to github, jira or ado in .specweave/config.json")

// newTrackerClient creates and initializes the tracker named by
// sync.provider.
func newTrackerClient(ctx context.Context, cfg *config.Config) (tracker.Client, error) {
	provider := cfg.Sync.Provider
	if provider == "" {
		return nil, errNoProvider
	}
	client, err := tracker.New(provider)
	if err != nil {
		return nil, err
	}
	tc := tracker.NewConfig(provider, cfg.ProviderSettings(provider))
	tc.EnvPrefix = envPrefixes[provider]
	if err := client.Init(ctx, tc); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", client.DisplayName(), err)
	}
	return client, nil
}

// newEngine builds the status sync engine for the configured tracker, with
// messages and warnings routed to the terminal.
func (a *app) newEngine(ctx context.Context) (*statussync.Engine, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	client, err := a.newClient(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	store := a.cache()
	if cu, ok := client.(tracker.CacheUser); ok {
		cu.SetCache(store)
	}
	e := statussync.NewEngine(client, a.incs, a.cfg.StatusSync)
	e.Cache = store
	e.OnMessage = a.message
	e.OnWarning = a.warn
	e.Protector.OnMessage = a.message
	e.Protector.OnWarning = a.warn
	return e, nil
}

func (a *app) cache() *cache.Manager {
	return cache.New(a.cfg.Cache.Dir, cache.WithDefaultTTL(a.cfg.Cache.TTL))
}
