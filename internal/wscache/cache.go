// Package wscache is the cache-aside layer over per-workspace index and
// model settings. Reads hit the cache first; misses fall through to the
// relational store and populate the cache fire-and-forget. A cache outage
// degrades to "always fetch from source", never to request failure.
package wscache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hindsight-dev/hindsight/internal/metrics"
	"github.com/hindsight-dev/hindsight/internal/model"
)

// ConfigSource is the source-of-truth read, backed by the workspaces table.
type ConfigSource interface {
	GetWorkspaceConfig(workspaceID string) (*model.WorkspaceConfig, error)
}

// DefaultTTL bounds staleness; there is no dependency tracking, config
// changes are pushed through Invalidate.
const DefaultTTL = 5 * time.Minute

type entry struct {
	cfg       *model.WorkspaceConfig
	expiresAt time.Time
}

// Cache is a TTL cache of workspace configs.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]entry
	ttl    time.Duration
	source ConfigSource

	now func() time.Time // injectable clock for tests
}

// New creates a cache over the given source. ttl <= 0 uses DefaultTTL.
func New(source ConfigSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		items:  make(map[string]entry),
		ttl:    ttl,
		source: source,
		now:    time.Now,
	}
}

// Get returns the workspace config, serving from cache when fresh. Nil
// config with nil error means the workspace is unconfigured.
func (c *Cache) Get(workspaceID string) (*model.WorkspaceConfig, error) {
	c.mu.RLock()
	e, ok := c.items[workspaceID]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		metrics.ConfigCacheLookups.WithLabelValues("hit").Inc()
		return e.cfg, nil
	}
	metrics.ConfigCacheLookups.WithLabelValues("miss").Inc()

	cfg, err := c.source.GetWorkspaceConfig(workspaceID)
	if err != nil {
		return nil, err
	}

	// Write-through is fire-and-forget relative to the caller; a failed
	// cache write only costs the next caller a source read.
	go c.put(workspaceID, cfg)

	return cfg, nil
}

func (c *Cache) put(workspaceID string, cfg *model.WorkspaceConfig) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("config cache write failed", "workspace", workspaceID, "panic", r)
		}
	}()
	c.mu.Lock()
	c.items[workspaceID] = entry{cfg: cfg, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops a workspace's cached config. Called by the
// workspace-settings collaborator on config change.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.items, workspaceID)
	c.mu.Unlock()
}
