package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/trackapi"
)

// DefaultMaxItems caps how many entries a single dataset may hold.
const DefaultMaxItems = 5000

// API is the slice of the external client the cache loads from.
type API interface {
	ProjectsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]trackapi.NamedItem, error)
	ClientsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]trackapi.NamedItem, error)
	TagsPage(ctx context.Context, workspaceID string, page, pageSize int) ([]trackapi.NamedItem, error)
	UsersPage(ctx context.Context, workspaceID string, page, pageSize int) ([]trackapi.NamedItem, error)
	TasksPage(ctx context.Context, workspaceID, projectID string, page, pageSize int) ([]trackapi.NamedItem, error)
	CreateTag(ctx context.Context, workspaceID, name string) (trackapi.NamedItem, error)
}

// Cache holds one metadata snapshot per workspace. Concurrent loads
// for the same workspace are collapsed so a cold start triggers a
// single pass over the entity endpoints.
type Cache struct {
	api      API
	maxItems int

	mu      sync.RWMutex
	snaps   map[string]*Snapshot
	loading map[string]*loadCall
}

type loadCall struct {
	done chan struct{}
	snap *Snapshot
	err  error
}

// NewCache creates a cache backed by the given API. maxItems <= 0
// falls back to DefaultMaxItems.
func NewCache(api API, maxItems int) *Cache {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Cache{
		api:      api,
		maxItems: maxItems,
		snaps:    map[string]*Snapshot{},
		loading:  map[string]*loadCall{},
	}
}

// Get returns the workspace's snapshot, loading it synchronously on a
// cold miss. Concurrent callers for the same workspace share a single
// load.
func (c *Cache) Get(ctx context.Context, workspaceID string) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snaps[workspaceID]
	c.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return c.load(ctx, workspaceID)
}

// Refresh discards the cached snapshot and reloads it, returning the
// fresh snapshot. Readers keep seeing the old snapshot until the new
// one is published.
func (c *Cache) Refresh(ctx context.Context, workspaceID string) (*Snapshot, error) {
	return c.load(ctx, workspaceID)
}

// Invalidate drops a workspace's snapshot without reloading it.
func (c *Cache) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.snaps, workspaceID)
	c.mu.Unlock()
}

// AddTag creates a tag through the API and publishes it into the
// cached snapshot so subsequent lookups resolve it without a reload.
func (c *Cache) AddTag(ctx context.Context, workspaceID, name string) (string, error) {
	created, err := c.api.CreateTag(ctx, workspaceID, name)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if snap := c.snaps[workspaceID]; snap != nil {
		c.snaps[workspaceID] = snap.withTag(created.ID, created.Name)
	}
	c.mu.Unlock()
	return created.ID, nil
}

func (c *Cache) load(ctx context.Context, workspaceID string) (*Snapshot, error) {
	c.mu.Lock()
	if call := c.loading[workspaceID]; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &loadCall{done: make(chan struct{})}
	c.loading[workspaceID] = call
	c.mu.Unlock()

	call.snap, call.err = c.buildSnapshot(ctx, workspaceID)

	c.mu.Lock()
	delete(c.loading, workspaceID)
	if call.err == nil {
		c.snaps[workspaceID] = call.snap
	}
	c.mu.Unlock()
	close(call.done)

	return call.snap, call.err
}

func (c *Cache) buildSnapshot(ctx context.Context, workspaceID string) (*Snapshot, error) {
	b := newBuilder(workspaceID, c.maxItems)
	snap := b.snap

	type dataset struct {
		name  string
		names map[string]string
		ids   map[string]string
		fetch func(ctx context.Context, workspaceID string, page, pageSize int) ([]trackapi.NamedItem, error)
	}
	datasets := []dataset{
		{DatasetProjects, snap.projectNames, snap.projectIDs, c.api.ProjectsPage},
		{DatasetClients, snap.clientNames, snap.clientIDs, c.api.ClientsPage},
		{DatasetTags, snap.tagNames, snap.tagIDs, c.api.TagsPage},
		{DatasetUsers, snap.userNames, snap.userIDs, c.api.UsersPage},
	}

	for _, ds := range datasets {
		for page := 1; ; page++ {
			items, err := ds.fetch(ctx, workspaceID, page, trackapi.DefaultPageSize)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s for workspace %s: %w", ds.name, workspaceID, err)
			}
			if !b.addAll(ds.name, ds.names, ds.ids, toEntries(items)) {
				metrics.RecordCacheTruncation(ctx, ds.name)
				logger.Warn("workspace dataset truncated at item cap",
					"workspace_id", workspaceID, "dataset", ds.name, "max_items", c.maxItems)
				break
			}
			if len(items) < trackapi.DefaultPageSize {
				break
			}
		}
	}

	// The task cap bounds the whole enumeration; once it is hit no
	// further project is scanned.
	tasksCapped := false
	for projectID := range snap.projectNames {
		if tasksCapped {
			break
		}
		for page := 1; ; page++ {
			items, err := c.api.TasksPage(ctx, workspaceID, projectID, page, trackapi.DefaultPageSize)
			if err != nil {
				return nil, fmt.Errorf("failed to load tasks for project %s: %w", projectID, err)
			}
			if !b.addTasks(projectID, toEntries(items)) {
				metrics.RecordCacheTruncation(ctx, DatasetTasks)
				logger.Warn("task enumeration truncated at item cap",
					"workspace_id", workspaceID, "max_items", c.maxItems)
				tasksCapped = true
				break
			}
			if len(items) < trackapi.DefaultPageSize {
				break
			}
		}
	}

	logger.Debug("workspace snapshot loaded",
		"workspace_id", workspaceID,
		"projects", len(snap.projectNames),
		"clients", len(snap.clientNames),
		"tags", len(snap.tagNames),
		"users", len(snap.userNames))
	return snap, nil
}

func toEntries(items []trackapi.NamedItem) []entry {
	entries := make([]entry, 0, len(items))
	for _, it := range items {
		name := it.Name
		if name == "" {
			name = it.Email
		}
		entries = append(entries, entry{id: it.ID, name: name})
	}
	return entries
}
