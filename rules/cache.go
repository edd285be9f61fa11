package rules

import (
	"sync"
	"time"
)

// CachedStore wraps a Store with a per-workspace TTL cache of the
// enabled-rules list, so a webhook burst does not turn into a query
// per event. Writes go straight through and invalidate the workspace.
type CachedStore struct {
	Store

	ttl     time.Duration
	entries map[string]cacheEntry
	mu      sync.RWMutex
}

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// NewCachedStore wraps store with an enabled-rules cache. A ttl of 0
// disables caching entirely.
func NewCachedStore(store Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store:   store,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedStore) GetEnabled(workspaceID string) ([]*Rule, error) {
	if c.ttl <= 0 {
		return c.Store.GetEnabled(workspaceID)
	}

	c.mu.RLock()
	entry, ok := c.entries[workspaceID]
	c.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) <= c.ttl {
		return entry.rules, nil
	}

	rules, err := c.Store.GetEnabled(workspaceID)
	if err != nil {
		// Serve nothing rather than stale data on store failure; the
		// stale entry stays for the next attempt.
		return nil, err
	}

	c.mu.Lock()
	c.entries[workspaceID] = cacheEntry{rules: rules, cachedAt: time.Now()}
	c.mu.Unlock()
	return rules, nil
}

func (c *CachedStore) Save(workspaceID string, rule *Rule) error {
	if err := c.Store.Save(workspaceID, rule); err != nil {
		return err
	}
	c.Invalidate(workspaceID)
	return nil
}

func (c *CachedStore) Delete(workspaceID, ruleID string) (bool, error) {
	deleted, err := c.Store.Delete(workspaceID, ruleID)
	if err == nil && deleted {
		c.Invalidate(workspaceID)
	}
	return deleted, err
}

// Invalidate clears the cached enabled-rules list for a workspace.
func (c *CachedStore) Invalidate(workspaceID string) {
	c.mu.Lock()
	delete(c.entries, workspaceID)
	c.mu.Unlock()
}
