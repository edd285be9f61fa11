package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a rule does not exist in the store.
var ErrNotFound = errors.New("rule not found")

// Store persists rules scoped to a workspace. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save inserts or replaces a rule in the workspace.
	Save(workspaceID string, rule *Rule) error

	// Get retrieves one rule, or ErrNotFound.
	Get(workspaceID, ruleID string) (*Rule, error)

	// GetAll returns every rule in the workspace.
	GetAll(workspaceID string) ([]*Rule, error)

	// GetEnabled returns enabled rules in stable (creation) order.
	GetEnabled(workspaceID string) ([]*Rule, error)

	// Delete removes a rule, reporting whether it existed.
	Delete(workspaceID, ruleID string) (bool, error)
}

// InMemoryStore implements Store with a per-workspace map. Used in
// tests and when no database is configured.
type InMemoryStore struct {
	workspaces map[string]map[string]*Rule
	mu         sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory rule store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workspaces: make(map[string]map[string]*Rule),
	}
}

func (s *InMemoryStore) Save(workspaceID string, rule *Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule ID must be set before save")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		ws = make(map[string]*Rule)
		s.workspaces[workspaceID] = ws
	}

	now := time.Now()
	stored := *rule
	if existing, ok := ws[rule.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	ws[rule.ID] = &stored

	rule.CreatedAt = stored.CreatedAt
	rule.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *InMemoryStore) Get(workspaceID, ruleID string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.workspaces[workspaceID][ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s in workspace %s: %w", ruleID, workspaceID, ErrNotFound)
	}
	clone := *rule
	return &clone, nil
}

func (s *InMemoryStore) GetAll(workspaceID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(workspaceID, false), nil
}

func (s *InMemoryStore) GetEnabled(workspaceID string) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(workspaceID, true), nil
}

// collect snapshots matching rules sorted by creation time so callers
// see the same ordering the Postgres store produces.
func (s *InMemoryStore) collect(workspaceID string, enabledOnly bool) []*Rule {
	var out []*Rule
	for _, rule := range s.workspaces[workspaceID] {
		if enabledOnly && !rule.Enabled {
			continue
		}
		clone := *rule
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryStore) Delete(workspaceID, ruleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return false, nil
	}
	if _, ok := ws[ruleID]; !ok {
		return false, nil
	}
	delete(ws, ruleID)
	return true, nil
}
