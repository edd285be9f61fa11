package rules

import (
	"errors"
	"testing"
	"time"
)

// countingStore wraps InMemoryStore to count GetEnabled queries.
type countingStore struct {
	Store
	getEnabledCalls int
	fail            bool
}

func (s *countingStore) GetEnabled(workspaceID string) ([]*Rule, error) {
	s.getEnabledCalls++
	if s.fail {
		return nil, errors.New("store unavailable")
	}
	return s.Store.GetEnabled(workspaceID)
}

func TestCachedStoreServesFromCache(t *testing.T) {
	inner := &countingStore{Store: NewInMemoryStore()}
	cached := NewCachedStore(inner, time.Minute)

	rule := &Rule{ID: "rule-1", Name: "cached", Enabled: true, TriggerEvent: "TIME_ENTRY_CREATED"}
	if err := cached.Save("ws-1", rule); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := cached.GetEnabled("ws-1")
		if err != nil {
			t.Fatalf("GetEnabled() %d failed: %v", i, err)
		}
		if len(got) != 1 {
			t.Fatalf("GetEnabled() %d returned %d rules, want 1", i, len(got))
		}
	}
	if inner.getEnabledCalls != 1 {
		t.Errorf("inner store queried %d times, want 1", inner.getEnabledCalls)
	}
}

func TestCachedStoreSaveInvalidates(t *testing.T) {
	inner := &countingStore{Store: NewInMemoryStore()}
	cached := NewCachedStore(inner, time.Minute)

	first := &Rule{ID: "rule-1", Name: "first", Enabled: true, TriggerEvent: "TIME_ENTRY_CREATED"}
	if err := cached.Save("ws-1", first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := cached.GetEnabled("ws-1"); err != nil {
		t.Fatalf("GetEnabled() failed: %v", err)
	}

	second := &Rule{ID: "rule-2", Name: "second", Enabled: true, TriggerEvent: "TIME_ENTRY_CREATED"}
	if err := cached.Save("ws-1", second); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	got, err := cached.GetEnabled("ws-1")
	if err != nil {
		t.Fatalf("GetEnabled() after save failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("GetEnabled() returned %d rules after invalidation, want 2", len(got))
	}
}

func TestCachedStoreZeroTTLDisablesCaching(t *testing.T) {
	inner := &countingStore{Store: NewInMemoryStore()}
	cached := NewCachedStore(inner, 0)

	for i := 0; i < 2; i++ {
		if _, err := cached.GetEnabled("ws-1"); err != nil {
			t.Fatalf("GetEnabled() failed: %v", err)
		}
	}
	if inner.getEnabledCalls != 2 {
		t.Errorf("inner store queried %d times with caching disabled, want 2", inner.getEnabledCalls)
	}
}

func TestCachedStoreDoesNotServeStaleOnError(t *testing.T) {
	inner := &countingStore{Store: NewInMemoryStore()}
	cached := NewCachedStore(inner, time.Nanosecond)

	rule := &Rule{ID: "rule-1", Name: "stale", Enabled: true, TriggerEvent: "TIME_ENTRY_CREATED"}
	if err := cached.Save("ws-1", rule); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := cached.GetEnabled("ws-1"); err != nil {
		t.Fatalf("GetEnabled() failed: %v", err)
	}

	time.Sleep(time.Millisecond)
	inner.fail = true
	if _, err := cached.GetEnabled("ws-1"); err == nil {
		t.Fatal("GetEnabled() should fail instead of serving stale rules")
	}
}
