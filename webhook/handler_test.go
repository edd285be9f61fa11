package webhook

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liamcoop/automations/dedup"
	"github.com/liamcoop/automations/engine"
	"github.com/liamcoop/automations/executor"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/trackapi"
	"github.com/liamcoop/automations/workspace"
)

// fakeBackend serves workspace metadata and records time-entry
// updates.
type fakeBackend struct {
	updateCalls  atomic.Int32
	failUpdates  bool
	failMetadata bool
}

func (f *fakeBackend) ProjectsPage(context.Context, string, int, int) ([]trackapi.NamedItem, error) {
	if f.failMetadata {
		return nil, errors.New("metadata api unavailable")
	}
	return []trackapi.NamedItem{{ID: "proj-1", Name: "Internal"}}, nil
}
func (f *fakeBackend) ClientsPage(context.Context, string, int, int) ([]trackapi.NamedItem, error) {
	return nil, nil
}
func (f *fakeBackend) TagsPage(context.Context, string, int, int) ([]trackapi.NamedItem, error) {
	return []trackapi.NamedItem{{ID: "tag-1", Name: "meeting"}}, nil
}
func (f *fakeBackend) UsersPage(context.Context, string, int, int) ([]trackapi.NamedItem, error) {
	return nil, nil
}
func (f *fakeBackend) TasksPage(context.Context, string, string, int, int) ([]trackapi.NamedItem, error) {
	return nil, nil
}
func (f *fakeBackend) CreateTag(_ context.Context, _ string, name string) (trackapi.NamedItem, error) {
	return trackapi.NamedItem{ID: "tag-new", Name: name}, nil
}
func (f *fakeBackend) UpdateTimeEntry(context.Context, string, string, map[string]any) error {
	f.updateCalls.Add(1)
	if f.failUpdates {
		return &trackapi.APIError{Status: 400, Body: "bad request"}
	}
	return nil
}
func (f *fakeBackend) Get(context.Context, string) ([]byte, error) { return []byte(`{}`), nil }
func (f *fakeBackend) Post(context.Context, string, []byte) ([]byte, error) {
	return []byte(`{}`), nil
}

type fixture struct {
	handler *Handler
	store   rules.Store
	backend *fakeBackend
	dedup   dedup.Store
}

func newFixture(t *testing.T, applyChanges bool) *fixture {
	t.Helper()
	backend := &fakeBackend{}
	cache := workspace.NewCache(backend, 0)
	store := rules.NewInMemoryStore()
	dedupStore := dedup.NewMemoryStore()
	t.Cleanup(func() { dedupStore.Close() })

	exec := executor.New(backend, cache, applyChanges, 0)
	handler := NewHandler(store, engine.NewEvaluator(nil), exec, cache, dedupStore, time.Minute)
	return &fixture{handler: handler, store: store, backend: backend, dedup: dedupStore}
}

func saveRule(t *testing.T, store rules.Store, rule *rules.Rule) {
	t.Helper()
	if err := store.Save("ws-1", rule); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
}

func matchingRule(id string) *rules.Rule {
	return &rules.Rule{
		ID:           id,
		Name:         "flag standups",
		Enabled:      true,
		TriggerEvent: "TIME_ENTRY_CREATED",
		Combinator:   rules.CombinatorAnd,
		Conditions:   []rules.Condition{{Type: rules.ConditionDescriptionContains, Value: "standup"}},
		Actions:      []rules.Action{{Type: rules.ActionSetBillable, Args: map[string]string{"value": "true"}}},
	}
}

func sampleEvent() Event {
	return Event{
		EventType:   "TIME_ENTRY_CREATED",
		WorkspaceID: "ws-1",
		PayloadID:   "te-1",
		Payload: []byte(`{
			"workspaceId": "ws-1",
			"timeEntry": {"id": "te-1", "description": "Daily standup", "billable": false, "tagIds": []}
		}`),
	}
}

func TestHandleNoRules(t *testing.T) {
	f := newFixture(t, true)

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusNoRules {
		t.Errorf("status = %q, want %q", result.Status, StatusNoRules)
	}
}

func TestHandleNoMatchingRules(t *testing.T) {
	f := newFixture(t, true)
	rule := matchingRule("rule-1")
	rule.Conditions[0].Value = "retrospective"
	saveRule(t, f.store, rule)

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusNoMatchingRules {
		t.Errorf("status = %q, want %q", result.Status, StatusNoMatchingRules)
	}
	if f.backend.updateCalls.Load() != 0 {
		t.Error("no actions should run when no rule matches")
	}
}

func TestHandleTriggerEventFilter(t *testing.T) {
	f := newFixture(t, true)
	rule := matchingRule("rule-1")
	rule.TriggerEvent = "TIME_ENTRY_UPDATED"
	saveRule(t, f.store, rule)

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusNoRules {
		t.Errorf("status = %q, want %q for a non-matching trigger event", result.Status, StatusNoRules)
	}
}

func TestHandleAppliesActions(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-1"))

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusActionsApplied {
		t.Errorf("status = %q, want %q", result.Status, StatusActionsApplied)
	}
	if result.MatchedRules != 1 {
		t.Errorf("MatchedRules = %d, want 1", result.MatchedRules)
	}
	if f.backend.updateCalls.Load() != 1 {
		t.Errorf("update called %d times, want 1", f.backend.updateCalls.Load())
	}
}

func TestHandleDryRunLogsActions(t *testing.T) {
	f := newFixture(t, false)
	saveRule(t, f.store, matchingRule("rule-1"))

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusActionsLogged {
		t.Errorf("status = %q, want %q", result.Status, StatusActionsLogged)
	}
	if f.backend.updateCalls.Load() != 0 {
		t.Error("dry run must not call the API")
	}
}

func TestHandleDuplicateDelivery(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-1"))

	first, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("first Handle() failed: %v", err)
	}
	if first.Status != StatusActionsApplied {
		t.Fatalf("first status = %q, want %q", first.Status, StatusActionsApplied)
	}

	second, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("second Handle() failed: %v", err)
	}
	if second.Status != StatusDuplicate {
		t.Errorf("second status = %q, want %q", second.Status, StatusDuplicate)
	}
	if f.backend.updateCalls.Load() != 1 {
		t.Errorf("duplicate delivery caused %d updates, want 1", f.backend.updateCalls.Load())
	}
}

func TestHandlePartialFailure(t *testing.T) {
	f := newFixture(t, true)
	f.backend.failUpdates = true

	rule := matchingRule("rule-1")
	rule.Actions = []rules.Action{
		{Type: rules.ActionSetBillable, Args: map[string]string{"value": "true"}},
		{Type: rules.ActionOpenAPICall, Args: map[string]string{"method": "GET", "path": "/workspaces/ws-1/tags"}},
	}
	saveRule(t, f.store, rule)

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("status = %q, want %q", result.Status, StatusPartial)
	}
}

func TestHandleMetadataFailureDegrades(t *testing.T) {
	f := newFixture(t, true)
	f.backend.failMetadata = true
	saveRule(t, f.store, matchingRule("rule-1"))

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() with metadata down failed: %v", err)
	}
	if result.Status != StatusActionsApplied {
		t.Errorf("status = %q, want %q (payload-only actions must still run)", result.Status, StatusActionsApplied)
	}
	if f.backend.updateCalls.Load() != 1 {
		t.Errorf("update called %d times, want 1", f.backend.updateCalls.Load())
	}
}

func TestHandleMetadataFailureDegradesNameConditions(t *testing.T) {
	f := newFixture(t, true)
	f.backend.failMetadata = true

	rule := matchingRule("rule-1")
	rule.Conditions = []rules.Condition{{Type: rules.ConditionProjectNameContains, Value: "Internal"}}
	saveRule(t, f.store, rule)

	event := sampleEvent()
	event.Payload = []byte(`{
		"workspaceId": "ws-1",
		"timeEntry": {"id": "te-1", "description": "Daily standup", "projectId": "proj-1", "billable": false}
	}`)

	result, err := f.handler.Handle(context.Background(), event)
	if err != nil {
		t.Fatalf("Handle() with metadata down failed: %v", err)
	}
	if result.Status != StatusNoMatchingRules {
		t.Errorf("status = %q, want %q (name lookup degrades to a miss)", result.Status, StatusNoMatchingRules)
	}
	if f.backend.updateCalls.Load() != 0 {
		t.Error("no actions should run when the name condition cannot resolve")
	}
}

func TestHandleMultipleMatchingRulesRunInOrder(t *testing.T) {
	f := newFixture(t, true)
	saveRule(t, f.store, matchingRule("rule-a"))
	time.Sleep(time.Millisecond)
	saveRule(t, f.store, matchingRule("rule-b"))

	result, err := f.handler.Handle(context.Background(), sampleEvent())
	if err != nil {
		t.Fatalf("Handle() failed: %v", err)
	}
	if result.MatchedRules != 2 {
		t.Errorf("MatchedRules = %d, want 2", result.MatchedRules)
	}
	if len(result.Outcomes) != 2 {
		t.Errorf("len(Outcomes) = %d, want 2", len(result.Outcomes))
	}
}
