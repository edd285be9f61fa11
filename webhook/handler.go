// Package webhook turns incoming webhook deliveries into rule
// evaluations and action executions. The pipeline is dedup, rule
// lookup, evaluation, execution, with each delivery processed at most
// once per dedup window.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/liamcoop/automations/dedup"
	"github.com/liamcoop/automations/engine"
	"github.com/liamcoop/automations/executor"
	"github.com/liamcoop/automations/internal/logger"
	"github.com/liamcoop/automations/internal/metrics"
	"github.com/liamcoop/automations/rules"
	"github.com/liamcoop/automations/workspace"
)

// Result statuses for one processed delivery.
const (
	StatusDuplicate       = "duplicate"
	StatusNoRules         = "no_rules"
	StatusNoMatchingRules = "no_matching_rules"
	StatusActionsApplied  = "actions_applied"
	StatusActionsLogged   = "actions_logged"
	StatusPartial         = "partial"
	StatusScheduled       = "scheduled"
)

// Event is one webhook delivery.
type Event struct {
	EventType   string
	WorkspaceID string
	PayloadID   string
	Payload     []byte
}

// Result summarizes what a delivery caused.
type Result struct {
	Status       string             `json:"status"`
	MatchedRules int                `json:"matchedRules,omitempty"`
	Outcomes     []executor.Outcome `json:"outcomes,omitempty"`
}

// Handler runs the delivery pipeline.
type Handler struct {
	store     rules.Store
	evaluator *engine.Evaluator
	executor  *executor.Executor
	cache     *workspace.Cache
	dedup     dedup.Store
	dedupTTL  time.Duration
}

// NewHandler wires the pipeline stages together.
func NewHandler(store rules.Store, evaluator *engine.Evaluator, exec *executor.Executor, cache *workspace.Cache, dedupStore dedup.Store, dedupTTL time.Duration) *Handler {
	return &Handler{
		store:     store,
		evaluator: evaluator,
		executor:  exec,
		cache:     cache,
		dedup:     dedupStore,
		dedupTTL:  dedupTTL,
	}
}

// Handle processes one delivery end to end: dedup first, then the
// rule pipeline.
func (h *Handler) Handle(ctx context.Context, event Event) (Result, error) {
	unique, err := h.ClaimDelivery(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if !unique {
		return Result{Status: StatusDuplicate}, nil
	}
	return h.Process(ctx, event)
}

// ClaimDelivery runs the dedup check. It returns false when the
// delivery was already seen within the dedup window.
func (h *Handler) ClaimDelivery(ctx context.Context, event Event) (bool, error) {
	key := dedup.Key(event.WorkspaceID, event.EventType, event.PayloadID)
	result, err := h.dedup.Check(ctx, key, h.dedupTTL)
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	if result == dedup.Duplicate {
		metrics.RecordDedupHit(ctx, event.EventType)
		logger.Debug("duplicate webhook delivery suppressed",
			"workspace_id", event.WorkspaceID,
			"event", event.EventType,
			"payload_id", event.PayloadID)
		return false, nil
	}
	metrics.RecordDedupMiss(ctx, event.EventType)
	return true, nil
}

// Process evaluates the workspace's rules against the delivery and
// executes the actions of every matching rule, in rule order. The
// caller must have claimed the delivery first.
func (h *Handler) Process(ctx context.Context, event Event) (Result, error) {
	started := time.Now()
	result, err := h.process(ctx, event)

	outcome := result.Status
	if err != nil {
		outcome = "error"
	}
	metrics.RecordWebhookLatency(ctx, event.EventType, outcome, time.Since(started))
	return result, err
}

func (h *Handler) process(ctx context.Context, event Event) (Result, error) {
	enabled, err := h.store.GetEnabled(event.WorkspaceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load rules: %w", err)
	}

	triggered := enabled[:0:0]
	for _, rule := range enabled {
		if rule.TriggerEvent == event.EventType {
			triggered = append(triggered, rule)
		}
	}
	if len(triggered) == 0 {
		return Result{Status: StatusNoRules}, nil
	}

	te, err := engine.NewTimeEntryContext(event.Payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse payload: %w", err)
	}

	// A metadata load failure must not drop the delivery: the dedup
	// claim is already spent, so failing here would lose the event for
	// good. Conditions and actions that need name lookups degrade to
	// misses; payload-only rules still run.
	snap, err := h.cache.Get(ctx, event.WorkspaceID)
	if err != nil {
		logger.Warn("workspace metadata unavailable, continuing without name lookups",
			"workspace_id", event.WorkspaceID,
			"event", event.EventType,
			"error", err)
		snap = nil
	}

	var matched []*rules.Rule
	for _, rule := range triggered {
		if h.evaluator.Matches(rule, te, snap) {
			matched = append(matched, rule)
		}
	}
	metrics.RecordRuleEvaluation(ctx, event.EventType, len(triggered), len(matched))

	if len(matched) == 0 {
		return Result{Status: StatusNoMatchingRules}, nil
	}

	result := Result{MatchedRules: len(matched)}
	for _, rule := range matched {
		logger.Info("rule matched",
			"workspace_id", event.WorkspaceID,
			"rule_id", rule.ID,
			"rule_name", rule.Name,
			"event", event.EventType,
			"time_entry_id", te.ID())
		outcomes := h.executor.Execute(ctx, event.WorkspaceID, rule.Actions, te, snap)
		result.Outcomes = append(result.Outcomes, outcomes...)
	}
	result.Status = summarize(result.Outcomes)
	return result, nil
}

// summarize folds per-action outcomes into a delivery status.
func summarize(outcomes []executor.Outcome) string {
	var applied, logged, failed int
	for _, o := range outcomes {
		switch o.Status {
		case executor.StatusApplied:
			applied++
		case executor.StatusLogged:
			logged++
		case executor.StatusFailed:
			failed++
		}
	}
	switch {
	case failed > 0:
		return StatusPartial
	case applied == 0 && logged > 0:
		return StatusActionsLogged
	default:
		return StatusActionsApplied
	}
}
