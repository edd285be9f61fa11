// Package metrics registers the counters and histograms emitted by the
// automation pipeline. Instruments are created once against the global
// meter provider and reused.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/liamcoop/automations")

	rulesEvaluated   metric.Int64Counter
	rulesMatched     metric.Int64Counter
	actionsTotal     metric.Int64Counter
	dedupHits        metric.Int64Counter
	dedupMisses      metric.Int64Counter
	asyncBacklog     metric.Int64Counter
	cacheTruncations metric.Int64Counter
	webhookLatency   metric.Float64Histogram
)

func init() {
	rulesEvaluated, _ = meter.Int64Counter("rules_evaluated_total",
		metric.WithDescription("Number of rule evaluations per webhook event"))
	rulesMatched, _ = meter.Int64Counter("rules_matched_total",
		metric.WithDescription("Rules that matched during webhook evaluation"))
	actionsTotal, _ = meter.Int64Counter("rules_actions_total",
		metric.WithDescription("Actions executed by the automation engine"))
	dedupHits, _ = meter.Int64Counter("webhook_dedup_hits_total",
		metric.WithDescription("Duplicate webhook deliveries suppressed"))
	dedupMisses, _ = meter.Int64Counter("webhook_dedup_misses_total",
		metric.WithDescription("Webhook deliveries accepted as new work"))
	asyncBacklog, _ = meter.Int64Counter("async_backlog_total",
		metric.WithDescription("Async action dispatch outcomes (queued or fallback)"))
	cacheTruncations, _ = meter.Int64Counter("workspace_cache_truncated_total",
		metric.WithDescription("Workspace cache refreshes that hit an item cap"))
	webhookLatency, _ = meter.Float64Histogram("webhook_latency_ms",
		metric.WithDescription("Time to process a webhook event"),
		metric.WithUnit("ms"))
}

func RecordRuleEvaluation(ctx context.Context, event string, evaluated, matched int) {
	attrs := metric.WithAttributes(attribute.String("event", sanitize(event)))
	rulesEvaluated.Add(ctx, int64(evaluated), attrs)
	rulesMatched.Add(ctx, int64(matched), attrs)
}

func RecordActionResult(ctx context.Context, actionType string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	actionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", sanitize(actionType)),
		attribute.String("result", result)))
}

func RecordDedupHit(ctx context.Context, event string) {
	dedupHits.Add(ctx, 1, metric.WithAttributes(attribute.String("event", sanitize(event))))
}

func RecordDedupMiss(ctx context.Context, event string) {
	dedupMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("event", sanitize(event))))
}

func RecordAsyncBacklog(ctx context.Context, outcome string) {
	asyncBacklog.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", sanitize(outcome))))
}

func RecordCacheTruncation(ctx context.Context, dataset string) {
	cacheTruncations.Add(ctx, 1, metric.WithAttributes(attribute.String("dataset", sanitize(dataset))))
}

func RecordWebhookLatency(ctx context.Context, event, outcome string, elapsed time.Duration) {
	webhookLatency.Record(ctx, float64(elapsed.Microseconds())/1000.0, metric.WithAttributes(
		attribute.String("event", sanitize(event)),
		attribute.String("outcome", sanitize(outcome))))
}

func sanitize(value string) string {
	if value == "" {
		return "unknown"
	}
	if len(value) > 64 {
		return value[:64]
	}
	return value
}
