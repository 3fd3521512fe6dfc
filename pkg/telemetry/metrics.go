package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	evaluationPassCounter metric.Int64Counter
	hookExecutionCounter  metric.Int64Counter
	hookLatencyHistogram  metric.Float64Histogram
	resolutionCounter     metric.Int64Counter
	quarantineCounter     metric.Int64Counter
)

// EvaluationPass captures the fields recorded for one evaluation pass over an
// action.
type EvaluationPass struct {
	Community string
	Category  string
	Kind      string
}

// RecordEvaluationPass counts an evaluation pass.
func RecordEvaluationPass(ctx context.Context, pass EvaluationPass) {
	if err := ensureMetrics(); err != nil {
		return
	}
	evaluationPassCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("community.id", pass.Community),
		attribute.String("action.category", pass.Category),
		attribute.String("action.kind", pass.Kind),
	))
}

// HookExecution captures the fields recorded for one hook run.
type HookExecution struct {
	Community string
	PolicyID  string
	Stage     string
	Outcome   string
	Duration  time.Duration
}

// RecordHookExecution counts a hook run and observes its latency.
func RecordHookExecution(ctx context.Context, exec HookExecution) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("community.id", exec.Community),
		attribute.String("policy.id", exec.PolicyID),
		attribute.String("hook.stage", exec.Stage),
		attribute.String("hook.outcome", exec.Outcome),
	}

	hookExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if exec.Duration > 0 {
		hookLatencyHistogram.Record(ctx, float64(exec.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// Resolution captures the fields recorded when a proposal reaches a terminal
// status.
type Resolution struct {
	Community string
	Category  string
	Status    string
}

// RecordResolution counts a proposal resolution.
func RecordResolution(ctx context.Context, res Resolution) {
	if err := ensureMetrics(); err != nil {
		return
	}
	resolutionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("community.id", res.Community),
		attribute.String("action.category", res.Category),
		attribute.String("proposal.status", res.Status),
	))
}

// Quarantine captures the fields recorded when an (action, policy) pair is
// quarantined after repeated hook faults.
type Quarantine struct {
	Community string
	PolicyID  string
}

// RecordQuarantine counts a quarantined pair.
func RecordQuarantine(ctx context.Context, q Quarantine) {
	if err := ensureMetrics(); err != nil {
		return
	}
	quarantineCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("community.id", q.Community),
		attribute.String("policy.id", q.PolicyID),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("agora.engine")

		evaluationPassCounter, metricsInitErr = meter.Int64Counter(
			"agora.evaluation.passes_total",
			metric.WithDescription("Evaluation passes over actions under review"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		hookExecutionCounter, metricsInitErr = meter.Int64Counter(
			"agora.hook.executions_total",
			metric.WithDescription("Policy hook executions partitioned by stage and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		hookLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"agora.hook.duration_ms",
			metric.WithDescription("Observed policy hook execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		resolutionCounter, metricsInitErr = meter.Int64Counter(
			"agora.proposal.resolutions_total",
			metric.WithDescription("Proposal resolutions partitioned by terminal status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		quarantineCounter, metricsInitErr = meter.Int64Counter(
			"agora.policy.quarantines_total",
			metric.WithDescription("Action/policy pairs quarantined after repeated hook faults"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
