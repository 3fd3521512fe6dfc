package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordHookExecution(t *testing.T) {
	reader := withManualReader(t)
	ctx := context.Background()

	RecordHookExecution(ctx, HookExecution{
		Community: "commons",
		PolicyID:  "pol-1",
		Stage:     "check",
		Outcome:   "ok",
		Duration:  150 * time.Millisecond,
	})

	metrics := collectMetrics(t, reader)

	sumExec, ok := metrics["agora.hook.executions_total"]
	if !ok {
		t.Fatalf("missing agora.hook.executions_total metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(execData.DataPoints))
	}
	if execData.DataPoints[0].Value != 1 {
		t.Fatalf("expected executions count 1, got %d", execData.DataPoints[0].Value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("hook.stage")); !ok || value.AsString() != "check" {
		t.Fatalf("expected hook.stage attribute to be check, got %v", value)
	}

	hist, ok := metrics["agora.hook.duration_ms"]
	if !ok {
		t.Fatalf("missing agora.hook.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordResolutionAndQuarantine(t *testing.T) {
	reader := withManualReader(t)
	ctx := context.Background()

	RecordEvaluationPass(ctx, EvaluationPass{
		Community: "commons",
		Category:  "governance",
		Kind:      "add_role",
	})
	RecordResolution(ctx, Resolution{
		Community: "commons",
		Category:  "governance",
		Status:    "passed",
	})
	RecordQuarantine(ctx, Quarantine{
		Community: "commons",
		PolicyID:  "pol-1",
	})

	metrics := collectMetrics(t, reader)

	passes, ok := metrics["agora.evaluation.passes_total"]
	if !ok {
		t.Fatalf("missing agora.evaluation.passes_total metric")
	}
	passData := passes.Data.(metricdata.Sum[int64])
	if passData.DataPoints[0].Value != 1 {
		t.Fatalf("expected pass count 1, got %d", passData.DataPoints[0].Value)
	}

	res, ok := metrics["agora.proposal.resolutions_total"]
	if !ok {
		t.Fatalf("missing agora.proposal.resolutions_total metric")
	}
	resData := res.Data.(metricdata.Sum[int64])
	if resData.DataPoints[0].Value != 1 {
		t.Fatalf("expected resolution count 1, got %d", resData.DataPoints[0].Value)
	}
	if value, ok := resData.DataPoints[0].Attributes.Value(attribute.Key("proposal.status")); !ok || value.AsString() != "passed" {
		t.Fatalf("expected proposal.status attribute to be passed, got %v", value)
	}

	quar, ok := metrics["agora.policy.quarantines_total"]
	if !ok {
		t.Fatalf("missing agora.policy.quarantines_total metric")
	}
	quarData := quar.Data.(metricdata.Sum[int64])
	if quarData.DataPoints[0].Value != 1 {
		t.Fatalf("expected quarantine count 1, got %d", quarData.DataPoints[0].Value)
	}
}
