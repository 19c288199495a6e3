package pack

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/patternd/internal/pack"

// Metrics provides OpenTelemetry metrics for pack assembly.
type Metrics struct {
	packBytes        metric.Int64Histogram
	packUtilization  metric.Float64Histogram
	packIncluded     metric.Int64Histogram
	packTrimmedTotal metric.Int64Counter

	initialized bool
}

// NewMetrics creates pack metrics. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.packBytes, err = meter.Int64Histogram(
		"patternd.pack.bytes",
		metric.WithDescription("Encoded size of assembled packs"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.packUtilization, err = meter.Float64Histogram(
		"patternd.pack.budget.utilization",
		metric.WithDescription("Pack size as a fraction of its budget"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.packIncluded, err = meter.Int64Histogram(
		"patternd.pack.included",
		metric.WithDescription("Number of items included per pack"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}

	m.packTrimmedTotal, err = meter.Int64Counter(
		"patternd.pack.trimmed.total",
		metric.WithDescription("Packs that were trimmed to fit their budget"),
		metric.WithUnit("{pack}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordPack records one assembled pack.
func (m *Metrics) RecordPack(ctx context.Context, meta pattern.PackMeta) {
	if m == nil || !m.initialized {
		return
	}
	m.packBytes.Record(ctx, int64(meta.Bytes))
	m.packIncluded.Record(ctx, int64(meta.Included))
	if meta.BudgetBytes > 0 {
		m.packUtilization.Record(ctx, float64(meta.Bytes)/float64(meta.BudgetBytes))
	}
	if meta.TrimmedReason != "" {
		m.packTrimmedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", meta.TrimmedReason)))
	}
}

// Tracer returns a tracer for the pack package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
