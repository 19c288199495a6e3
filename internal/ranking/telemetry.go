package ranking

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/patternd/internal/ranking"

// Metrics provides OpenTelemetry metrics for ranking calls.
type Metrics struct {
	rankTotal      metric.Int64Counter
	rankDuration   metric.Float64Histogram
	excludedFailed metric.Int64Counter
	returned       metric.Int64Histogram

	initialized bool
}

// NewMetrics creates ranking metrics. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.rankTotal, err = meter.Int64Counter(
		"patternd.rank.total",
		metric.WithDescription("Total number of ranking calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.rankDuration, err = meter.Float64Histogram(
		"patternd.rank.duration",
		metric.WithDescription("Duration of ranking calls"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5),
	)
	if err != nil {
		return nil, err
	}

	m.excludedFailed, err = meter.Int64Counter(
		"patternd.rank.excluded_failed.total",
		metric.WithDescription("Patterns excluded because the task reported them as failed"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, err
	}

	m.returned, err = meter.Int64Histogram(
		"patternd.rank.returned",
		metric.WithDescription("Number of ranked patterns returned per call"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordRank records one ranking call.
func (m *Metrics) RecordRank(ctx context.Context, s Stats) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("cache_hit", s.CacheHit))
	m.rankTotal.Add(ctx, 1, attrs)
	m.rankDuration.Record(ctx, s.Duration.Seconds(), attrs)
	m.returned.Record(ctx, int64(s.Returned))
	if s.ExcludedFailed > 0 {
		m.excludedFailed.Add(ctx, int64(s.ExcludedFailed))
	}
}

// Tracer returns a tracer for the ranking package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
