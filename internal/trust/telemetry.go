package trust

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/patternd/internal/trust"

// Metrics provides OpenTelemetry metrics for trust updates.
type Metrics struct {
	updatesTotal     metric.Int64Counter
	autoCreatedTotal metric.Int64Counter
	failedTotal      metric.Int64Counter

	initialized bool
}

// NewMetrics creates trust metrics. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.updatesTotal, err = meter.Int64Counter(
		"patternd.trust.updates.total",
		metric.WithDescription("Trust updates applied, by outcome"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	m.autoCreatedTotal, err = meter.Int64Counter(
		"patternd.trust.autocreated.total",
		metric.WithDescription("Patterns auto-created by an outcome for an unknown id"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return nil, err
	}

	m.failedTotal, err = meter.Int64Counter(
		"patternd.trust.failed.total",
		metric.WithDescription("Trust updates rejected or not persisted"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordUpdate records an applied update.
func (m *Metrics) RecordUpdate(ctx context.Context, outcome Outcome, autoCreated bool) {
	if m == nil || !m.initialized {
		return
	}
	m.updatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	if autoCreated {
		m.autoCreatedTotal.Add(ctx, 1)
	}
}

// RecordFailure records a rejected or unpersisted update.
func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.failedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
