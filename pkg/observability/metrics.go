// Package observability collects the engine's operational metrics through
// the OpenTelemetry metric API. Wiring an exporter is the embedding
// application's concern; without one the instruments are no-ops.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/warden-labs/warden"

// Metrics holds the engine's instruments. A nil *Metrics is valid and
// records nothing, so callers never need to guard.
type Metrics struct {
	decisions          metric.Int64Counter
	evaluateDuration   metric.Float64Histogram
	auditWriteFailures metric.Int64Counter
	approvals          metric.Int64Counter
	killSwitchTrips    metric.Int64Counter
}

// NewMetrics registers the engine's instruments on the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.decisions, err = meter.Int64Counter("warden.decisions",
		metric.WithDescription("Tool-call decisions by result")); err != nil {
		return nil, fmt.Errorf("observability: decisions counter: %w", err)
	}
	if m.evaluateDuration, err = meter.Float64Histogram("warden.evaluate.duration",
		metric.WithDescription("Evaluate pipeline latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observability: duration histogram: %w", err)
	}
	if m.auditWriteFailures, err = meter.Int64Counter("warden.audit.write_failures",
		metric.WithDescription("Audit appends lost to persistence errors")); err != nil {
		return nil, fmt.Errorf("observability: audit failure counter: %w", err)
	}
	if m.approvals, err = meter.Int64Counter("warden.approvals",
		metric.WithDescription("Approval requests by terminal status")); err != nil {
		return nil, fmt.Errorf("observability: approvals counter: %w", err)
	}
	if m.killSwitchTrips, err = meter.Int64Counter("warden.killswitch.denials",
		metric.WithDescription("Evaluations short-circuited by the kill switch")); err != nil {
		return nil, fmt.Errorf("observability: kill-switch counter: %w", err)
	}
	return m, nil
}

// RecordDecision counts one decision and its pipeline latency.
func (m *Metrics) RecordDecision(ctx context.Context, allowed bool, seconds float64) {
	if m == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.decisions.Add(ctx, 1, attrs)
	m.evaluateDuration.Record(ctx, seconds, attrs)
}

// RecordAuditWriteFailure counts one lost audit append, tagged with the
// pipeline stage that attempted it.
func (m *Metrics) RecordAuditWriteFailure(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	m.auditWriteFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("context", origin)))
}

// RecordApproval counts one approval transition.
func (m *Metrics) RecordApproval(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.approvals.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordKillSwitchDenial counts one short-circuited evaluation.
func (m *Metrics) RecordKillSwitchDenial(ctx context.Context) {
	if m == nil {
		return
	}
	m.killSwitchTrips.Add(ctx, 1)
}
