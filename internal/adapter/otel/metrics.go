package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentforge"

// Metrics holds the deployment pipeline instruments.
type Metrics struct {
	DeploymentsStarted   metric.Int64Counter
	DeploymentsSucceeded metric.Int64Counter
	DeploymentsFailed    metric.Int64Counter
	RepairAttempts       metric.Int64Counter
	EventsDropped        metric.Int64Counter
	StageDuration        metric.Float64Histogram
}

// NewMetrics creates all instruments from the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom creates all instruments from mp.
func NewMetricsFrom(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DeploymentsStarted, err = meter.Int64Counter("agentforge.deployments.started",
		metric.WithDescription("Number of deployment runs started"))
	if err != nil {
		return nil, err
	}

	m.DeploymentsSucceeded, err = meter.Int64Counter("agentforge.deployments.succeeded",
		metric.WithDescription("Number of deployment runs that completed"))
	if err != nil {
		return nil, err
	}

	m.DeploymentsFailed, err = meter.Int64Counter("agentforge.deployments.failed",
		metric.WithDescription("Number of deployment runs that failed, by stage"))
	if err != nil {
		return nil, err
	}

	m.RepairAttempts, err = meter.Int64Counter("agentforge.repairs",
		metric.WithDescription("Number of repair cycles attempted"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("agentforge.progress.dropped",
		metric.WithDescription("Progress events dropped because a subscriber was full"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("agentforge.stage.duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStage records one stage duration. A nil receiver is a no-op.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("failed", failed),
	))
}

// RunStarted counts a started run. A nil receiver is a no-op.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.DeploymentsStarted.Add(ctx, 1)
}

// RunFinished counts a finished run; stage is the failing stage or empty.
func (m *Metrics) RunFinished(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		m.DeploymentsSucceeded.Add(ctx, 1)
		return
	}
	m.DeploymentsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// Repair counts one repair attempt. A nil receiver is a no-op.
func (m *Metrics) Repair(ctx context.Context) {
	if m == nil {
		return
	}
	m.RepairAttempts.Add(ctx, 1)
}

// Dropped counts one dropped progress event. A nil receiver is a no-op.
func (m *Metrics) Dropped(ctx context.Context, sink string) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
