// Package otel provides OpenTelemetry instruments for the orchestration core.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "overseer"

// Metrics holds all Overseer metric instruments.
type Metrics struct {
	DirectivesRouted   metric.Int64Counter
	DirectivesRejected metric.Int64Counter
	ApprovalsOpened    metric.Int64Counter
	ApprovalsEscalated metric.Int64Counter
	ConflictsOpened    metric.Int64Counter
	MessagesDeduped    metric.Int64Counter
	PipelineDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DirectivesRouted, err = meter.Int64Counter("overseer.directives.routed",
		metric.WithDescription("Number of directives routed"))
	if err != nil {
		return nil, err
	}

	m.DirectivesRejected, err = meter.Int64Counter("overseer.directives.rejected",
		metric.WithDescription("Number of directives rejected at the boundary"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsOpened, err = meter.Int64Counter("overseer.approvals.opened",
		metric.WithDescription("Number of approval requests opened"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsEscalated, err = meter.Int64Counter("overseer.approvals.escalated",
		metric.WithDescription("Number of approval requests escalated on timeout"))
	if err != nil {
		return nil, err
	}

	m.ConflictsOpened, err = meter.Int64Counter("overseer.conflicts.opened",
		metric.WithDescription("Number of conflict records opened"))
	if err != nil {
		return nil, err
	}

	m.MessagesDeduped, err = meter.Int64Counter("overseer.messages.deduped",
		metric.WithDescription("Number of duplicate peer messages skipped by the ledger"))
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("overseer.pipeline.duration_seconds",
		metric.WithDescription("Worker invocation pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
