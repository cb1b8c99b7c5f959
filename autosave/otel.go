package autosave

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/threatmodel/store"
)

const instrumentationName = "github.com/zero-day-ai/threatmodel/autosave"

// otelMetrics holds the metric instruments for save rounds.
type otelMetrics struct {
	// saves counts completed save rounds, labelled by outcome.
	saves metric.Int64Counter

	// resaves counts rounds whose result no longer matched the live diagram.
	resaves metric.Int64Counter

	// duration records round trip time in milliseconds.
	duration metric.Float64Histogram
}

func newOTelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(instrumentationName)

	m := &otelMetrics{}
	var err error

	m.saves, err = meter.Int64Counter(
		"autosave.saves",
		metric.WithDescription("Number of save rounds"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create saves counter: %w", err)
	}

	m.resaves, err = meter.Int64Counter(
		"autosave.resaves",
		metric.WithDescription("Save rounds overtaken by edits made while saving"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resaves counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"autosave.duration",
		metric.WithDescription("Save round trip duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

// startSpan opens the span for one save round.
func (a *Autosaver) startSpan(ctx context.Context, snap store.Snapshot) (context.Context, trace.Span) {
	ctx, span := a.tracer.Start(ctx, "autosave.save")
	span.SetAttributes(
		attribute.String("project.id", snap.ProjectID()),
		attribute.Int64("store.revision", int64(snap.Revision())),
		attribute.Int("components", snap.Count(store.KindComponent)),
		attribute.Int("connections", snap.Count(store.KindConnection)),
		attribute.Int("connection_points", snap.Count(store.KindConnectionPoint)),
		attribute.Int("points_of_attack", snap.Count(store.KindPointOfAttack)),
	)
	return ctx, span
}

// recordRound finishes the span and records metrics for a save round.
// outcome is one of "ok", "resave" or "error".
func (a *Autosaver) recordRound(ctx context.Context, span trace.Span, projectID, outcome string, elapsed time.Duration, err error) {
	span.SetAttributes(attribute.String("autosave.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, outcome)
	}
	span.End()

	if a.metrics == nil {
		return
	}
	opts := metric.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.String("outcome", outcome),
	)
	a.metrics.saves.Add(ctx, 1, opts)
	a.metrics.duration.Record(ctx, float64(elapsed.Milliseconds()), opts)
	if outcome == "resave" {
		a.metrics.resaves.Add(ctx, 1, opts)
	}
}
