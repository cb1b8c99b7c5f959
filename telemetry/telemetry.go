// Package telemetry builds OpenTelemetry providers from configuration.
package telemetry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/threatmodel/config"
)

// InstrumentationName names the tracer handed to the editor.
const InstrumentationName = "github.com/zero-day-ai/threatmodel"

// Providers holds the tracer and meter provider for one process.
type Providers struct {
	Tracer        trace.Tracer
	MeterProvider metric.MeterProvider

	shutdownFuncs []func(context.Context) error
}

// Setup creates providers for cfg. Exporters write to w. Disabled signals
// get no-op providers, so the result is always usable.
func Setup(ctx context.Context, cfg *config.TelemetryConfig, w io.Writer, logger *slog.Logger) (*Providers, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Providers{
		Tracer:        tracenoop.NewTracerProvider().Tracer(InstrumentationName),
		MeterProvider: metricnoop.NewMeterProvider(),
	}
	if !cfg.TracesEnabled() && !cfg.MetricsEnabled() {
		return p, nil
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.GetServiceName()),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	if cfg.TracesEnabled() {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		// Spans are exported as soon as they end.
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
			sdktrace.WithResource(res),
		)
		p.Tracer = tp.Tracer(InstrumentationName)
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	if cfg.MetricsEnabled() {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		)
		p.MeterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
	}

	return p, nil
}

// Shutdown flushes and stops every provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}

// CreateParentContext creates a context with a remote parent SpanContext
// from hex-encoded traceID and parentSpanID strings. It returns ctx
// unchanged when the ids cannot be decoded.
func CreateParentContext(ctx context.Context, traceID, parentSpanID string) context.Context {
	if traceID == "" || parentSpanID == "" {
		return ctx
	}

	traceIDBytes, err := hex.DecodeString(traceID)
	if err != nil || len(traceIDBytes) != 16 {
		return ctx
	}

	spanIDBytes, err := hex.DecodeString(parentSpanID)
	if err != nil || len(spanIDBytes) != 8 {
		return ctx
	}

	var tid trace.TraceID
	copy(tid[:], traceIDBytes)

	var sid trace.SpanID
	copy(sid[:], spanIDBytes)

	parentSpanContext := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	return trace.ContextWithSpanContext(ctx, parentSpanContext)
}

// ContextFromTraceparent applies a W3C traceparent header value
// ("00-<trace id>-<span id>-<flags>") with CreateParentContext.
func ContextFromTraceparent(ctx context.Context, traceparent string) context.Context {
	parts := strings.Split(strings.TrimSpace(traceparent), "-")
	if len(parts) != 4 {
		return ctx
	}
	return CreateParentContext(ctx, parts[1], parts[2])
}
