package observability

import (
	"context"
	"time"

	"leasing-workers/internal/common/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	jobCounter     otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
}

// New registers the Prometheus-backed meter provider and, when a collector
// endpoint is configured, a Jaeger tracer provider. Failures leave the
// corresponding signal as a no-op.
func New(serviceName string, tracing config.TracingConfig) (*Observability, error) {
	o := &Observability{}

	exporter, err := prometheus.New()
	if err != nil {
		return o, err
	}

	o.meterProvider = metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(o.meterProvider)
	o.meter = o.meterProvider.Meter(serviceName)

	o.jobCounter, _ = o.meter.Int64Counter(
		"sweeps.candidates",
		otelmetric.WithDescription("Number of sweep candidates processed"),
	)
	o.jobDuration, _ = o.meter.Float64Histogram(
		"sweeps.duration",
		otelmetric.WithDescription("Sweep duration"),
		otelmetric.WithUnit("ms"),
	)

	if tracing.CollectorEndpoint == "" {
		return o, nil
	}

	traceExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(tracing.CollectorEndpoint)))
	if err != nil {
		return o, err
	}

	ratio := tracing.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	o.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(resource.NewWithAttributes("",
			attribute.String("service.name", serviceName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(o.tracerProvider)
	return o, nil
}

// RecordSweepCandidate counts one processed sweep candidate.
func (o *Observability) RecordSweepCandidate(ctx context.Context, job, result string) {
	if o == nil || o.jobCounter == nil {
		return
	}
	o.jobCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("job", job),
		attribute.String("result", result),
	))
}

// RecordSweepDuration records how long one sweep ran.
func (o *Observability) RecordSweepDuration(ctx context.Context, job string, duration time.Duration) {
	if o == nil || o.jobDuration == nil {
		return
	}
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("job", job),
	))
}

// StartSpan opens a span on the globally registered tracer provider.
func StartSpan(ctx context.Context, component, operation string) (context.Context, trace.Span) {
	return otel.Tracer("leasing-workers/"+component).Start(ctx, component+"."+operation)
}

// EndSpan tags the span with the operation outcome and ends it.
func EndSpan(span trace.Span, ok bool, code string, err error) {
	span.SetAttributes(attribute.Bool("leasing.ok", ok))
	if code != "" {
		span.SetAttributes(attribute.String("leasing.error_code", code))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		_ = o.tracerProvider.Shutdown(ctx)
	}
}
