// Package telemetry sets up OpenTelemetry tracing for snapshot runs.
package telemetry

import (
	"context"
	"fmt"
	"strconv"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/xunniaona/RobloxServerListEndpoint"

// Config selects where spans go.
type Config struct {
	ServiceName string
	// ProjectID is the Google Cloud project receiving spans. Empty keeps
	// spans in-process.
	ProjectID string
}

// newCloudExporter builds the Cloud Trace exporter. Tests replace it.
var newCloudExporter = func(projectID string) (sdktrace.SpanExporter, error) {
	return texporter.New(texporter.WithProjectID(projectID))
}

// Setup installs a tracer provider that batches spans to Cloud Trace when a
// project is configured. Shutdown on the returned provider flushes the batch.
func Setup(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.ProjectID != "" {
		exporter, err := newCloudExporter(cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return InitTracerProvider(ctx, cfg.ServiceName, opts...)
}

// InitTracerProvider installs a global tracer provider and the W3C trace
// context propagator. Exporters are supplied through opts.
func InitTracerProvider(ctx context.Context, serviceName string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// StartRun opens the root span of a run.
func StartRun(ctx context.Context, runID string, placeID int64) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, "serverlist.run",
		trace.WithAttributes(
			attribute.String("serverlist.run_id", runID),
			attribute.String("serverlist.place_id", strconv.FormatInt(placeID, 10)),
		),
	)
}

// StartFetch opens a span around one page request.
func StartFetch(ctx context.Context, url string, hasCursor bool) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, "serverlist.fetch_page",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethod("GET"),
			semconv.HTTPURL(url),
			attribute.Bool("serverlist.has_cursor", hasCursor),
		),
	)
}

// End records err, if any, and closes span.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the hex trace ID carried by ctx, or "" when untraced.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
