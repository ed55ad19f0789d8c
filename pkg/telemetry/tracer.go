package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Common attribute keys for pgfroyo tracing.
var (
	AttrOperation   = attribute.Key("pgfroyo.operation")
	AttrTarget      = attribute.Key("pgfroyo.target")
	AttrAction      = attribute.Key("pgfroyo.action")
	AttrChanged     = attribute.Key("pgfroyo.changed")
	AttrExitStatus  = attribute.Key("pgfroyo.exit_status")
	AttrErrorKind   = attribute.Key("error.kind")
	AttrOperationID = attribute.Key("pgfroyo.operation_id")
	AttrRunID       = attribute.Key("pgfroyo.run_id")
	AttrTargetHost  = attribute.Key("target.host")
)

// Tracer wraps the OpenTelemetry tracer. It implements postgres.Observer:
// every lifecycle operation becomes one span.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	return newTracer(cfg, serviceName, serviceVersion, environment, os.Stdout)
}

func newTracer(cfg TracingConfig, serviceName, serviceVersion, environment string, stdout io.Writer) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(serviceName),
			config: cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg, serviceName, serviceVersion)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
	case "none":
		// spans are created but not exported
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		// spans are exported as they end
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig, serviceName, serviceVersion string) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(serviceName + "/" + serviceVersion)),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
	}

	return otlptracegrpc.New(context.Background(), opts...)
}

// StartRunSpan starts the root span of a CLI run.
func (t *Tracer) StartRunSpan(ctx context.Context, command, runID, host string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pgfroyo "+command, trace.WithAttributes(
		AttrRunID.String(runID),
		AttrTargetHost.String(host),
	))
}

// OperationStarted implements postgres.Observer.
func (t *Tracer) OperationStarted(ctx context.Context, op postgres.Operation, target string) context.Context {
	ctx, _ = t.tracer.Start(ctx, "postgres."+string(op), trace.WithAttributes(
		AttrOperation.String(string(op)),
		AttrTarget.String(target),
	))
	return ctx
}

// OperationFinished implements postgres.Observer.
func (t *Tracer) OperationFinished(ctx context.Context, result *postgres.OperationResult, err error) {
	span := trace.SpanFromContext(ctx)
	if result != nil {
		span.SetAttributes(
			AttrOperationID.String(result.ID),
			AttrAction.String(result.Action),
			AttrChanged.Bool(result.Changed),
			AttrExitStatus.Int(result.ExitStatus),
		)
	}
	if err != nil {
		span.SetAttributes(AttrErrorKind.String(string(postgres.KindOf(err))))
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
