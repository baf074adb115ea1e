// Package tracing wires the process-wide OpenTelemetry tracer provider.
// Export failures are logged and swallowed; a flaky collector must never
// surface as an error on the request path.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/docsieve/docsieve/config"
	"github.com/docsieve/docsieve/pkg/logger"
)

// ShutdownFunc flushes buffered spans and releases the provider.
type ShutdownFunc func(ctx context.Context) error

// exporterFactory builds the span exporter; a seam for tests so Init can run
// without a collector listening.
var exporterFactory = func(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	target := grpcTarget(cfg.Endpoint)
	if target == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// safeExporter wraps the real exporter so delivery failures are reported and
// dropped instead of propagating into the batch processor.
type safeExporter struct {
	inner  sdktrace.SpanExporter
	report func(err error, spanCount int)
}

func (e *safeExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.inner.ExportSpans(ctx, spans); err != nil {
		e.report(err, len(spans))
	}
	return nil
}

func (e *safeExporter) Shutdown(ctx context.Context) error {
	return e.inner.Shutdown(ctx)
}

// Init installs the global tracer provider and propagator. With tracing
// disabled a noop provider is installed, so instrumented code paths need no
// enabled checks. The returned ShutdownFunc flushes before releasing and
// honors its context deadline.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (ShutdownFunc, error) {
	installPropagator()

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if strings.TrimSpace(cfg.Exporter) == "" {
		return nil, fmt.Errorf("tracing exporter cannot be empty")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("tracing timeout must be > 0")
	}

	inner, err := exporterFactory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	target := grpcTarget(cfg.Endpoint)
	exp := &safeExporter{
		inner: inner,
		report: func(err error, spanCount int) {
			logger.Warn("tracing export failed",
				"error", err,
				"exporter", kind,
				"endpoint", target,
				"span_count", spanCount,
			)
		},
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(buildSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(shutdownCtx context.Context) error {
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			_ = tp.Shutdown(shutdownCtx)
			return fmt.Errorf("flush tracing provider: %w", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracing provider: %w", err)
		}
		return nil
	}, nil
}

func installPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func buildSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		// "ratio" and anything unconfigured sample by trace ID, honoring
		// the parent's decision on continued traces.
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// grpcTarget reduces a configured endpoint to the host:port form the gRPC
// exporter expects; URL forms like "http://collector:4317/v1/traces" are
// accepted for operator convenience.
func grpcTarget(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}
