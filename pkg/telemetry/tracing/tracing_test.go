package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/docsieve/docsieve/config"
)

type stubExporter struct {
	exportErr   error
	exportCalls int
	shutdowns   int
}

func (s *stubExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	s.exportCalls++
	return s.exportErr
}

func (s *stubExporter) Shutdown(context.Context) error {
	s.shutdowns++
	return nil
}

type stallingExporter struct{}

func (stallingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (stallingExporter) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func useExporter(t *testing.T, exp sdktrace.SpanExporter) {
	t.Helper()
	orig := exporterFactory
	exporterFactory = func(context.Context, config.TracingConfig) (sdktrace.SpanExporter, error) {
		return exp, nil
	}
	t.Cleanup(func() { exporterFactory = orig })
}

func enabledConfig() config.TracingConfig {
	return config.TracingConfig{
		Enabled:    true,
		Exporter:   "otlp",
		Endpoint:   "localhost:4317",
		Timeout:    200 * time.Millisecond,
		Sampler:    "always_on",
		SampleRate: 1.0,
	}
}

func TestInitDisabledSkipsExporter(t *testing.T) {
	exp := &stubExporter{}
	useExporter(t, exp)

	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "docsieve", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if exp.exportCalls != 0 || exp.shutdowns != 0 {
		t.Error("disabled tracing must not touch the exporter")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*config.TracingConfig)
		want string
	}{
		{"missing exporter", func(c *config.TracingConfig) { c.Exporter = " " }, "exporter"},
		{"missing endpoint", func(c *config.TracingConfig) { c.Endpoint = "" }, "endpoint"},
		{"zero timeout", func(c *config.TracingConfig) { c.Timeout = 0 }, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := enabledConfig()
			tc.mut(&cfg)
			_, err := Init(context.Background(), cfg, "docsieve", "test")
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Init error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestInitAndShutdown(t *testing.T) {
	exp := &stubExporter{}
	useExporter(t, exp)

	shutdown, err := Init(context.Background(), enabledConfig(), "docsieve", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if exp.shutdowns == 0 {
		t.Error("exporter was not shut down")
	}
}

func TestExportFailureDoesNotFailShutdown(t *testing.T) {
	exp := &stubExporter{exportErr: errors.New("collector unreachable")}
	useExporter(t, exp)

	shutdown, err := Init(context.Background(), enabledConfig(), "docsieve", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "publish")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown must not surface delivery failures: %v", err)
	}
	if exp.exportCalls == 0 {
		t.Error("expected the flush to reach the exporter")
	}
}

func TestSafeExporterReportsAndSwallows(t *testing.T) {
	var reportedErr error
	var reportedCount int
	exp := &safeExporter{
		inner: &stubExporter{exportErr: errors.New("boom")},
		report: func(err error, spanCount int) {
			reportedErr = err
			reportedCount = spanCount
		},
	}

	if err := exp.ExportSpans(context.Background(), make([]sdktrace.ReadOnlySpan, 3)); err != nil {
		t.Fatalf("ExportSpans must swallow the failure, got %v", err)
	}
	if reportedErr == nil || reportedCount != 3 {
		t.Errorf("report got (%v, %d), want the failure and 3 spans", reportedErr, reportedCount)
	}
}

func TestShutdownHonorsDeadline(t *testing.T) {
	useExporter(t, stallingExporter{})

	shutdown, err := Init(context.Background(), enabledConfig(), "docsieve", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := shutdown(ctx); err == nil {
		t.Fatal("expected a deadline error from shutdown")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took %v, want it bounded by the context", elapsed)
	}
}

func TestBuildSampler(t *testing.T) {
	if got := buildSampler(config.TracingConfig{Sampler: "always_on"}).Description(); !strings.Contains(got, "AlwaysOnSampler") {
		t.Errorf("always_on sampler = %s", got)
	}
	if got := buildSampler(config.TracingConfig{Sampler: "always_off"}).Description(); !strings.Contains(got, "AlwaysOffSampler") {
		t.Errorf("always_off sampler = %s", got)
	}
	if got := buildSampler(config.TracingConfig{Sampler: "ratio", SampleRate: 0.25}).Description(); !strings.Contains(strings.ToLower(got), "parentbased") {
		t.Errorf("ratio sampler = %s", got)
	}
}

func TestGRPCTarget(t *testing.T) {
	cases := map[string]string{
		"localhost:4317":                  "localhost:4317",
		"http://collector:4317/v1/traces": "collector:4317",
		"  otel.internal:4317  ":          "otel.internal:4317",
		"":                                "",
	}
	for in, want := range cases {
		if got := grpcTarget(in); got != want {
			t.Errorf("grpcTarget(%q) = %q, want %q", in, got, want)
		}
	}
}
