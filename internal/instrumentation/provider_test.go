package instrumentation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func testConfig(metrics, tracing string) Config {
	return Config{
		ServiceName:     "calmcp-test",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: metrics,
		TracingExporter: tracing,
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{ServiceName: "calmcp-test"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected a no-op metrics recorder when disabled")
	}
	if provider.MetricsHandler() != nil {
		t.Error("expected no metrics handler when disabled")
	}
	if provider.Tracer("test") == nil {
		t.Error("expected a no-op tracer when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on shutdown, got %v", err)
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantHandler bool
		wantErr     string
	}{
		{
			name:        "prometheus",
			config:      testConfig(ExporterPrometheus, ExporterNone),
			wantHandler: true,
		},
		{
			name:        "empty exporters fall back to prometheus without tracing",
			config:      testConfig("", ""),
			wantHandler: true,
		},
		{
			name:   "stdout",
			config: testConfig(ExporterStdout, ExporterStdout),
		},
		{
			name:    "unknown metrics exporter",
			config:  testConfig("statsd", ExporterNone),
			wantErr: "unsupported metrics exporter",
		},
		{
			name:    "unknown tracing exporter",
			config:  testConfig(ExporterPrometheus, "zipkin"),
			wantErr: "unsupported tracing exporter",
		},
		{
			name:    "otlp tracing without endpoint",
			config:  testConfig(ExporterPrometheus, ExporterOTLP),
			wantErr: "OTLP endpoint is required",
		},
		{
			name:    "otlp metrics without endpoint",
			config:  testConfig(ExporterOTLP, ExporterNone),
			wantErr: "OTLP endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			provider, err := NewProvider(ctx, tt.config)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer func() { _ = provider.Shutdown(ctx) }()

			if !provider.Enabled() {
				t.Error("expected provider to be enabled")
			}
			if provider.Metrics() == nil {
				t.Error("expected metrics to be non-nil")
			}
			if got := provider.MetricsHandler() != nil; got != tt.wantHandler {
				t.Errorf("MetricsHandler() present = %v, want %v", got, tt.wantHandler)
			}
		})
	}
}

func TestResourceAttributes(t *testing.T) {
	config := testConfig(ExporterPrometheus, ExporterNone)
	config.ServiceInstanceID = "calmcp-0"
	config.K8sNamespace = "calendars"
	config.Backend = "caldav"

	got := map[attribute.Key]string{}
	for _, kv := range resourceAttributes(config) {
		got[kv.Key] = kv.Value.Emit()
	}

	want := map[attribute.Key]string{
		"service.name":        "calmcp-test",
		"service.version":     "1.0.0",
		"service.instance.id": "calmcp-0",
		"k8s.namespace.name":  "calendars",
		ResourceAttrBackend:   "caldav",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["k8s.pod.name"]; ok {
		t.Error("expected no pod name attribute when unset")
	}
}

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestProvider_MetricsHandlerServesDispatchMetrics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, testConfig(ExporterPrometheus, ExporterNone))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	provider.Metrics().RecordDispatchOutcome(ctx, "create_event", "committed", 20*time.Millisecond)

	body := scrape(t, provider)
	if !strings.Contains(body, "dispatch_outcomes") {
		t.Error("expected dispatch_outcomes in scrape output")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected runtime collectors in scrape output")
	}
}

func TestProvider_RegistriesAreIndependent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := NewProvider(ctx, testConfig(ExporterPrometheus, ExporterNone))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = first.Shutdown(ctx) }()

	second, err := NewProvider(ctx, testConfig(ExporterPrometheus, ExporterNone))
	if err != nil {
		t.Fatalf("second provider: expected no error, got %v", err)
	}
	defer func() { _ = second.Shutdown(ctx) }()

	first.Metrics().RecordDispatchOutcome(ctx, "delete_event", "committed", time.Millisecond)

	if !strings.Contains(scrape(t, first), "delete_event") {
		t.Error("expected first registry to hold the recorded outcome")
	}
	if strings.Contains(scrape(t, second), "delete_event") {
		t.Error("expected second registry to be unaffected")
	}
}
