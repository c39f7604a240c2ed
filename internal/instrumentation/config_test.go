package instrumentation

import (
	"os"
	"strings"
	"testing"
)

// clearInstrumentationEnv unsets every variable ConfigFromEnv reads.
func clearInstrumentationEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OTEL_SERVICE_NAME", "OTEL_SERVICE_INSTANCE_ID", "K8S_NAMESPACE", "K8S_POD_NAME",
		"POD_NAMESPACE", "HOSTNAME", "INSTRUMENTATION_ENABLED", "METRICS_EXPORTER",
		"TRACING_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
		"OTEL_TRACES_SAMPLER_ARG", "METRICS_DETAILED_LABELS", "AUDIT_LOGGING_ENABLED",
		"AUDIT_LOGGING_INCLUDE_PII", "AUDIT_LOGGING_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "calmcp" {
		t.Errorf("expected ServiceName 'calmcp', got %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected Enabled to be true by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected MetricsExporter 'prometheus', got %q", config.MetricsExporter)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("expected TracingExporter 'none', got %q", config.TracingExporter)
	}
	if !config.AuditLogging.Enabled || config.AuditLogging.IncludePII {
		t.Errorf("expected audit logging enabled without PII, got %+v", config.AuditLogging)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	clearInstrumentationEnv(t)

	config, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	want := DefaultConfig()
	if config.ServiceName != want.ServiceName || config.Enabled != want.Enabled ||
		config.MetricsExporter != want.MetricsExporter || config.TracingExporter != want.TracingExporter {
		t.Errorf("ConfigFromEnv() = %+v, want defaults %+v", config, want)
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("expected TraceSamplingRate 0.1, got %f", config.TraceSamplingRate)
	}
	if config.AuditLogging != want.AuditLogging {
		t.Errorf("expected audit logging %+v, got %+v", want.AuditLogging, config.AuditLogging)
	}
}

func TestConfigFromEnv(t *testing.T) {
	clearInstrumentationEnv(t)
	t.Setenv("OTEL_SERVICE_NAME", "calmcp-staging")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("METRICS_DETAILED_LABELS", "true")
	t.Setenv("AUDIT_LOGGING_INCLUDE_PII", "true")
	t.Setenv("AUDIT_LOGGING_LEVEL", "warn")
	t.Setenv("POD_NAMESPACE", "calendars")
	t.Setenv("HOSTNAME", "calmcp-7f9c")

	config, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	if config.ServiceName != "calmcp-staging" {
		t.Errorf("expected ServiceName 'calmcp-staging', got %q", config.ServiceName)
	}
	if config.Enabled {
		t.Error("expected Enabled to be false")
	}
	if config.MetricsExporter != ExporterStdout {
		t.Errorf("expected MetricsExporter 'stdout', got %q", config.MetricsExporter)
	}
	if config.TracingExporter != ExporterStdout {
		t.Errorf("expected TracingExporter 'stdout', got %q", config.TracingExporter)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("expected TraceSamplingRate 0.5, got %f", config.TraceSamplingRate)
	}
	if !config.DetailedLabels {
		t.Error("expected DetailedLabels to be true")
	}
	if !config.AuditLogging.IncludePII || config.AuditLogging.LogLevel != "warn" {
		t.Errorf("unexpected audit logging config %+v", config.AuditLogging)
	}
	if config.K8sNamespace != "calendars" || config.K8sPodName != "calmcp-7f9c" {
		t.Errorf("expected downward API fallbacks, got namespace=%q pod=%q", config.K8sNamespace, config.K8sPodName)
	}
}

func TestConfigFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		errContains string
	}{
		{
			name:        "malformed bool",
			env:         map[string]string{"INSTRUMENTATION_ENABLED": "sometimes"},
			errContains: "INSTRUMENTATION_ENABLED",
		},
		{
			name:        "malformed sampling rate",
			env:         map[string]string{"OTEL_TRACES_SAMPLER_ARG": "lots"},
			errContains: "OTEL_TRACES_SAMPLER_ARG",
		},
		{
			name:        "otlp without endpoint",
			env:         map[string]string{"TRACING_EXPORTER": "otlp"},
			errContains: "OTLP endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearInstrumentationEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := ConfigFromEnv()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errContains string
	}{
		{
			name: "valid config with prometheus",
			config: Config{
				ServiceName:     "test",
				Enabled:         true,
				MetricsExporter: ExporterPrometheus,
				TracingExporter: ExporterNone,
			},
			expectError: false,
		},
		{
			name: "valid config with otlp",
			config: Config{
				ServiceName:     "test",
				Enabled:         true,
				MetricsExporter: ExporterPrometheus,
				TracingExporter: ExporterOTLP,
				OTLPEndpoint:    "localhost:4318",
			},
			expectError: false,
		},
		{
			name: "invalid sampling rate negative",
			config: Config{
				TraceSamplingRate: -0.5,
			},
			expectError: true,
			errContains: "sampling rate",
		},
		{
			name: "invalid sampling rate above 1",
			config: Config{
				TraceSamplingRate: 1.5,
			},
			expectError: true,
			errContains: "sampling rate",
		},
		{
			name: "invalid metrics exporter",
			config: Config{
				MetricsExporter: "invalid",
			},
			expectError: true,
			errContains: "invalid metrics exporter",
		},
		{
			name: "invalid tracing exporter",
			config: Config{
				TracingExporter: "invalid",
			},
			expectError: true,
			errContains: "invalid tracing exporter",
		},
		{
			name: "otlp tracing without endpoint",
			config: Config{
				TracingExporter: ExporterOTLP,
				OTLPEndpoint:    "",
			},
			expectError: true,
			errContains: "OTLP endpoint is required",
		},
		{
			name: "otlp metrics without endpoint",
			config: Config{
				MetricsExporter: ExporterOTLP,
				OTLPEndpoint:    "",
			},
			expectError: true,
			errContains: "OTLP endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}
