package instrumentation

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// Exporter names accepted by Config.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Label values for the status attribute.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusUnknown = "unknown"

	// StatusNotFound marks a gateway call whose target did not exist.
	StatusNotFound = "not_found"
)

// Config holds the configuration for OpenTelemetry instrumentation. The
// envconfig tags name the environment variables ConfigFromEnv reads; the
// variables keep their conventional OTEL_* names where one exists.
type Config struct {
	ServiceName    string `envconfig:"OTEL_SERVICE_NAME" default:"calmcp"`
	ServiceVersion string `ignored:"true"`

	// ServiceInstanceID defaults to the hostname. In Kubernetes this is
	// typically the pod name.
	ServiceInstanceID string `envconfig:"OTEL_SERVICE_INSTANCE_ID"`
	K8sNamespace      string `envconfig:"K8S_NAMESPACE"`
	K8sPodName        string `envconfig:"K8S_POD_NAME"`

	// Backend is recorded as the calendar.backend resource attribute so
	// dashboards can split google and caldav deployments.
	Backend string `ignored:"true"`

	// Enabled turns metrics and tracing on. INSTRUMENTATION_ENABLED=false
	// gives a provider whose recorders are no-ops.
	Enabled bool `envconfig:"INSTRUMENTATION_ENABLED" default:"true"`

	// MetricsExporter is prometheus, otlp or stdout.
	MetricsExporter string `envconfig:"METRICS_EXPORTER" default:"prometheus"`

	// TracingExporter is otlp, stdout or none.
	TracingExporter string `envconfig:"TRACING_EXPORTER" default:"none"`

	// OTLPEndpoint is host:port of the collector, without scheme.
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// OTLPInsecure disables TLS towards the collector. Traces carry event
	// titles in span attributes only when detailed labels are on, but the
	// transport should still be encrypted outside development.
	OTLPInsecure bool `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"false"`

	TraceSamplingRate float64 `envconfig:"OTEL_TRACES_SAMPLER_ARG" default:"0.1"`

	// DetailedLabels adds the account to tool invocation metrics. Keep it off
	// in multi-tenant deployments.
	DetailedLabels bool `envconfig:"METRICS_DETAILED_LABELS" default:"false"`

	AuditLogging AuditLoggingConfig `envconfig:"AUDIT_LOGGING"`
}

// AuditLoggingConfig holds configuration for audit logging.
type AuditLoggingConfig struct {
	// Enabled determines if audit logging is active.
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// IncludePII logs full account e-mail addresses instead of hashes.
	// Audit logs with PII must be routed to storage with access controls.
	IncludePII bool `envconfig:"INCLUDE_PII" default:"false"`

	// LogLevel is debug, info, warn or error. Audit events are logged
	// regardless of the handler level.
	LogLevel string `envconfig:"LEVEL" default:"info"`
}

// DefaultConfig returns the built-in defaults without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:       "calmcp",
		ServiceVersion:    "unknown",
		Enabled:           true,
		MetricsExporter:   ExporterPrometheus,
		TracingExporter:   ExporterNone,
		TraceSamplingRate: 0.1,
		AuditLogging: AuditLoggingConfig{
			Enabled:  true,
			LogLevel: "info",
		},
	}
}

// ConfigFromEnv reads the configuration from the environment and validates
// it. Unset variables take their defaults.
func ConfigFromEnv() (Config, error) {
	c := Config{ServiceVersion: "unknown"}
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("failed to read instrumentation config: %w", err)
	}

	// Downward API variables commonly used in pod specs.
	if c.K8sNamespace == "" {
		c.K8sNamespace = os.Getenv("POD_NAMESPACE")
	}
	if c.K8sPodName == "" {
		c.K8sPodName = os.Getenv("HOSTNAME")
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" && (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) {
		return fmt.Errorf("OTLP endpoint is required when using an OTLP exporter; set OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return nil
}
