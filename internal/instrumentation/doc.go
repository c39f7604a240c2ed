// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for the calmcp MCP server.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active agent sessions
//
// Calendar Backend Metrics:
//   - calendar_backend_operations_total: Counter of gateway calls by backend, operation, status
//   - calendar_backend_operation_duration_seconds: Histogram of gateway call durations
//
// Dispatcher Metrics:
//   - dispatch_outcomes_total: Counter of tool calls by operation and outcome
//   - dispatch_duration_seconds: Histogram of dispatch durations
//   - dispatch_transitions_total: Counter of state machine transitions by state
//   - dispatch_conflicts_total: Counter of calls rejected with a conflict
//   - conflict_overlaps: Histogram of overlapping occurrences per conflict
//   - idempotent_replays_total: Counter of calls answered from the idempotency cache
//   - idempotency_entries_expired_total: Counter of swept idempotency entries
//
// MCP Tool Metrics:
//   - mcp_tool_invocations_total: Counter of MCP tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of MCP tool execution durations
//
// # Tracing
//
// Spans are created for MCP tool invocations (tool.<name>), dispatched calls
// (dispatch.<operation>) and gateway calls (calendar.<backend>.<operation>).
// Dispatch spans carry a dispatch.transition event per state change and a
// dispatch.conflict event when a slot overlaps existing events.
//
// The prometheus exporter writes to a registry owned by the Provider, served
// by Provider.MetricsHandler together with the Go runtime and process
// collectors. The resource carries calendar.backend next to the service and
// Kubernetes attributes.
//
// # Configuration
//
// ConfigFromEnv reads these variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: calmcp)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII, AUDIT_LOGGING_LEVEL: audit log controls
//
// # Example Usage
//
//	cfg, err := instrumentation.ConfigFromEnv()
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordBackendOperation(ctx, "google", instrumentation.OperationCreate, instrumentation.StatusSuccess, time.Since(start))
//	recorder.RecordDispatchOutcome(ctx, "create_event", "committed", time.Since(start))
package instrumentation
