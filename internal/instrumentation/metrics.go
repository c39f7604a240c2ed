package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrBackend   = "backend"
	attrOutcome   = "outcome"
	attrState     = "state"
	attrTool      = "tool"
	attrAccount   = "account"
)

// Metrics provides methods for recording observability metrics. A nil
// *Metrics and a zero Metrics are both valid no-op recorders.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Calendar backend metrics
	backendOperationsTotal   metric.Int64Counter
	backendOperationDuration metric.Float64Histogram

	// Dispatcher metrics
	dispatchOutcomesTotal    metric.Int64Counter
	dispatchDuration         metric.Float64Histogram
	dispatchTransitionsTotal metric.Int64Counter
	dispatchConflictsTotal   metric.Int64Counter
	conflictOverlaps         metric.Int64Histogram

	// Idempotency metrics
	idempotentReplaysTotal metric.Int64Counter
	idempotencyExpired     metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active agent sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	// Calendar backend Metrics
	m.backendOperationsTotal, err = meter.Int64Counter(
		"calendar_backend_operations_total",
		metric.WithDescription("Total number of calendar backend operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar_backend_operations_total counter: %w", err)
	}

	m.backendOperationDuration, err = meter.Float64Histogram(
		"calendar_backend_operation_duration_seconds",
		metric.WithDescription("Calendar backend operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar_backend_operation_duration_seconds histogram: %w", err)
	}

	// Dispatcher Metrics
	m.dispatchOutcomesTotal, err = meter.Int64Counter(
		"dispatch_outcomes_total",
		metric.WithDescription("Total number of dispatched tool calls by outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_outcomes_total counter: %w", err)
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("Tool call dispatch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_duration_seconds histogram: %w", err)
	}

	m.dispatchTransitionsTotal, err = meter.Int64Counter(
		"dispatch_transitions_total",
		metric.WithDescription("Total number of dispatcher state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_transitions_total counter: %w", err)
	}

	m.dispatchConflictsTotal, err = meter.Int64Counter(
		"dispatch_conflicts_total",
		metric.WithDescription("Total number of tool calls rejected because of a scheduling conflict"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch_conflicts_total counter: %w", err)
	}

	m.conflictOverlaps, err = meter.Int64Histogram(
		"conflict_overlaps",
		metric.WithDescription("Number of overlapping occurrences per conflict"),
		metric.WithUnit("{occurrence}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10, 25),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conflict_overlaps histogram: %w", err)
	}

	// Idempotency Metrics
	m.idempotentReplaysTotal, err = meter.Int64Counter(
		"idempotent_replays_total",
		metric.WithDescription("Total number of tool calls answered from the idempotency cache"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotent_replays_total counter: %w", err)
	}

	m.idempotencyExpired, err = meter.Int64Counter(
		"idempotency_entries_expired_total",
		metric.WithDescription("Total number of idempotency entries removed after expiry"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency_entries_expired_total counter: %w", err)
	}

	// MCP Tool Metrics
	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)

	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBackendOperation records one calendar gateway call.
//
// Parameters:
//   - backend: gateway name (google, caldav, memory)
//   - operation: gateway operation (fetch_window, get, create, update, delete, freebusy)
//   - status: StatusSuccess, StatusNotFound or StatusError
//   - duration: time taken by the call
func (m *Metrics) RecordBackendOperation(ctx context.Context, backend, operation, status string, duration time.Duration) {
	if m == nil || m.backendOperationsTotal == nil || m.backendOperationDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)

	m.backendOperationsTotal.Add(ctx, 1, attrs)
	m.backendOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDispatchOutcome records the final status of a dispatched tool call.
func (m *Metrics) RecordDispatchOutcome(ctx context.Context, operation, outcome string, duration time.Duration) {
	if m == nil || m.dispatchOutcomesTotal == nil || m.dispatchDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrOutcome, outcome),
	)

	m.dispatchOutcomesTotal.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDispatchTransition counts a dispatcher state transition.
func (m *Metrics) RecordDispatchTransition(ctx context.Context, operation, state string) {
	if m == nil || m.dispatchTransitionsTotal == nil {
		return
	}

	m.dispatchTransitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrState, state),
	))
}

// RecordConflict records a call rejected with the given number of overlaps.
func (m *Metrics) RecordConflict(ctx context.Context, operation string, overlaps int) {
	if m == nil || m.dispatchConflictsTotal == nil || m.conflictOverlaps == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(attrOperation, operation))
	m.dispatchConflictsTotal.Add(ctx, 1, attrs)
	m.conflictOverlaps.Record(ctx, int64(overlaps), attrs)
}

// RecordIdempotentReplay counts a call answered from the idempotency cache.
func (m *Metrics) RecordIdempotentReplay(ctx context.Context, operation string) {
	if m == nil || m.idempotentReplaysTotal == nil {
		return
	}

	m.idempotentReplaysTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOperation, operation)))
}

// RecordIdempotencyExpired counts entries removed by the sweeper.
func (m *Metrics) RecordIdempotencyExpired(ctx context.Context, removed int) {
	if m == nil || m.idempotencyExpired == nil || removed <= 0 {
		return
	}

	m.idempotencyExpired.Add(ctx, int64(removed))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
//
// Parameters:
//   - toolName: Name of the MCP tool (e.g., "create_event", "query_events")
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the tool execution
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	m.RecordToolInvocationWithAccount(ctx, toolName, status, "", duration)
}

// RecordToolInvocationWithAccount records an MCP tool invocation with account info.
// The account label is only added when detailedLabels is enabled, and e-mail
// accounts are reduced to their domain (see AccountLabel).
func (m *Metrics) RecordToolInvocationWithAccount(ctx context.Context, toolName, status, account string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, AccountLabel(account)))
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
