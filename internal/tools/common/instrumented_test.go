package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teemow/calmcp/internal/calendar/memory"
	"github.com/teemow/calmcp/internal/instrumentation"
)

func newAuditBuffer() (*instrumentation.AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return instrumentation.NewAuditLogger(logger, instrumentation.AuditLoggingConfig{Enabled: true, IncludePII: true}), &buf
}

func decodeAudit(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("audit entry is not JSON: %v (%q)", err, buf.String())
	}
	return entry
}

func TestInstrumentedToolHandler_Success(t *testing.T) {
	audit, buf := newAuditBuffer()
	sc := newTestServerContext(t, memory.New(), nil, audit)

	called := false
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		if ti := InvocationFromContext(ctx); ti == nil {
			t.Error("expected invocation in handler context")
		} else {
			ti.WithAccount("bob@example.com").WithCallID("call-7").WithOutcome("committed", true)
		}
		return mcp.NewToolResultText("success"), nil
	}

	result, err := InstrumentedToolHandler("create_event", sc, handler)(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called || result == nil {
		t.Fatal("expected handler to be called and return a result")
	}

	entry := decodeAudit(t, buf)
	want := map[string]any{
		"msg":       "tool_executed",
		"tool":      "create_event",
		"backend":   "memory",
		"operation": "create_event",
		"outcome":   "committed",
		"replayed":  true,
		"call_id":   "call-7",
		"account":   "bob@example.com",
		"user":      "bob@example.com",
		"success":   true,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("audit %s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestInstrumentedToolHandler_Error(t *testing.T) {
	audit, buf := newAuditBuffer()
	sc := newTestServerContext(t, memory.New(), nil, audit)

	expectedErr := errors.New("test error")
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, expectedErr
	}

	_, err := InstrumentedToolHandler("delete_event", sc, handler)(context.Background(), mcp.CallToolRequest{})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}

	entry := decodeAudit(t, buf)
	if entry["msg"] != "tool_failed" || entry["error"] != "test error" {
		t.Errorf("unexpected audit entry: %v", entry)
	}
}

func TestInstrumentedToolHandler_ErrorResult(t *testing.T) {
	sc := newTestServerContext(t, memory.New(), nil, nil)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("error message"), nil
	}

	result, err := InstrumentedToolHandler("query_events", sc, handler)(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result == nil || !result.IsError {
		t.Error("expected result.IsError to be true")
	}
}

func TestInstrumentedToolHandler_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := instrumentation.NewMetrics(mp.Meter("test"), false)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	sc := newTestServerContext(t, memory.New(), metrics, nil)

	ok := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	bad := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("bad"), nil
	}
	_, _ = InstrumentedToolHandler("query_events", sc, ok)(context.Background(), mcp.CallToolRequest{})
	_, _ = InstrumentedToolHandler("query_events", sc, ok)(context.Background(), mcp.CallToolRequest{})
	_, _ = InstrumentedToolHandler("query_events", sc, bad)(context.Background(), mcp.CallToolRequest{})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect: %v", err)
	}

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, isSum := m.Data.(metricdata.Sum[int64])
			if !isSum || m.Name != "mcp_tool_invocations_total" {
				continue
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value("status")
				counts[status.AsString()] += dp.Value
			}
		}
	}
	if counts[instrumentation.StatusSuccess] != 2 || counts[instrumentation.StatusError] != 1 {
		t.Errorf("tool invocation counts = %v, want 2 success and 1 error", counts)
	}
}
