package common

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/server"
)

// ToolHandler is the signature of an MCP tool handler.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

type invocationKey struct{}

// InvocationFromContext returns the invocation record of the instrumented
// handler running the current call, or nil.
func InvocationFromContext(ctx context.Context) *instrumentation.ToolInvocation {
	ti, _ := ctx.Value(invocationKey{}).(*instrumentation.ToolInvocation)
	return ti
}

// InstrumentedToolHandler wraps a tool handler with a span, metrics and audit
// logging. The wrapped handler may enrich the record through
// InvocationFromContext.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(toolName string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		backend := sc.Dispatcher().Config().Backend
		ctx, span := instrumentation.StartToolSpan(ctx, toolName,
			attribute.String(instrumentation.SpanAttrBackend, backend),
		)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx).
			WithOperation(backend, toolName)
		ctx = context.WithValue(ctx, invocationKey{}, invocation)

		result, err := handler(ctx, request)
		duration := time.Since(start)

		status := instrumentation.StatusSuccess
		switch {
		case err != nil:
			status = instrumentation.StatusError
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			status = instrumentation.StatusError
			invocation.Complete(false, nil)
			span.SetAttributes(attribute.String(instrumentation.SpanAttrOutcome, invocation.Outcome))
		default:
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}
		if strings.Contains(invocation.Account, "@") {
			invocation.WithUser(invocation.Account)
		}

		sc.Metrics().RecordToolInvocationWithAccount(ctx, toolName, status, invocation.Account, duration)
		if audit := sc.AuditLogger(); audit != nil {
			audit.LogToolInvocation(ctx, invocation)
		}
		return result, err
	}
}
