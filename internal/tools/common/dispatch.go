package common

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/server"
)

// CallID returns the agent's "call_id" argument, or a fresh identifier.
func CallID(args map[string]any) string {
	if id, ok := args["call_id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// NewToolCall builds the dispatcher call for an MCP request.
func NewToolCall(ctx context.Context, sc *server.ServerContext, op dispatcher.Operation, request mcp.CallToolRequest) dispatcher.ToolCall {
	args := request.GetArguments()
	if args == nil {
		args = map[string]any{}
	}
	return dispatcher.ToolCall{
		ID:        CallID(args),
		Operation: op,
		Args:      args,
		IssuedAt:  time.Now(),
		Session:   SessionID(ctx),
		Account:   ResolveAccount(ctx, sc, args),
	}
}

// DispatchHandler returns the handler that routes a tool call through the
// dispatcher and renders its Result as JSON text. Validation and backend
// errors are flagged as tool errors; a conflict is a regular result the
// agent is expected to act on.
func DispatchHandler(op dispatcher.Operation, sc *server.ServerContext) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		call := NewToolCall(ctx, sc, op, request)
		if ti := InvocationFromContext(ctx); ti != nil {
			ti.WithCallID(call.ID).WithAccount(call.Account)
		}

		res, err := sc.Dispatch(ctx, call)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to dispatch %s: %v", op, err)), nil
		}
		if ti := InvocationFromContext(ctx); ti != nil {
			ti.WithOutcome(string(res.Status), res.Replayed)
		}

		body, err := res.JSON()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
		}
		result := mcp.NewToolResultText(string(body))
		result.IsError = res.IsError()
		return result, nil
	}
}
