package common

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/calendar/memory"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/server"
)

// fakeSession is a minimal MCP client session.
type fakeSession struct {
	id string
	ch chan mcp.JSONRPCNotification
}

func (f *fakeSession) Initialize()       {}
func (f *fakeSession) Initialized() bool { return true }
func (f *fakeSession) SessionID() string { return f.id }
func (f *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return f.ch
}

func withSession(ctx context.Context, id string) context.Context {
	s := mcpserver.NewMCPServer("test", "test")
	return s.WithContext(ctx, &fakeSession{id: id, ch: make(chan mcp.JSONRPCNotification, 1)})
}

func newTestServerContext(t *testing.T, gw *memory.Gateway, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) *server.ServerContext {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := dispatcher.New(gw, dispatcher.Config{Backend: memory.BackendName}, dispatcher.WithLogger(logger))
	sc, err := server.NewServerContext(context.Background(), server.Options{
		Dispatcher: d,
		Metrics:    metrics,
		Audit:      audit,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create server context: %v", err)
	}
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("expected result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return text.Text
}
