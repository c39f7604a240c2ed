package common

import (
	"context"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/server"
)

// SessionID returns the MCP session of the request, or "" outside a session.
func SessionID(ctx context.Context) string {
	if s := mcpserver.ClientSessionFromContext(ctx); s != nil {
		return s.SessionID()
	}
	return ""
}

// ResolveAccount picks the calendar account a tool call runs against.
//
// Priority order:
//  1. Account bound to the request by the OAuth proxy
//  2. Explicit "account" argument
//  3. Account bound to the MCP session
//  4. "default"
func ResolveAccount(ctx context.Context, sc *server.ServerContext, args map[string]any) string {
	if cred := calendar.CredentialFromContext(ctx); cred.Account != "default" {
		return cred.Account
	}
	if account, ok := args["account"].(string); ok && account != "" {
		return account
	}
	if id := SessionID(ctx); id != "" && sc != nil {
		return sc.Sessions().AccountForSession(id)
	}
	return "default"
}
