package resources

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/calendar/memory"
	"github.com/teemow/calmcp/internal/config"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/server"
)

func newTestServerContext(t *testing.T, cfg *config.Config, readOnly bool) *server.ServerContext {
	t.Helper()
	d := dispatcher.New(memory.New(), cfg.Dispatcher())
	sc, err := server.NewServerContext(context.Background(), server.Options{Dispatcher: d, Config: cfg, ReadOnly: readOnly})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

func TestBuildPolicy_Defaults(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	sc := newTestServerContext(t, cfg, false)

	p := BuildPolicy(context.Background(), sc)

	assert.Equal(t, "default", p.Account)
	assert.Equal(t, "memory", p.Backend)
	assert.Equal(t, "UTC", p.Timezone)
	assert.False(t, p.ReadOnly)
	assert.Equal(t, []string{"create_event", "update_event", "delete_event", "query_events"}, p.Tools)
	assert.Equal(t, 60, p.Scheduling.DefaultDurationMinutes)
	assert.Equal(t, 15, p.Scheduling.MinDurationMinutes)
	assert.Equal(t, 480, p.Scheduling.MaxDurationMinutes)
	assert.False(t, p.Scheduling.AllowPast)
	assert.Equal(t, 30, p.Scheduling.QueryWindowDays)
	assert.Equal(t, 100, p.Scheduling.MaxResults)
	assert.Equal(t, 3, p.Conflicts.Alternatives)
	assert.Equal(t, "block", p.Conflicts.AllDay)
	assert.Nil(t, p.Conflicts.BusinessHours)
	assert.Equal(t, 30, p.IdempotencyTTLMinutes)
}

func TestBuildPolicy_Customized(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendCalDAV
	cfg.CalDAV.Password = "s3cret"
	cfg.Timezone = "Europe/Berlin"
	cfg.Conflict.Buffer = 10 * time.Minute
	cfg.Conflict.Alternatives = -1
	cfg.Conflict.BusinessHours.Enabled = true
	sc := newTestServerContext(t, cfg, true)

	ctx := calendar.WithCredential(context.Background(), calendar.Credential{Account: "alice@example.com"})
	p := BuildPolicy(ctx, sc)

	assert.Equal(t, "alice@example.com", p.Account)
	assert.True(t, p.ReadOnly)
	assert.Equal(t, []string{"query_events"}, p.Tools)
	assert.Equal(t, 10, p.Conflicts.BufferMinutes)
	assert.Zero(t, p.Conflicts.Alternatives)
	require.NotNil(t, p.Conflicts.BusinessHours)
	assert.Equal(t, 9, p.Conflicts.BusinessHours.Start)
	assert.Equal(t, 18, p.Conflicts.BusinessHours.End)
	assert.Len(t, p.Conflicts.BusinessHours.Days, 5)

	body, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "s3cret")
}

func TestRegisterResources(t *testing.T) {
	sc := newTestServerContext(t, config.Default(), false)
	s := mcpserver.NewMCPServer("calmcp-test", "test", mcpserver.WithResourceCapabilities(false, false))
	require.NoError(t, RegisterResources(s, sc))

	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "resources/read",
		"params":  map[string]any{"uri": PolicyURI},
	})
	require.NoError(t, err)

	resp := s.HandleMessage(context.Background(), raw)
	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var envelope struct {
		Result struct {
			Contents []struct {
				URI      string `json:"uri"`
				MIMEType string `json:"mimeType"`
				Text     string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Len(t, envelope.Result.Contents, 1)

	text := envelope.Result.Contents[0]
	assert.Equal(t, PolicyURI, text.URI)
	assert.Equal(t, "application/json", text.MIMEType)

	var p Policy
	require.NoError(t, json.Unmarshal([]byte(text.Text), &p))
	assert.Equal(t, "google", p.Backend)
}
