package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/server"
	"github.com/teemow/calmcp/internal/tools/common"
)

// PolicyURI is the resource describing the effective scheduling policy.
const PolicyURI = "calendar://policy"

// RegisterResources registers the calendar resources with the MCP server.
func RegisterResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	policyResource := mcp.NewResource(
		PolicyURI,
		"Scheduling Policy",
		mcp.WithResourceDescription("Rules the calendar tools apply: default and allowed durations, conflict handling, suggested alternatives and the caller's account"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(policyResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handlePolicy(ctx, request, sc)
	})
	return nil
}

// Policy is the agent-facing view of the configuration. Credentials and
// storage details are left out.
type Policy struct {
	Account  string   `json:"account"`
	Backend  string   `json:"backend"`
	Timezone string   `json:"timezone"`
	ReadOnly bool     `json:"read_only"`
	Tools    []string `json:"tools"`

	Scheduling struct {
		DefaultDurationMinutes int  `json:"default_duration_minutes"`
		MinDurationMinutes     int  `json:"min_duration_minutes"`
		MaxDurationMinutes     int  `json:"max_duration_minutes"`
		AllowPast              bool `json:"allow_past"`
		QueryWindowDays        int  `json:"query_window_days"`
		MaxResults             int  `json:"max_results"`
	} `json:"scheduling"`

	Conflicts struct {
		BufferMinutes           int            `json:"buffer_minutes"`
		AllDay                  string         `json:"all_day"`
		AttendeeFreeBusy        bool           `json:"attendee_freebusy"`
		Alternatives            int            `json:"alternatives"`
		AlternativeHorizonHours int            `json:"alternative_horizon_hours"`
		BusinessHours           *BusinessHours `json:"business_hours,omitempty"`
	} `json:"conflicts"`

	IdempotencyTTLMinutes int `json:"idempotency_ttl_minutes"`
}

// BusinessHours limits suggested alternatives to working time.
type BusinessHours struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Days  []string `json:"days"`
}

// BuildPolicy renders the policy seen by the caller of ctx.
func BuildPolicy(ctx context.Context, sc *server.ServerContext) Policy {
	cfg := sc.Config()

	var p Policy
	p.Account = common.ResolveAccount(ctx, sc, nil)
	p.Backend = sc.Dispatcher().Config().Backend
	p.Timezone = cfg.Timezone
	p.ReadOnly = sc.ReadOnly()
	for _, op := range dispatcher.Operations {
		if !p.ReadOnly || op.ReadOnly() {
			p.Tools = append(p.Tools, string(op))
		}
	}

	p.Scheduling.DefaultDurationMinutes = minutes(cfg.Scheduling.DefaultDuration)
	p.Scheduling.MinDurationMinutes = minutes(cfg.Scheduling.MinDuration)
	p.Scheduling.MaxDurationMinutes = minutes(cfg.Scheduling.MaxDuration)
	p.Scheduling.AllowPast = cfg.Scheduling.AllowPast
	p.Scheduling.QueryWindowDays = int(cfg.Scheduling.QueryWindow / (24 * time.Hour))
	p.Scheduling.MaxResults = cfg.Scheduling.MaxResults

	c := cfg.Conflict
	p.Conflicts.BufferMinutes = minutes(c.Buffer)
	p.Conflicts.AllDay = c.AllDay
	p.Conflicts.AttendeeFreeBusy = c.AttendeeFreeBusy
	p.Conflicts.Alternatives = max(c.Alternatives, 0)
	p.Conflicts.AlternativeHorizonHours = int(c.AlternativeHorizon / time.Hour)
	if c.BusinessHours.Enabled {
		p.Conflicts.BusinessHours = &BusinessHours{Start: c.BusinessHours.Start, End: c.BusinessHours.End, Days: c.BusinessHours.Days}
	}

	p.IdempotencyTTLMinutes = minutes(cfg.Idempotency.TTL)
	return p
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}

func handlePolicy(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	jsonData, err := json.MarshalIndent(BuildPolicy(ctx, sc), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
