package calendar_tools

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/server"
	"github.com/teemow/calmcp/internal/tools/common"
)

// RegisterCalendarTools registers the calendar tools with the MCP server.
// In read-only mode only query_events is registered.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	for _, tool := range Tools(sc.ReadOnly()) {
		op := dispatcher.Operation(tool.Name)
		s.AddTool(tool, common.InstrumentedToolHandler(tool.Name, sc, common.DispatchHandler(op, sc)))
	}
	return nil
}

// Tools returns the tool definitions served in the given mode.
func Tools(readOnly bool) []mcp.Tool {
	tools := []mcp.Tool{queryEventsTool()}
	if readOnly {
		return tools
	}
	return append(tools, createEventTool(), updateEventTool(), deleteEventTool())
}

// routingOptions are accepted by every tool.
func routingOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("account",
			mcp.Description("Account name (default: 'default'). Selects the calendar credential when several accounts are configured."),
		),
		mcp.WithString("call_id",
			mcp.Description("Opaque identifier of this tool call, recorded on created events"),
		),
	}
}

// timeOptions describe when an event happens. Exactly one way of giving the
// start is expected: an absolute start, a date (with optional time), a
// relative offset, or a weekday.
func timeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("start",
			mcp.Description("Start as a date-time, e.g. '2025-01-15T14:00:00' or '2025-01-15 2:00 PM'. An offset makes the zone explicit."),
		),
		mcp.WithString("date",
			mcp.Description("Start date: YYYY-MM-DD, YYYY/MM/DD, DD-MM-YYYY or DD/MM/YYYY."),
		),
		mcp.WithString("time",
			mcp.Description("Start time of day, 'HH:MM' or 12-hour like '3 PM'. Combined with date, weekday or in_days."),
		),
		mcp.WithNumber("in_minutes",
			mcp.Description("Start this many minutes from now"),
		),
		mcp.WithNumber("in_days",
			mcp.Description("Start this many days from today"),
		),
		mcp.WithString("weekday",
			mcp.Description("Start on the next occurrence of this weekday (today counts), e.g. 'monday'"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA time zone of the given times, e.g. 'Europe/Berlin'. Defaults to the configured zone."),
		),
		mcp.WithBoolean("all_day",
			mcp.Description("Whole-day event; any time of day is ignored"),
		),
		mcp.WithString("end",
			mcp.Description("End as a date-time, or a time of day on the start date. Cannot be combined with duration_minutes."),
		),
		mcp.WithNumber("duration_minutes",
			mcp.Description("Length in minutes (default 60, between 15 minutes and 8 hours)"),
		),
	}
}

// detailOptions describe what an event is.
func detailOptions(titleRequired bool) []mcp.ToolOption {
	title := []mcp.PropertyOption{mcp.Description("Event title")}
	if titleRequired {
		title = append(title, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("title", title...),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithArray("attendees",
			mcp.Description("Participants. E-mail addresses are invited; other names are listed in the description. A comma-separated string is accepted too."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("conferencing",
			mcp.Description("Attach a video conference link"),
		),
		mcp.WithObject("recurrence",
			mcp.Description("Repeat rule as {frequency: daily|weekly|monthly, interval, until, count}. An RRULE string such as 'RRULE:FREQ=WEEKLY;BYDAY=MO' is accepted too."),
			mcp.Properties(map[string]any{
				"frequency": map[string]any{"type": "string", "enum": []string{"daily", "weekly", "monthly"}},
				"interval":  map[string]any{"type": "number"},
				"until":     map[string]any{"type": "string"},
				"count":     map[string]any{"type": "number"},
			}),
		),
		mcp.WithBoolean("force",
			mcp.Description("Commit even if the slot overlaps existing events"),
		),
	}
}

func newTool(name string, base []mcp.ToolOption, groups ...[]mcp.ToolOption) mcp.Tool {
	opts := base
	for _, g := range groups {
		opts = append(opts, g...)
	}
	return mcp.NewTool(name, opts...)
}

func createEventTool() mcp.Tool {
	return newTool(string(dispatcher.OpCreate), []mcp.ToolOption{
		mcp.WithDescription("Create a calendar event. Overlaps with existing events are reported as a conflict with alternative slots unless force is set. Repeating an identical request returns the original result instead of a duplicate."),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	}, detailOptions(true), timeOptions(), routingOptions())
}

func updateEventTool() mcp.Tool {
	return newTool(string(dispatcher.OpUpdate), []mcp.ToolOption{
		mcp.WithDescription("Update fields of an existing event. Only the given fields change. Moving the event in time runs the conflict check, ignoring the event itself."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("ID of the event to update"),
		),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	}, detailOptions(false), timeOptions(), routingOptions())
}

func deleteEventTool() mcp.Tool {
	return newTool(string(dispatcher.OpDelete), []mcp.ToolOption{
		mcp.WithDescription("Delete an event by ID"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("ID of the event to delete"),
		),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	}, routingOptions())
}

func queryEventsTool() mcp.Tool {
	return newTool(string(dispatcher.OpQuery), []mcp.ToolOption{
		mcp.WithDescription("List events in a time window (default: the next 30 days), sorted by start. Recurring events are expanded into their occurrences."),
		mcp.WithString("id",
			mcp.Description("Return only the event with this ID"),
		),
		mcp.WithString("from",
			mcp.Description("Window start, a date (midnight) or date-time. Defaults to now."),
		),
		mcp.WithString("to",
			mcp.Description("Window end, a date (inclusive) or date-time. At most one year after from."),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA time zone of from and to"),
		),
		mcp.WithString("title",
			mcp.Description("Only events whose title contains this text (case-insensitive)"),
		),
		mcp.WithString("attendee",
			mcp.Description("Only events with this attendee"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of events to return (default 100)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
	}, routingOptions())
}
