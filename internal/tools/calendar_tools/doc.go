// Package calendar_tools exposes the calendar dispatcher as MCP tools.
//
// Four tools are served: create_event, update_event, delete_event and
// query_events. Each tool hands its raw arguments to the dispatcher, which
// validates them, resolves times, checks for conflicts and commits. The
// dispatcher's Result is returned to the agent as JSON; validation and
// backend failures are flagged as tool errors, while a conflict report is a
// regular result the agent can act on.
//
// Without write access (read-only mode) only query_events is registered.
package calendar_tools
