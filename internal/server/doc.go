// Package server hosts the calendar dispatcher behind the MCP transports.
//
// # Key Components
//
// ServerContext holds the dispatcher and the dependencies shared by tool
// handlers. Its Dispatch method runs each call inside the caller's session.
//
// SessionRegistry tracks agent sessions. Calls of one session are
// serialized so a session sees its own writes in order, while separate
// sessions proceed concurrently. Each session is bound to a calendar
// account; idle sessions expire on a cron schedule.
//
// HTTPServer serves the streamable HTTP transport at /mcp together with
// Kubernetes health probes. Authentication happens in an OAuth proxy in front
// of the server, which names the calendar account in the X-Calendar-Account
// header.
//
// MetricsServer exposes Prometheus metrics on a separate port.
package server
