// Package resources provides read-only MCP resources. calendar://policy
// tells the agent which scheduling rules the tools enforce so it can plan
// requests that will be accepted.
package resources
