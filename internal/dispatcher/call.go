package dispatcher

import "time"

// Operation names a tool the dispatcher serves.
type Operation string

const (
	OpCreate Operation = "create_event"
	OpUpdate Operation = "update_event"
	OpDelete Operation = "delete_event"
	OpQuery  Operation = "query_events"
)

// Operations lists every supported operation.
var Operations = []Operation{OpCreate, OpUpdate, OpDelete, OpQuery}

// ReadOnly reports whether the operation never writes to the calendar.
func (o Operation) ReadOnly() bool {
	return o == OpQuery
}

// ToolCall is one request emitted by the agent.
type ToolCall struct {
	// ID is the agent runtime's opaque call identifier. It is recorded on
	// created events but never used for deduplication.
	ID        string
	Operation Operation
	Args      map[string]any
	IssuedAt  time.Time

	// Session scopes idempotency; Account selects the calendar credential.
	Session string
	Account string
}
