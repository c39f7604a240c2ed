package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/conflict"
	"github.com/teemow/calmcp/internal/temporal"
)

// Status tags the variant a Result holds.
type Status string

const (
	StatusCommitted       Status = "committed"
	StatusConflict        Status = "conflict"
	StatusValidationError Status = "validation_error"
	StatusBackendError    Status = "backend_error"

	// StatusQueried is the read-only success of query_events.
	StatusQueried Status = "queried"
)

// ErrorKind classifies a failed Result so the agent can decide how to recover.
type ErrorKind string

const (
	KindInvalidArgument     ErrorKind = "invalid_argument"
	KindNotFound            ErrorKind = "not_found"
	KindAmbiguousTime       ErrorKind = "ambiguous_time"
	KindInvalidRange        ErrorKind = "invalid_range"
	KindRecurrenceExpansion ErrorKind = "recurrence_expansion"
	KindInPast              ErrorKind = "in_past"
	KindBackend             ErrorKind = "backend"
)

// Error is the error payload of a failed Result.
type Error struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// Result is the outcome of one tool call. Exactly one payload matches Status:
// Event or Deleted for committed, Conflict for conflict, Events for queried
// and Error for the two error statuses.
type Result struct {
	Status    Status              `json:"status"`
	Operation Operation           `json:"operation"`
	Event     *calendar.Event     `json:"event,omitempty"`
	Deleted   string              `json:"deleted,omitempty"`
	Conflict  *conflict.Report    `json:"conflict,omitempty"`
	Events    []calendar.Event    `json:"events,omitempty"`
	Window    *calendar.TimeRange `json:"window,omitempty"`
	Error     *Error              `json:"error,omitempty"`

	// Replayed is set when the result was served by the idempotency guard.
	// It is not serialized, so a replay is byte-identical to the original.
	Replayed bool `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusCommitted || r.Status == StatusQueried
}

// IsError reports whether the result carries an error.
func (r Result) IsError() bool {
	return r.Status == StatusValidationError || r.Status == StatusBackendError
}

// JSON renders the result for the agent.
func (r Result) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// PastError is returned when an event would start before now.
type PastError struct {
	Start time.Time
	Now   time.Time
}

func (e *PastError) Error() string {
	return fmt.Sprintf("cannot schedule events in the past: %s is before %s",
		temporal.FormatCanonical(e.Start), temporal.FormatCanonical(e.Now))
}

// classify maps an error to its result status and kind.
func classify(err error) (Status, ErrorKind) {
	var (
		argErr   *ArgumentError
		ambErr   *temporal.AmbiguousTimeError
		rangeErr *temporal.InvalidRangeError
		recErr   *conflict.RecurrenceExpansionError
		pastErr  *PastError
	)
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		return StatusValidationError, KindNotFound
	case errors.As(err, &argErr):
		return StatusValidationError, KindInvalidArgument
	case errors.As(err, &ambErr):
		return StatusValidationError, KindAmbiguousTime
	case errors.As(err, &rangeErr):
		return StatusValidationError, KindInvalidRange
	case errors.As(err, &recErr):
		return StatusValidationError, KindRecurrenceExpansion
	case errors.As(err, &pastErr):
		return StatusValidationError, KindInPast
	}
	return StatusBackendError, KindBackend
}

// failure builds the error Result for err.
func failure(op Operation, err error) Result {
	status, kind := classify(err)
	reason := err.Error()
	if kind == KindNotFound {
		reason = calendar.ErrNotFound.Error()
	}
	return Result{
		Status:    status,
		Operation: op,
		Error:     &Error{Kind: kind, Reason: reason},
	}
}
