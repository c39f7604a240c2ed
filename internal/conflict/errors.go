package conflict

import "fmt"

// RecurrenceExpansionError is returned when a recurrence rule cannot be
// expanded within the configured horizon or occurrence cap.
type RecurrenceExpansionError struct {
	EventID string
	Reason  string
}

func (e *RecurrenceExpansionError) Error() string {
	if e.EventID == "" {
		return "recurrence expansion failed: " + e.Reason
	}
	return fmt.Sprintf("recurrence expansion failed for event %s: %s", e.EventID, e.Reason)
}

func expansionError(id, format string, args ...any) error {
	return &RecurrenceExpansionError{EventID: id, Reason: fmt.Sprintf(format, args...)}
}
