package temporal

import "fmt"

// AmbiguousTimeError is returned when an expression under-specifies the date
// or time and no reasonable default exists.
type AmbiguousTimeError struct {
	Field  string
	Reason string
}

func (e *AmbiguousTimeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ambiguous time: %s", e.Reason)
	}
	return fmt.Sprintf("ambiguous time in %s: %s", e.Field, e.Reason)
}

// InvalidRangeError is returned when a resolved end is not strictly after the
// start, or the duration is outside the allowed bounds.
type InvalidRangeError struct {
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return "invalid time range: " + e.Reason
}

func ambiguous(field, format string, args ...any) error {
	return &AmbiguousTimeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func invalidRange(format string, args ...any) error {
	return &InvalidRangeError{Reason: fmt.Sprintf(format, args...)}
}
