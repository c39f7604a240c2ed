package calendar

import (
	"time"
)

// Event represents one calendar entry as seen by the dispatcher.
// Start and End are always stored in UTC; TimeZone carries the display zone.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"time_zone,omitempty"`
	AllDay      bool      `json:"all_day,omitempty"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`

	// Conference data
	Conferencing   bool   `json:"conferencing,omitempty"`
	ConferenceLink string `json:"conference_link,omitempty"`

	// Recurrence holds RFC 5545 lines (RRULE, EXDATE) for recurring templates.
	Recurrence []string `json:"recurrence,omitempty"`

	// RecurringEventID is set on instances a backend expanded itself.
	RecurringEventID string `json:"recurring_event_id,omitempty"`

	// Transparent events are shown as "free" and never block a slot.
	Transparent bool `json:"transparent,omitempty"`

	// SourceCallID is the tool call that created or last modified the event.
	SourceCallID string `json:"source_call_id,omitempty"`

	HTMLLink string `json:"link,omitempty"`
}

// IsRecurring reports whether the event is a recurring template.
func (e Event) IsRecurring() bool {
	return len(e.Recurrence) > 0
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Range returns the event's own time range.
func (e Event) Range() TimeRange {
	return TimeRange{Start: e.Start, End: e.End}
}

// EventPatch describes a partial update. Nil fields are left unchanged.
type EventPatch struct {
	Title        *string
	Description  *string
	Location     *string
	Start        *time.Time
	End          *time.Time
	TimeZone     *string
	AllDay       *bool
	Attendees    *[]string
	Conferencing *bool
	Recurrence   *[]string
	SourceCallID string
}

// Temporal reports whether the patch moves the event in time.
func (p EventPatch) Temporal() bool {
	return p.Start != nil || p.End != nil || p.AllDay != nil || p.Recurrence != nil
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return !p.Temporal() && p.Title == nil && p.Description == nil && p.Location == nil &&
		p.TimeZone == nil && p.Attendees == nil && p.Conferencing == nil
}

// Apply returns a copy of e with the patch applied.
func (p EventPatch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Start != nil {
		e.Start = p.Start.UTC()
	}
	if p.End != nil {
		e.End = p.End.UTC()
	}
	if p.TimeZone != nil {
		e.TimeZone = *p.TimeZone
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.Attendees != nil {
		e.Attendees = append([]string(nil), (*p.Attendees)...)
	}
	if p.Conferencing != nil {
		e.Conferencing = *p.Conferencing
	}
	if p.Recurrence != nil {
		e.Recurrence = append([]string(nil), (*p.Recurrence)...)
	}
	if p.SourceCallID != "" {
		e.SourceCallID = p.SourceCallID
	}
	return e
}

// Occurrence is one concrete time instance of an event.
type Occurrence struct {
	EventID string    `json:"event_id,omitempty"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"all_day,omitempty"`
}

// Range returns the occurrence's time range.
func (o Occurrence) Range() TimeRange {
	return TimeRange{Start: o.Start, End: o.End}
}

// TimeRange represents a half-open time range [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether r and o intersect under half-open semantics.
// Adjacent ranges (r.End == o.Start) do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Valid reports whether Start is strictly before End.
func (r TimeRange) Valid() bool {
	return r.Start.Before(r.End)
}

// Shift returns the range moved by d.
func (r TimeRange) Shift(d time.Duration) TimeRange {
	return TimeRange{Start: r.Start.Add(d), End: r.End.Add(d)}
}

// Pad returns the range widened by d on both sides.
func (r TimeRange) Pad(d time.Duration) TimeRange {
	if d <= 0 {
		return r
	}
	return TimeRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}
