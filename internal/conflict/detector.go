// Package conflict detects scheduling conflicts between a candidate event and
// the existing events of a calendar, including recurring ones, and suggests
// nearby free windows.
//
// Intervals are half-open: [start, end). Back-to-back events never conflict.
package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/teemow/calmcp/internal/calendar"
)

// AllDayPolicy controls how all-day events take part in conflict detection.
type AllDayPolicy string

const (
	// AllDayBlock treats an all-day event as occupying its full local day(s).
	AllDayBlock AllDayPolicy = "block"
	// AllDayIgnore never reports all-day events as conflicts.
	AllDayIgnore AllDayPolicy = "ignore"
)

// ParseAllDayPolicy validates a policy name. Empty means AllDayBlock.
func ParseAllDayPolicy(s string) (AllDayPolicy, error) {
	switch AllDayPolicy(s) {
	case "", AllDayBlock:
		return AllDayBlock, nil
	case AllDayIgnore:
		return AllDayIgnore, nil
	}
	return "", fmt.Errorf("unknown all-day policy %q (want block or ignore)", s)
}

// QueryFunc fetches the events intersecting a window.
type QueryFunc func(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error)

// Candidate is the event being scheduled.
type Candidate struct {
	Start time.Time
	End   time.Time

	// Zone is the display zone used to expand recurrences and business hours.
	Zone   *time.Location
	AllDay bool

	Attendees []string

	// Recurrence makes the candidate itself a series; every occurrence in
	// the detector's candidate window is checked.
	Recurrence []string

	// ExcludeID is skipped among existing events, so an update never
	// conflicts with the event it moves.
	ExcludeID string
}

// Range returns the candidate's first window.
func (c Candidate) Range() calendar.TimeRange {
	return calendar.TimeRange{Start: c.Start, End: c.End}
}

// Report is the outcome of a conflict check. Overlaps is empty iff
// Conflicting is false.
type Report struct {
	Conflicting  bool                  `json:"conflicting"`
	Overlaps     []calendar.Occurrence `json:"overlaps,omitempty"`
	Alternatives []calendar.TimeRange  `json:"alternatives,omitempty"`
}

// BusinessHours restricts suggested alternatives to working time.
type BusinessHours struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Days      []time.Weekday
}

func (b BusinessHours) allows(r calendar.TimeRange, loc *time.Location) bool {
	if !b.Enabled {
		return true
	}
	start, end := r.Start.In(loc), r.End.In(loc)
	if start.YearDay() != end.Add(-time.Nanosecond).YearDay() {
		return false
	}
	dayOK := len(b.Days) == 0
	for _, d := range b.Days {
		if start.Weekday() == d {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	open := time.Date(start.Year(), start.Month(), start.Day(), b.StartHour, 0, 0, 0, loc)
	closing := time.Date(start.Year(), start.Month(), start.Day(), b.EndHour, 0, 0, 0, loc)
	return !start.Before(open) && !end.After(closing)
}

// Defaults applied by New.
const (
	DefaultLookback           = 24 * time.Hour
	DefaultLookahead          = 24 * time.Hour
	DefaultHorizon            = 400 * 24 * time.Hour
	DefaultCandidateWindow    = 90 * 24 * time.Hour
	DefaultMaxOccurrences     = 5000
	DefaultAlternatives       = 3
	DefaultAlternativeHorizon = 7 * 24 * time.Hour

	maxScanSteps = 10000
)

// Detector checks candidates against existing events. It is read-only and
// safe for concurrent use.
type Detector struct {
	// Lookback and Lookahead widen the fetched window so that events
	// starting before or ending after the candidate are seen.
	Lookback  time.Duration
	Lookahead time.Duration

	// Horizon is the longest window recurrences are expanded over.
	Horizon time.Duration

	// CandidateWindow bounds how far a recurring candidate is checked.
	CandidateWindow time.Duration

	// MaxOccurrences caps the occurrences one recurring event may have
	// inside a checked window. Occurrences before the window are not counted.
	MaxOccurrences int

	// Alternatives is the number of free windows suggested on conflict.
	Alternatives       int
	AlternativeHorizon time.Duration

	// Buffer is kept free around existing events.
	Buffer time.Duration

	AllDay        AllDayPolicy
	BusinessHours BusinessHours

	// Zone expands recurrences of events that carry no zone.
	Zone *time.Location
}

// New returns a detector with the default settings.
func New(zone *time.Location) *Detector {
	return &Detector{
		Lookback:           DefaultLookback,
		Lookahead:          DefaultLookahead,
		Horizon:            DefaultHorizon,
		CandidateWindow:    DefaultCandidateWindow,
		MaxOccurrences:     DefaultMaxOccurrences,
		Alternatives:       DefaultAlternatives,
		AlternativeHorizon: DefaultAlternativeHorizon,
		AllDay:             AllDayBlock,
		Zone:               zone,
	}
}

func (d *Detector) expander() expander {
	limit := d.MaxOccurrences
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	return expander{zone: d.Zone, max: limit}
}

// Check fetches the existing events around c through query and evaluates them.
func (d *Detector) Check(ctx context.Context, c Candidate, query QueryFunc) (Report, error) {
	occs, err := d.candidateOccurrences(c)
	if err != nil {
		return Report{}, err
	}
	window := d.fetchWindow(occs)
	if d.Horizon > 0 && window.Duration() > d.Horizon {
		return Report{}, expansionError("", "window of %s exceeds the %s horizon", window.Duration(), d.Horizon)
	}

	existing, err := query(ctx, window)
	if err != nil {
		return Report{}, err
	}
	return d.evaluate(c, occs, window, existing)
}

// Evaluate checks c against an already fetched set of events.
func (d *Detector) Evaluate(c Candidate, existing []calendar.Event) (Report, error) {
	occs, err := d.candidateOccurrences(c)
	if err != nil {
		return Report{}, err
	}
	return d.evaluate(c, occs, d.fetchWindow(occs), existing)
}

// FetchWindow returns the window Check queries for c.
func (d *Detector) FetchWindow(c Candidate) (calendar.TimeRange, error) {
	occs, err := d.candidateOccurrences(c)
	if err != nil {
		return calendar.TimeRange{}, err
	}
	return d.fetchWindow(occs), nil
}

func (d *Detector) fetchWindow(occs []calendar.TimeRange) calendar.TimeRange {
	first, last := occs[0], occs[len(occs)-1]
	return calendar.TimeRange{
		Start: first.Start.Add(-d.Lookback - d.Buffer),
		End:   last.End.Add(d.alternativeHorizon() + d.Lookahead + d.Buffer),
	}
}

func (d *Detector) alternativeHorizon() time.Duration {
	if d.Alternatives <= 0 {
		return 0
	}
	return d.AlternativeHorizon
}

func (d *Detector) candidateOccurrences(c Candidate) ([]calendar.TimeRange, error) {
	if !c.Start.Before(c.End) {
		return nil, fmt.Errorf("candidate end %s is not after start %s", c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	}
	if len(c.Recurrence) == 0 {
		return []calendar.TimeRange{c.Range()}, nil
	}

	span := d.CandidateWindow
	if span <= 0 {
		span = DefaultCandidateWindow
	}
	tmpl := calendar.Event{Start: c.Start, End: c.End, AllDay: c.AllDay, Recurrence: c.Recurrence}
	if c.Zone != nil {
		tmpl.TimeZone = c.Zone.String()
	}
	window := calendar.TimeRange{Start: c.Start, End: c.Start.Add(span)}
	occs, err := d.expander().expand(tmpl, window)
	if err != nil {
		return nil, err
	}
	if len(occs) == 0 {
		return nil, expansionError("", "recurrence yields no occurrence")
	}
	out := make([]calendar.TimeRange, len(occs))
	for i, o := range occs {
		out[i] = o.Range()
	}
	return out, nil
}

// busy expands the existing events that can block the candidate.
func (d *Detector) busy(c Candidate, window calendar.TimeRange, existing []calendar.Event) ([]calendar.Occurrence, error) {
	x := d.expander()
	var out []calendar.Occurrence
	for _, e := range existing {
		if e.Transparent {
			continue
		}
		if c.ExcludeID != "" && (e.ID == c.ExcludeID || e.RecurringEventID == c.ExcludeID) {
			continue
		}
		if e.AllDay && d.AllDay == AllDayIgnore {
			continue
		}
		if !e.Start.Before(e.End) && !e.IsRecurring() {
			continue
		}
		occs, err := x.expand(e, window)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (d *Detector) evaluate(c Candidate, occs []calendar.TimeRange, window calendar.TimeRange, existing []calendar.Event) (Report, error) {
	busy, err := d.busy(c, window, existing)
	if err != nil {
		return Report{}, err
	}

	overlaps := d.overlaps(occs, 0, busy)
	if len(overlaps) == 0 {
		return Report{Conflicting: false}, nil
	}
	return Report{
		Conflicting:  true,
		Overlaps:     overlaps,
		Alternatives: d.alternatives(c, occs, busy),
	}, nil
}

// overlaps returns the busy occurrences hit by occs shifted by offset.
func (d *Detector) overlaps(occs []calendar.TimeRange, offset time.Duration, busy []calendar.Occurrence) []calendar.Occurrence {
	var out []calendar.Occurrence
	seen := make(map[int]bool)
	for _, o := range occs {
		r := o.Shift(offset)
		for i, b := range busy {
			if seen[i] {
				continue
			}
			if b.Range().Pad(d.Buffer).Overlaps(r) {
				seen[i] = true
				out = append(out, b)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
