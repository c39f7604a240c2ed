// Package temporal converts loosely structured date and time candidates into
// canonical UTC spans.
//
// Normalization is a pure function of its inputs and the reference "now":
//
//	n := temporal.New(loc)
//	span, err := n.Normalize(temporal.Expression{Date: "2024-06-10", Time: "15:00"}, temporal.Hint{}, now)
package temporal

import (
	"fmt"
	"strings"
	"time"

	"github.com/teemow/calmcp/internal/calendar"
)

// Defaults applied by New.
const (
	DefaultDuration    = 60 * time.Minute
	DefaultMinDuration = 15 * time.Minute
	DefaultMaxDuration = 8 * time.Hour
)

// Expression is a time candidate already reduced to structured fields.
// Exactly one form is expected: DateTime, Date (+Time), InMinutes,
// InDays (+Time) or Weekday (+Time).
type Expression struct {
	DateTime string
	Date     string
	Time     string
	TimeZone string

	InMinutes *int
	InDays    *int
	Weekday   string

	AllDay bool
}

// IsZero reports whether no field is set.
func (e Expression) IsZero() bool {
	return e.DateTime == "" && e.Date == "" && e.Time == "" && e.InMinutes == nil &&
		e.InDays == nil && e.Weekday == ""
}

// Hint determines the end of a span. End wins over Duration; with neither the
// normalizer's default duration applies.
type Hint struct {
	End      Expression
	Duration time.Duration
}

// Span is a canonical event window.
type Span struct {
	Start  time.Time
	End    time.Time
	Zone   *time.Location
	AllDay bool
}

// Range returns the span as a calendar range.
func (s Span) Range() calendar.TimeRange {
	return calendar.TimeRange{Start: s.Start, End: s.End}
}

// Duration returns End - Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Normalizer resolves expressions. The zero value uses UTC and no duration
// bounds.
type Normalizer struct {
	DefaultZone     *time.Location
	DefaultDuration time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
}

// New returns a normalizer with the default duration bounds.
func New(zone *time.Location) *Normalizer {
	return &Normalizer{
		DefaultZone:     zone,
		DefaultDuration: DefaultDuration,
		MinDuration:     DefaultMinDuration,
		MaxDuration:     DefaultMaxDuration,
	}
}

// Zone resolves a time zone name, falling back to the default zone.
func (n *Normalizer) Zone(name string) (*time.Location, error) {
	if name == "" {
		if n.DefaultZone != nil {
			return n.DefaultZone, nil
		}
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ambiguous("timezone", "unknown time zone %q", name)
	}
	return loc, nil
}

// Normalize resolves expr and hint into a span anchored at now.
func (n *Normalizer) Normalize(expr Expression, hint Hint, now time.Time) (Span, error) {
	if expr.IsZero() {
		return Span{}, ambiguous("start", "no date or time given")
	}

	loc, err := n.Zone(expr.TimeZone)
	if err != nil {
		return Span{}, err
	}

	if expr.AllDay {
		return n.allDay(expr, hint, loc, now)
	}

	start, err := n.instant("start", expr, loc, now, nil)
	if err != nil {
		return Span{}, err
	}

	var end time.Time
	switch {
	case !hint.End.IsZero():
		endLoc := loc
		if hint.End.TimeZone != "" {
			if endLoc, err = n.Zone(hint.End.TimeZone); err != nil {
				return Span{}, err
			}
		}
		startDate := dateOf(start.In(endLoc))
		end, err = n.instant("end", hint.End, endLoc, now, &startDate)
		if err != nil {
			return Span{}, err
		}
	case hint.Duration != 0:
		end = start.Add(hint.Duration)
	default:
		d := n.DefaultDuration
		if d <= 0 {
			d = DefaultDuration
		}
		end = start.Add(d)
	}

	span := Span{Start: start.UTC(), End: end.UTC(), Zone: loc}
	if err := n.checkRange(span); err != nil {
		return Span{}, err
	}
	return span, nil
}

// Instant resolves a single point in time, such as a query bound.
func (n *Normalizer) Instant(expr Expression, now time.Time) (time.Time, error) {
	if expr.IsZero() {
		return time.Time{}, ambiguous("time", "no date or time given")
	}
	loc, err := n.Zone(expr.TimeZone)
	if err != nil {
		return time.Time{}, err
	}
	if expr.Time == "" && expr.DateTime == "" && expr.InMinutes == nil {
		// A bare day means its start.
		d, err := n.day("time", expr, loc, now)
		if err != nil {
			return time.Time{}, err
		}
		return d.midnight(loc).UTC(), nil
	}
	t, err := n.instant("time", expr, loc, now, nil)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// instant resolves a timed expression. anchor supplies the date for a bare
// time, as used by end expressions.
func (n *Normalizer) instant(field string, expr Expression, loc *time.Location, now time.Time, anchor *civilDate) (time.Time, error) {
	if expr.DateTime != "" {
		if expr.Date != "" || expr.Time != "" || expr.InMinutes != nil || expr.InDays != nil || expr.Weekday != "" {
			return time.Time{}, ambiguous(field, "datetime cannot be combined with other date or time fields")
		}
		return parseDateTime(field, expr.DateTime, loc)
	}

	if expr.InMinutes != nil {
		if expr.Date != "" || expr.Time != "" || expr.InDays != nil || expr.Weekday != "" {
			return time.Time{}, ambiguous(field, "in_minutes cannot be combined with other date or time fields")
		}
		if now.IsZero() {
			return time.Time{}, ambiguous(field, "relative time without a reference time")
		}
		// Whole minutes, so a call repeated seconds later names the same instant.
		return now.Truncate(time.Minute).Add(time.Duration(*expr.InMinutes) * time.Minute).In(loc), nil
	}

	if expr.Time == "" {
		if expr.Date != "" {
			return time.Time{}, ambiguous(field, "date %q has no time of day", expr.Date)
		}
		return time.Time{}, ambiguous(field, "day given without a time of day")
	}

	c, ok := parseClock(expr.Time)
	if !ok {
		return time.Time{}, ambiguous(field, "unrecognized time %q (use HH:MM or H:MM AM/PM)", expr.Time)
	}

	var d civilDate
	if expr.Date == "" && expr.InDays == nil && expr.Weekday == "" {
		if anchor == nil {
			return time.Time{}, ambiguous(field, "time %q has no date", expr.Time)
		}
		d = *anchor
	} else {
		var err error
		if d, err = n.day(field, expr, loc, now); err != nil {
			return time.Time{}, err
		}
		// A weekday names the next such day whose time is still ahead.
		if expr.Weekday != "" {
			if t, ok := localInstant(d, c, loc); ok && !t.After(now) {
				d = d.addDays(7)
			}
		}
	}

	t, ok := localInstant(d, c, loc)
	if !ok {
		return time.Time{}, ambiguous(field, "%04d-%02d-%02d %02d:%02d does not exist or occurs twice in %s (daylight saving transition)",
			d.year, d.month, d.day, c.hour, c.minute, loc)
	}
	return t, nil
}

// day resolves the date part of expr: Date, InDays or Weekday.
func (n *Normalizer) day(field string, expr Expression, loc *time.Location, now time.Time) (civilDate, error) {
	set := 0
	for _, ok := range []bool{expr.Date != "", expr.InDays != nil, expr.Weekday != ""} {
		if ok {
			set++
		}
	}
	if set > 1 {
		return civilDate{}, ambiguous(field, "only one of date, in_days and weekday may be given")
	}

	switch {
	case expr.Date != "":
		d, ok := parseDate(expr.Date)
		if !ok {
			return civilDate{}, ambiguous(field, "unrecognized date %q (use YYYY-MM-DD, YYYY/MM/DD, DD-MM-YYYY or DD/MM/YYYY)", expr.Date)
		}
		return d, nil
	case expr.InDays != nil:
		if now.IsZero() {
			return civilDate{}, ambiguous(field, "relative day without a reference time")
		}
		return dateOf(now.In(loc)).addDays(*expr.InDays), nil
	case expr.Weekday != "":
		wd, ok := parseWeekday(expr.Weekday)
		if !ok {
			return civilDate{}, ambiguous(field, "unrecognized weekday %q", expr.Weekday)
		}
		if now.IsZero() {
			return civilDate{}, ambiguous(field, "weekday %q without an anchor date", expr.Weekday)
		}
		today := dateOf(now.In(loc))
		ahead := (int(wd) - int(today.weekday()) + 7) % 7
		return today.addDays(ahead), nil
	}
	return civilDate{}, ambiguous(field, "no date given")
}

// allDay resolves an all-day span from local midnight of the first day to
// local midnight after the last day. An end date names the last day itself.
func (n *Normalizer) allDay(expr Expression, hint Hint, loc *time.Location, now time.Time) (Span, error) {
	if expr.DateTime != "" {
		if _, ok := parseDate(expr.DateTime); !ok || expr.Date != "" {
			return Span{}, ambiguous("start", "all-day events take a date, not %q", expr.DateTime)
		}
		expr.Date, expr.DateTime = expr.DateTime, ""
	}
	if expr.Time != "" || expr.InMinutes != nil {
		return Span{}, ambiguous("start", "all-day events cannot have a time of day")
	}

	first, err := n.day("start", expr, loc, now)
	if err != nil {
		return Span{}, err
	}

	last := first
	switch {
	case !hint.End.IsZero():
		endExpr := hint.End
		if endExpr.DateTime != "" && endExpr.Date == "" {
			endExpr.Date, endExpr.DateTime = endExpr.DateTime, ""
		}
		if endExpr.Time != "" || endExpr.DateTime != "" {
			return Span{}, ambiguous("end", "all-day events cannot have a time of day")
		}
		if last, err = n.day("end", endExpr, loc, now); err != nil {
			return Span{}, err
		}
	case hint.Duration > 0:
		days := int((hint.Duration + 24*time.Hour - 1) / (24 * time.Hour))
		last = first.addDays(days - 1)
	}

	span := Span{
		Start:  first.midnight(loc).UTC(),
		End:    last.addDays(1).midnight(loc).UTC(),
		Zone:   loc,
		AllDay: true,
	}
	if !span.Start.Before(span.End) {
		return Span{}, invalidRange("all-day end date %04d-%02d-%02d is before the start date", last.year, last.month, last.day)
	}
	return span, nil
}

func (n *Normalizer) checkRange(s Span) error {
	if !s.Start.Before(s.End) {
		return invalidRange("end %s is not after start %s", s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}
	if s.AllDay {
		return nil
	}
	d := s.Duration()
	if n.MinDuration > 0 && d < n.MinDuration {
		return invalidRange("duration %s is shorter than the minimum of %s", d, n.MinDuration)
	}
	if n.MaxDuration > 0 && d > n.MaxDuration {
		return invalidRange("duration %s is longer than the maximum of %s", d, n.MaxDuration)
	}
	return nil
}

// parseDateTime parses an absolute date-time. Strings with an offset are
// exact; local strings are read in loc.
func parseDateTime(field, s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, c, ok := parseLocalDateTime(s); ok {
		t, ok := localInstant(d, c, loc)
		if !ok {
			return time.Time{}, ambiguous(field, "%s does not exist or occurs twice in %s (daylight saving transition)", s, loc)
		}
		return t, nil
	}
	if _, ok := parseDate(s); ok {
		return time.Time{}, ambiguous(field, "date %q has no time of day", s)
	}
	return time.Time{}, ambiguous(field, "unrecognized date-time %q", s)
}

// FormatCanonical renders t the way Normalize accepts it back unchanged.
func FormatCanonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// String renders a span for logs.
func (s Span) String() string {
	if s.AllDay && s.Zone != nil {
		return fmt.Sprintf("%s..%s (all day, %s)", s.Start.In(s.Zone).Format("2006-01-02"), s.End.In(s.Zone).AddDate(0, 0, -1).Format("2006-01-02"), s.Zone)
	}
	return fmt.Sprintf("%s..%s", FormatCanonical(s.Start), FormatCanonical(s.End))
}
