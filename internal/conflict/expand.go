package conflict

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/teemow/calmcp/internal/calendar"
)

const (
	icalDateTimeUTC = "20060102T150405Z"
	icalDateTime    = "20060102T150405"
	icalDate        = "20060102"
)

// expander turns events into occurrences inside a window. It never mutates
// the events it is given.
type expander struct {
	zone *time.Location
	max  int
}

// series holds the parsed recurrence lines of one event. Each RRULE and
// EXRULE is kept as its own rule; their occurrences are merged and
// subtracted during expansion.
type series struct {
	rules   []*rrule.RRule
	exRules []*rrule.RRule
	rdates  []time.Time
	exdates map[int64]bool
	// exDays holds date-only EXDATEs of a timed series.
	exDays map[string]bool
}

// expand returns the occurrences of e that intersect window. The occurrence
// cap counts starts near the window only; the age of a series does not
// count against it.
func (x expander) expand(e calendar.Event, window calendar.TimeRange) ([]calendar.Occurrence, error) {
	if !e.IsRecurring() {
		occ := occurrence(e, e.Start, e.End)
		if occ.Range().Overlaps(window) {
			return []calendar.Occurrence{occ}, nil
		}
		return nil, nil
	}

	loc := x.location(e.TimeZone)
	s, err := x.parse(e, loc, window)
	if err != nil {
		return nil, err
	}

	duration := e.Duration()
	days := 0
	if e.AllDay {
		days = int(math.Round(duration.Hours() / 24))
	}
	// An occurrence starting before from ends before the window opens. The
	// extra hour covers all-day spans stretched by a DST change.
	from := window.Start.Add(-duration - time.Hour)

	excluded := make(map[int64]bool, len(s.exdates))
	for k := range s.exdates {
		excluded[k] = true
	}
	for _, r := range s.exRules {
		eachStart(r, from, window.End, func(t time.Time) {
			excluded[t.UnixNano()] = true
		})
	}

	starts := map[int64]time.Time{}
	var capErr error
	add := func(t time.Time) {
		if capErr != nil || t.Before(from) || !t.Before(window.End) {
			return
		}
		k := t.UnixNano()
		if excluded[k] || s.exDays[dayKey(t.In(loc))] {
			return
		}
		if _, ok := starts[k]; ok {
			return
		}
		if len(starts) >= x.max {
			capErr = expansionError(e.ID, "more than %d occurrences between %s and %s", x.max,
				from.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339))
			return
		}
		starts[k] = t
	}
	for _, t := range s.rdates {
		add(t)
	}
	for _, r := range s.rules {
		if capErr != nil {
			break
		}
		eachStart(r, from, window.End, add)
	}
	if capErr != nil {
		return nil, capErr
	}

	ordered := make([]time.Time, 0, len(starts))
	for _, t := range starts {
		ordered = append(ordered, t)
	}
	slices.SortFunc(ordered, func(a, b time.Time) int { return a.Compare(b) })

	var out []calendar.Occurrence
	for _, start := range ordered {
		end := start.Add(duration)
		if days > 0 {
			end = start.AddDate(0, 0, days)
		}
		occ := occurrence(e, start, end)
		if occ.Range().Overlaps(window) {
			out = append(out, occ)
		}
	}
	return out, nil
}

// eachStart calls fn for every start of r in [from, until).
func eachStart(r *rrule.RRule, from, until time.Time, fn func(time.Time)) {
	next := r.Iterator()
	for {
		t, ok := next()
		if !ok || !t.Before(until) {
			return
		}
		if !t.Before(from) {
			fn(t)
		}
	}
}

// parse reads the recurrence lines of e. Every rule is clipped to the window
// end, so iteration is bounded even for rules that never yield.
func (x expander) parse(e calendar.Event, loc *time.Location, window calendar.TimeRange) (series, error) {
	dtstart := e.Start.In(loc)
	s := series{exdates: map[int64]bool{}, exDays: map[string]bool{}}

	for _, raw := range e.Recurrence {
		line, err := calendar.ParseRecurrenceLine(raw)
		if err != nil {
			return series{}, expansionError(e.ID, "%v", err)
		}

		switch line.Name {
		case "RRULE", "EXRULE":
			r, err := x.rule(e.ID, line.Value, dtstart, window.End)
			if err != nil {
				return series{}, err
			}
			if line.Name == "RRULE" {
				s.rules = append(s.rules, r)
			} else {
				s.exRules = append(s.exRules, r)
			}
		case "RDATE", "EXDATE":
			dateOnly := strings.EqualFold(line.Params["VALUE"], "DATE")
			dl := loc
			if tz := line.Params["TZID"]; tz != "" {
				if l, err := time.LoadLocation(tz); err == nil {
					dl = l
				}
			}
			for _, v := range strings.Split(line.Value, ",") {
				t, isDate, err := parseICalTime(strings.TrimSpace(v), dl, dateOnly)
				if err != nil {
					return series{}, expansionError(e.ID, "invalid %s value %q", line.Name, v)
				}
				switch {
				case line.Name == "RDATE":
					s.rdates = append(s.rdates, t)
				case isDate && !e.AllDay:
					s.exDays[dayKey(t)] = true
				default:
					s.exdates[t.UnixNano()] = true
				}
			}
		}
	}

	if len(s.rules) == 0 {
		// A template without RRULE still occurs at its own start.
		s.rdates = append(s.rdates, dtstart)
	}
	return s, nil
}

func (x expander) rule(id, value string, dtstart, until time.Time) (*rrule.RRule, error) {
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return nil, expansionError(id, "invalid rule %q: %v", value, err)
	}
	if opt.Freq > rrule.HOURLY {
		return nil, expansionError(id, "frequency %v is finer than hourly", opt.Freq)
	}
	if opt.Interval < 0 {
		return nil, expansionError(id, "negative interval %d", opt.Interval)
	}
	opt.Dtstart = dtstart
	if opt.Until.IsZero() || opt.Until.After(until) {
		opt.Until = until
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, expansionError(id, "invalid rule %q: %v", value, err)
	}
	return r, nil
}

func (x expander) location(zone string) *time.Location {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	if x.zone != nil {
		return x.zone
	}
	return time.UTC
}

func parseICalTime(v string, loc *time.Location, dateOnly bool) (t time.Time, isDate bool, err error) {
	if dateOnly || len(v) == len(icalDate) {
		t, err = time.ParseInLocation(icalDate, v, loc)
		return t, true, err
	}
	if strings.HasSuffix(v, "Z") {
		t, err = time.Parse(icalDateTimeUTC, v)
		return t, false, err
	}
	t, err = time.ParseInLocation(icalDateTime, v, loc)
	return t, false, err
}

func dayKey(t time.Time) string {
	return t.Format(icalDate)
}

func occurrence(e calendar.Event, start, end time.Time) calendar.Occurrence {
	id := e.ID
	if id == "" {
		id = e.RecurringEventID
	}
	return calendar.Occurrence{
		EventID: id,
		Title:   e.Title,
		Start:   start.UTC(),
		End:     end.UTC(),
		AllDay:  e.AllDay,
	}
}
