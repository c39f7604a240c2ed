package temporal

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
}

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04PM",
	"3:04 PM",
	"3PM",
	"3 PM",
}

// localDateTimeLayouts are accepted for DateTime strings without an offset.
var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04PM",
	"2006-01-02 3:04 PM",
}

// civilDate is a calendar date without a zone.
type civilDate struct {
	year  int
	month time.Month
	day   int
}

// clock is a wall-clock time of day.
type clock struct {
	hour, minute, second int
}

func parseDate(s string) (civilDate, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civilDate{t.Year(), t.Month(), t.Day()}, true
		}
	}
	return civilDate{}, false
}

func parseClock(s string) (clock, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return clock{t.Hour(), t.Minute(), t.Second()}, true
		}
	}
	return clock{}, false
}

// parseLocalDateTime parses a date and time without offset.
func parseLocalDateTime(s string) (civilDate, clock, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range localDateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civilDate{t.Year(), t.Month(), t.Day()}, clock{t.Hour(), t.Minute(), t.Second()}, true
		}
	}
	return civilDate{}, clock{}, false
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.HasPrefix(strings.ToLower(d.String()), s) {
			return d, true
		}
	}
	return 0, false
}

func dateOf(t time.Time) civilDate {
	return civilDate{t.Year(), t.Month(), t.Day()}
}

func (d civilDate) addDays(n int) civilDate {
	return dateOf(time.Date(d.year, d.month, d.day+n, 0, 0, 0, 0, time.UTC))
}

func (d civilDate) weekday() time.Weekday {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Weekday()
}

// midnight returns the first instant of d in loc.
func (d civilDate) midnight(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// localInstant resolves a wall-clock time on d in loc. ok is false when the
// wall time does not exist (DST gap) or exists twice (DST fold).
func localInstant(d civilDate, c clock, loc *time.Location) (t time.Time, ok bool) {
	t = time.Date(d.year, d.month, d.day, c.hour, c.minute, c.second, 0, loc)
	if !sameWallClock(t, d, c) {
		return t, false
	}
	for _, shift := range []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour} {
		if sameWallClock(t.Add(shift).In(loc), d, c) || sameWallClock(t.Add(-shift).In(loc), d, c) {
			return t, false
		}
	}
	return t, true
}

func sameWallClock(t time.Time, d civilDate, c clock) bool {
	return t.Year() == d.year && t.Month() == d.month && t.Day() == d.day &&
		t.Hour() == c.hour && t.Minute() == c.minute && t.Second() == c.second
}
