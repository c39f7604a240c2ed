package calendar

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the unit a simple recurrence repeats in.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Recurrence is the structured "repeat every N units until bound" form the
// agent supplies. It renders to an RRULE line stored on the Event.
type Recurrence struct {
	Frequency Frequency `json:"frequency"`
	Interval  int       `json:"interval,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// Validate checks the recurrence is well formed.
func (r Recurrence) Validate() error {
	switch r.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("unsupported recurrence frequency %q (want daily, weekly or monthly)", r.Frequency)
	}
	if r.Interval < 0 {
		return fmt.Errorf("recurrence interval must be positive, got %d", r.Interval)
	}
	if r.Count < 0 {
		return fmt.Errorf("recurrence count must be positive, got %d", r.Count)
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return fmt.Errorf("recurrence may set count or until, not both")
	}
	return nil
}

// RRule renders the recurrence as an "RRULE:" line.
func (r Recurrence) RRule() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	opt := rrule.ROption{
		Freq:     frequencies[r.Frequency],
		Interval: r.Interval,
		Count:    r.Count,
	}
	if opt.Interval == 0 {
		opt.Interval = 1
	}
	if !r.Until.IsZero() {
		opt.Until = r.Until.UTC()
	}
	return "RRULE:" + opt.RRuleString(), nil
}

var frequencies = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
}

// ParseRRule validates a raw RRULE (with or without the "RRULE:" prefix) and
// returns it in canonical "RRULE:" form.
func ParseRRule(s string) (string, error) {
	body := strings.TrimSpace(s)
	body = strings.TrimPrefix(body, "RRULE:")
	if body == "" {
		return "", fmt.Errorf("empty recurrence rule")
	}
	if _, err := rrule.StrToROption(body); err != nil {
		return "", fmt.Errorf("invalid recurrence rule %q: %w", s, err)
	}
	return "RRULE:" + body, nil
}

// RecurrenceLine is one RFC 5545 content line of an event's recurrence set,
// such as "RRULE:FREQ=WEEKLY" or "EXDATE;TZID=Europe/Berlin:20240617T150000".
type RecurrenceLine struct {
	Name   string
	Params map[string]string
	Value  string
}

// ParseRecurrenceLine splits a content line into name, parameters and value.
func ParseRecurrenceLine(line string) (RecurrenceLine, error) {
	line = strings.TrimSpace(line)
	colon := strings.Index(line, ":")
	if colon <= 0 {
		return RecurrenceLine{}, fmt.Errorf("invalid recurrence line %q", line)
	}

	head, value := line[:colon], line[colon+1:]
	parts := strings.Split(head, ";")
	out := RecurrenceLine{Name: strings.ToUpper(parts[0]), Value: value}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return RecurrenceLine{}, fmt.Errorf("invalid parameter %q in recurrence line %q", p, line)
		}
		if out.Params == nil {
			out.Params = make(map[string]string)
		}
		out.Params[strings.ToUpper(k)] = strings.Trim(v, `"`)
	}

	switch out.Name {
	case "RRULE", "EXRULE", "RDATE", "EXDATE":
	default:
		return RecurrenceLine{}, fmt.Errorf("unsupported recurrence property %q", out.Name)
	}
	return out, nil
}

// String renders the line back to its RFC 5545 form. Parameters are sorted.
func (l RecurrenceLine) String() string {
	var b strings.Builder
	b.WriteString(l.Name)
	keys := make([]string, 0, len(l.Params))
	for k := range l.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, l.Params[k])
	}
	b.WriteString(":")
	b.WriteString(l.Value)
	return b.String()
}
