package dispatcher

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/temporal"
)

// ArgumentError reports a malformed, missing or unknown argument.
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return "invalid arguments: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

func argError(field, format string, args ...any) error {
	return &ArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Argument names accepted by the tools.
var (
	timeKeys    = []string{"start", "date", "time", "timezone", "in_minutes", "in_days", "weekday", "all_day", "end", "duration_minutes"}
	detailKeys  = []string{"title", "description", "location", "attendees", "conferencing", "recurrence"}
	routingKeys = []string{"account", "call_id"}
)

// CreateArgs is the validated form of a create_event call.
type CreateArgs struct {
	Title        string
	Description  string
	Location     string
	Attendees    []string
	Conferencing bool
	Recurrence   []string
	Start        temporal.Expression
	Hint         temporal.Hint
	Force        bool
}

// UpdateArgs is the validated form of an update_event call. Nil fields and
// zero expressions are left unchanged.
type UpdateArgs struct {
	ID           string
	Title        *string
	Description  *string
	Location     *string
	Attendees    *[]string
	Conferencing *bool
	Recurrence   *[]string
	Start        temporal.Expression
	Hint         temporal.Hint
	TimeZone     string
	AllDay       *bool
	Force        bool
}

// Temporal reports whether the update moves the event in time.
func (a UpdateArgs) Temporal() bool {
	return !a.Start.IsZero() || !a.Hint.End.IsZero() || a.Hint.Duration != 0 || a.AllDay != nil
}

// DeleteArgs is the validated form of a delete_event call.
type DeleteArgs struct {
	ID string
}

// QueryArgs is the validated form of a query_events call.
type QueryArgs struct {
	ID         string
	From       temporal.Expression
	To         temporal.Expression
	Title      string
	Attendee   string
	MaxResults int
}

type bag map[string]any

func (b bag) only(op Operation, keys ...[]string) error {
	allowed := map[string]bool{}
	for _, ks := range keys {
		for _, k := range ks {
			allowed[k] = true
		}
	}
	var unknown []string
	for k := range b {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return argError(unknown[0], "not accepted by %s", op)
	}
	return nil
}

func (b bag) has(key string) bool {
	v, ok := b[key]
	return ok && v != nil
}

func (b bag) str(key string) (string, bool, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, argError(key, "must be a string, got %T", v)
	}
	return strings.TrimSpace(s), true, nil
}

func (b bag) strPtr(key string) (*string, error) {
	s, ok, err := b.str(key)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (b bag) integer(key string) (*int, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return nil, argError(key, "must be a whole number, got %v", x)
		}
		n = int(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, argError(key, "must be a whole number, got %s", x)
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, argError(key, "must be a whole number, got %q", x)
		}
		n = i
	default:
		return nil, argError(key, "must be a number, got %T", v)
	}
	return &n, nil
}

func (b bag) boolean(key string) (*bool, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch x := v.(type) {
	case bool:
		return &x, nil
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, argError(key, "must be true or false, got %q", x)
		}
		return &p, nil
	}
	return nil, argError(key, "must be a boolean, got %T", v)
}

// list accepts an array of strings or a comma separated string.
func (b bag) list(key string) (*[]string, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return nil, nil
	}
	var raw []string
	switch x := v.(type) {
	case string:
		raw = strings.Split(x, ",")
	case []string:
		raw = x
	case []any:
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, argError(key, "item %d must be a string, got %T", i, item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, argError(key, "must be a list of strings, got %T", v)
	}
	out := normalizeAttendees(raw)
	return &out, nil
}

// normalizeAttendees trims, deduplicates and sorts; attendees are a set.
func normalizeAttendees(raw []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range raw {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// start decodes the start expression fields.
func (b bag) start() (temporal.Expression, error) {
	var e temporal.Expression
	var err error
	if e.DateTime, _, err = b.str("start"); err != nil {
		return e, err
	}
	if e.Date, _, err = b.str("date"); err != nil {
		return e, err
	}
	if e.Time, _, err = b.str("time"); err != nil {
		return e, err
	}
	if e.TimeZone, _, err = b.str("timezone"); err != nil {
		return e, err
	}
	if e.Weekday, _, err = b.str("weekday"); err != nil {
		return e, err
	}
	if e.InMinutes, err = b.integer("in_minutes"); err != nil {
		return e, err
	}
	if e.InDays, err = b.integer("in_days"); err != nil {
		return e, err
	}
	allDay, err := b.boolean("all_day")
	if err != nil {
		return e, err
	}
	e.AllDay = allDay != nil && *allDay
	return e, nil
}

// hint decodes end and duration_minutes.
func (b bag) hint(zone string) (temporal.Hint, error) {
	var h temporal.Hint
	end, ok, err := b.str("end")
	if err != nil {
		return h, err
	}
	if ok && end != "" {
		h.End = endExpression(end)
		h.End.TimeZone = zone
	}
	minutes, err := b.integer("duration_minutes")
	if err != nil {
		return h, err
	}
	if minutes != nil {
		if *minutes <= 0 {
			return h, argError("duration_minutes", "must be positive, got %d", *minutes)
		}
		if ok && end != "" {
			return h, argError("duration_minutes", "cannot be combined with end")
		}
		h.Duration = time.Duration(*minutes) * time.Minute
	}
	return h, nil
}

// endExpression reads a bare clock time ("17:00", "5 PM") as a time on the
// start's date, anything with a date part as an absolute value.
func endExpression(s string) temporal.Expression {
	if strings.ContainsAny(s, "-/") {
		return temporal.Expression{DateTime: s}
	}
	return temporal.Expression{Time: s}
}

// boundExpression reads a query bound: a date alone means its midnight.
func boundExpression(s, zone string) temporal.Expression {
	if strings.Contains(s, ":") {
		return temporal.Expression{DateTime: s, TimeZone: zone}
	}
	return temporal.Expression{Date: s, TimeZone: zone}
}

func (b bag) recurrence() (*[]string, error) {
	v, ok := b["recurrence"]
	if !ok || v == nil {
		return nil, nil
	}
	lines, err := decodeRecurrence(v)
	if err != nil {
		return nil, err
	}
	return &lines, nil
}

// decodeRecurrence accepts a structured {frequency, interval, until, count}
// object, an RRULE string (newline separated lines allowed) or a list of
// RFC 5545 lines. An empty value yields an empty, non-nil list.
func decodeRecurrence(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return recurrenceLines(strings.Split(x, "\n"))
	case []string:
		return recurrenceLines(x)
	case []any:
		raw := make([]string, 0, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, argError("recurrence", "item %d must be a string, got %T", i, item)
			}
			raw = append(raw, s)
		}
		return recurrenceLines(raw)
	case map[string]any:
		return structuredRecurrence(bag(x))
	}
	return nil, argError("recurrence", "must be an object, a string or a list of strings, got %T", v)
}

func recurrenceLines(raw []string) ([]string, error) {
	out := []string{}
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "EXDATE") || strings.HasPrefix(upper, "RDATE") || strings.HasPrefix(upper, "EXRULE") {
			l, err := calendar.ParseRecurrenceLine(line)
			if err != nil {
				return nil, argError("recurrence", "%v", err)
			}
			out = append(out, l.String())
			continue
		}
		rule, err := calendar.ParseRRule(line)
		if err != nil {
			return nil, argError("recurrence", "%v", err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func structuredRecurrence(b bag) ([]string, error) {
	if err := b.only("recurrence", []string{"frequency", "interval", "until", "count"}); err != nil {
		return nil, err
	}
	freq, _, err := b.str("frequency")
	if err != nil {
		return nil, err
	}
	if freq == "" {
		return nil, argError("recurrence", "frequency is required")
	}
	r := calendar.Recurrence{Frequency: calendar.Frequency(strings.ToLower(freq))}
	if n, err := b.integer("interval"); err != nil {
		return nil, err
	} else if n != nil {
		r.Interval = *n
	}
	if n, err := b.integer("count"); err != nil {
		return nil, err
	} else if n != nil {
		r.Count = *n
	}
	until, _, err := b.str("until")
	if err != nil {
		return nil, err
	}
	if until != "" {
		if r.Until, err = parseUntil(until); err != nil {
			return nil, err
		}
	}
	rule, err := r.RRule()
	if err != nil {
		return nil, argError("recurrence", "%v", err)
	}
	return []string{rule}, nil
}

// parseUntil reads a date as the end of that day in UTC, or an RFC 3339 instant.
func parseUntil(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Add(24*time.Hour - time.Second), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, argError("recurrence", "until must be YYYY-MM-DD or RFC 3339, got %q", s)
}

func (b bag) requiredID() (string, error) {
	id, ok, err := b.str("id")
	if err != nil {
		return "", err
	}
	if !ok || id == "" {
		return "", argError("id", "is required")
	}
	return id, nil
}

func decodeCreateArgs(raw map[string]any) (CreateArgs, error) {
	b := bag(raw)
	var a CreateArgs
	if err := b.only(OpCreate, timeKeys, detailKeys, routingKeys, []string{"force"}); err != nil {
		return a, err
	}

	title, _, err := b.str("title")
	if err != nil {
		return a, err
	}
	if title == "" {
		return a, argError("title", "is required")
	}
	a.Title = title

	if a.Description, _, err = b.str("description"); err != nil {
		return a, err
	}
	if a.Location, _, err = b.str("location"); err != nil {
		return a, err
	}
	attendees, err := b.list("attendees")
	if err != nil {
		return a, err
	}
	if attendees != nil {
		a.Attendees = *attendees
	}
	conferencing, err := b.boolean("conferencing")
	if err != nil {
		return a, err
	}
	a.Conferencing = conferencing != nil && *conferencing

	rec, err := b.recurrence()
	if err != nil {
		return a, err
	}
	if rec != nil && len(*rec) > 0 {
		a.Recurrence = *rec
	}

	if a.Start, err = b.start(); err != nil {
		return a, err
	}
	if a.Start.IsZero() {
		return a, argError("start", "is required (start, date, in_minutes, in_days or weekday)")
	}
	if a.Hint, err = b.hint(a.Start.TimeZone); err != nil {
		return a, err
	}

	force, err := b.boolean("force")
	if err != nil {
		return a, err
	}
	a.Force = force != nil && *force
	return a, nil
}

func decodeUpdateArgs(raw map[string]any) (UpdateArgs, error) {
	b := bag(raw)
	var a UpdateArgs
	if err := b.only(OpUpdate, []string{"id", "force"}, timeKeys, detailKeys, routingKeys); err != nil {
		return a, err
	}
	var err error
	if a.ID, err = b.requiredID(); err != nil {
		return a, err
	}
	if a.Title, err = b.strPtr("title"); err != nil {
		return a, err
	}
	if a.Title != nil && *a.Title == "" {
		return a, argError("title", "cannot be empty")
	}
	if a.Description, err = b.strPtr("description"); err != nil {
		return a, err
	}
	if a.Location, err = b.strPtr("location"); err != nil {
		return a, err
	}
	if a.Attendees, err = b.list("attendees"); err != nil {
		return a, err
	}
	if a.Conferencing, err = b.boolean("conferencing"); err != nil {
		return a, err
	}
	if a.Recurrence, err = b.recurrence(); err != nil {
		return a, err
	}

	if a.Start, err = b.start(); err != nil {
		return a, err
	}
	a.TimeZone = a.Start.TimeZone
	if a.AllDay, err = b.boolean("all_day"); err != nil {
		return a, err
	}
	if a.Hint, err = b.hint(a.TimeZone); err != nil {
		return a, err
	}

	force, err := b.boolean("force")
	if err != nil {
		return a, err
	}
	a.Force = force != nil && *force
	return a, nil
}

func decodeDeleteArgs(raw map[string]any) (DeleteArgs, error) {
	b := bag(raw)
	if err := b.only(OpDelete, []string{"id"}, routingKeys); err != nil {
		return DeleteArgs{}, err
	}
	id, err := b.requiredID()
	return DeleteArgs{ID: id}, err
}

func decodeQueryArgs(raw map[string]any) (QueryArgs, error) {
	b := bag(raw)
	var a QueryArgs
	if err := b.only(OpQuery, []string{"id", "from", "to", "timezone", "title", "attendee", "max_results"}, routingKeys); err != nil {
		return a, err
	}
	var err error
	if a.ID, _, err = b.str("id"); err != nil {
		return a, err
	}
	zone, _, err := b.str("timezone")
	if err != nil {
		return a, err
	}
	if from, ok, err := b.str("from"); err != nil {
		return a, err
	} else if ok && from != "" {
		a.From = boundExpression(from, zone)
	}
	if to, ok, err := b.str("to"); err != nil {
		return a, err
	} else if ok && to != "" {
		a.To = boundExpression(to, zone)
	}
	a.From.TimeZone, a.To.TimeZone = zone, zone
	if a.Title, _, err = b.str("title"); err != nil {
		return a, err
	}
	if a.Attendee, _, err = b.str("attendee"); err != nil {
		return a, err
	}
	n, err := b.integer("max_results")
	if err != nil {
		return a, err
	}
	if n != nil {
		if *n <= 0 {
			return a, argError("max_results", "must be positive, got %d", *n)
		}
		a.MaxResults = *n
	}
	return a, nil
}
