// Package dispatcher routes agent tool calls through validation, temporal
// normalization, conflict detection and idempotent commit.
//
// Every call walks the same state machine:
//
//	received -> validated -> (normalized) -> (conflict_checked) -> committed | rejected
//
// and always ends in a Result value; errors never escape Dispatch.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/conflict"
	"github.com/teemow/calmcp/internal/idempotency"
	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/logging"
	"github.com/teemow/calmcp/internal/temporal"
)

// Dispatch states.
const (
	StateReceived        = "received"
	StateValidated       = "validated"
	StateNormalized      = "normalized"
	StateConflictChecked = "conflict_checked"
	StateCommitted       = "committed"
	StateRejected        = "rejected"
)

// Defaults applied by New.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultQueryWindow = 30 * 24 * time.Hour
	MaxQueryWindow     = 366 * 24 * time.Hour
	DefaultMaxResults  = 100
	DefaultBackend     = "calendar"

	// pastTolerance lets "now" requests through despite clock skew.
	pastTolerance = time.Minute
)

// Config holds the dispatcher's policy settings.
type Config struct {
	// Timeout bounds every gateway call. A timeout is a backend error.
	Timeout time.Duration

	// RejectPast refuses to create or move events into the past.
	RejectPast bool

	// AttendeeFreeBusy adds attendees' busy blocks to the conflict check
	// when the gateway implements calendar.FreeBusyChecker.
	AttendeeFreeBusy bool

	// Backend names the gateway in metrics, spans and errors.
	Backend string

	// QueryWindow is the span query_events covers without an explicit end.
	QueryWindow time.Duration
	MaxResults  int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithNormalizer sets the temporal normalizer.
func WithNormalizer(n *temporal.Normalizer) Option {
	return func(d *Dispatcher) { d.normalizer = n }
}

// WithDetector sets the conflict detector.
func WithDetector(c *conflict.Detector) Option {
	return func(d *Dispatcher) { d.detector = c }
}

// WithGuard sets the idempotency guard.
func WithGuard(g *idempotency.Guard) Option {
	return func(d *Dispatcher) { d.guard = g }
}

// WithMetrics sets the metrics recorder. Nil disables metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the clock used when a call carries no IssuedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher executes tool calls against a calendar gateway. It holds no
// per-call state and is safe for concurrent use; the idempotency guard is
// the only state shared between calls.
type Dispatcher struct {
	gateway    calendar.Gateway
	normalizer *temporal.Normalizer
	detector   *conflict.Detector
	guard      *idempotency.Guard
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config
}

// New creates a dispatcher over gw.
func New(gw calendar.Gateway, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.QueryWindow <= 0 {
		cfg.QueryWindow = DefaultQueryWindow
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}

	d := &Dispatcher{
		gateway:    gw,
		normalizer: temporal.New(time.UTC),
		detector:   conflict.New(time.UTC),
		guard:      idempotency.New(idempotency.NewMemoryStore(), 0),
		logger:     slog.Default(),
		now:        time.Now,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Dispatch runs one tool call to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) Result {
	started := time.Now()
	if call.Account == "" {
		call.Account = calendar.CredentialFromContext(ctx).Account
	}
	ctx = calendar.WithCredential(ctx, calendar.Credential{Account: call.Account})

	opLabel := string(call.Operation)
	if !known(call.Operation) {
		opLabel = instrumentation.StatusUnknown
	}
	ctx, span := instrumentation.StartDispatchSpan(ctx, opLabel, call.ID)
	defer span.End()

	r := &run{
		Dispatcher: d,
		call:       call,
		op:         opLabel,
		log:        logging.WithCall(d.logger, opLabel, call.ID),
		issued:     call.IssuedAt,
	}
	if r.issued.IsZero() {
		r.issued = d.now()
	}
	r.transition(ctx, StateReceived)

	var res Result
	switch call.Operation {
	case OpCreate:
		res = r.create(ctx)
	case OpUpdate:
		res = r.update(ctx)
	case OpDelete:
		res = r.delete(ctx)
	case OpQuery:
		res = r.query(ctx)
	default:
		res = failure(call.Operation, argError("operation", "unknown operation %q", call.Operation))
	}
	res.Operation = call.Operation

	if res.OK() {
		r.transition(ctx, StateCommitted)
	} else {
		r.transition(ctx, StateRejected)
	}

	elapsed := time.Since(started)
	d.metrics.RecordDispatchOutcome(ctx, opLabel, string(res.Status), elapsed)
	span.SetAttributes(
		attribute.String(instrumentation.SpanAttrOutcome, string(res.Status)),
		attribute.Bool(instrumentation.SpanAttrReplayed, res.Replayed),
	)

	attrs := []any{
		logging.Status(string(res.Status)),
		slog.Duration(logging.KeyDuration, elapsed),
		slog.Bool("replayed", res.Replayed),
	}
	switch {
	case res.Error != nil:
		instrumentation.SetSpanError(span, errors.New(res.Error.Reason))
		attrs = append(attrs, slog.String("error_kind", string(res.Error.Kind)), slog.String("reason", res.Error.Reason))
		r.log.WarnContext(ctx, "tool call rejected", attrs...)
	case res.Status == StatusConflict:
		instrumentation.AddConflictEvent(ctx, len(res.Conflict.Overlaps))
		instrumentation.SetSpanSuccess(span)
		attrs = append(attrs, slog.Int("overlaps", len(res.Conflict.Overlaps)))
		r.log.InfoContext(ctx, "tool call rejected by conflict", attrs...)
	default:
		instrumentation.SetSpanSuccess(span)
		r.log.InfoContext(ctx, "tool call completed", attrs...)
	}
	return res
}

func known(op Operation) bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// run is the state of one Dispatch call.
type run struct {
	*Dispatcher
	call   ToolCall
	op     string
	log    *slog.Logger
	issued time.Time
}

func (r *run) transition(ctx context.Context, state string) {
	r.log.DebugContext(ctx, "dispatch transition", logging.State(state))
	r.metrics.RecordDispatchTransition(ctx, r.op, state)
	instrumentation.AddTransitionEvent(ctx, state)
}

func (r *run) reject(err error) Result {
	return failure(r.call.Operation, err)
}

// scope partitions the idempotency cache by session and account.
func (r *run) scope() string {
	session := r.call.Session
	if session == "" {
		session = "default"
	}
	return session + "/" + r.call.Account
}

// gatewayCall runs fn under the configured timeout, recording a span and
// metrics. Every error except not-found comes back as a *calendar.BackendError.
func (r *run) gatewayCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	ctx, span := instrumentation.StartBackendSpan(ctx, r.cfg.Backend, op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err == nil && readOnly(op) && ctx.Err() != nil {
		// A read that outlived its deadline cannot prove the slot is free.
		err = ctx.Err()
	}
	err = calendar.NewBackendError(r.cfg.Backend, op, err)

	status := instrumentation.StatusSuccess
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		status = instrumentation.StatusNotFound
		instrumentation.SetSpanSuccess(span)
	case err != nil:
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
		r.log.WarnContext(ctx, "calendar backend call failed", logging.Backend(r.cfg.Backend), logging.Operation(op), logging.Err(err))
	default:
		instrumentation.SetSpanSuccess(span)
	}
	r.metrics.RecordBackendOperation(ctx, r.cfg.Backend, op, status, time.Since(start))
	return err
}

func readOnly(op string) bool {
	switch op {
	case instrumentation.OperationFetchWindow, instrumentation.OperationGet, instrumentation.OperationFreeBusy:
		return true
	}
	return false
}

func (r *run) fetch(ctx context.Context, window calendar.TimeRange) ([]calendar.Event, error) {
	var events []calendar.Event
	err := r.gatewayCall(ctx, instrumentation.OperationFetchWindow, func(ctx context.Context) error {
		var err error
		events, err = r.gateway.FetchWindow(ctx, window)
		return err
	})
	return events, err
}

func (r *run) get(ctx context.Context, id string) (calendar.Event, error) {
	var ev calendar.Event
	err := r.gatewayCall(ctx, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		ev, err = r.gateway.Get(ctx, id)
		return err
	})
	return ev, err
}

// existing returns the query the detector uses to load the calendar around a
// candidate. With attendee free/busy enabled, busy blocks of the attendees
// are added as synthetic events; a block equal to skip (the event being
// moved) is left out.
func (r *run) existing(attendees []string, skip calendar.TimeRange) conflict.QueryFunc {
	return func(ctx context.Context, window calendar.TimeRange) ([]calendar.Event, error) {
		events, err := r.fetch(ctx, window)
		if err != nil {
			return nil, err
		}
		fb, ok := r.gateway.(calendar.FreeBusyChecker)
		if !r.cfg.AttendeeFreeBusy || !ok {
			return events, nil
		}
		emails, _ := calendar.SplitAttendees(attendees)
		if len(emails) == 0 {
			return events, nil
		}

		var busy map[string][]calendar.TimeRange
		err = r.gatewayCall(ctx, instrumentation.OperationFreeBusy, func(ctx context.Context) error {
			var err error
			busy, err = fb.FreeBusy(ctx, window, emails)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, email := range emails {
			for _, b := range busy[email] {
				if b.Start.Equal(skip.Start) && b.End.Equal(skip.End) {
					continue
				}
				events = append(events, calendar.Event{
					ID:    "freebusy:" + email,
					Title: "Busy: " + email,
					Start: b.Start,
					End:   b.End,
				})
			}
		}
		return events, nil
	}
}

// checkConflicts runs the detector unless force is set. A nil report means
// the commit may proceed.
func (r *run) checkConflicts(ctx context.Context, c conflict.Candidate, force bool, skip calendar.TimeRange) (*conflict.Report, error) {
	if force {
		r.log.InfoContext(ctx, "conflict check overridden by force")
		r.transition(ctx, StateConflictChecked)
		return nil, nil
	}
	report, err := r.detector.Check(ctx, c, r.existing(c.Attendees, skip))
	if err != nil {
		return nil, err
	}
	r.transition(ctx, StateConflictChecked)
	if !report.Conflicting {
		return nil, nil
	}
	r.metrics.RecordConflict(ctx, r.op, len(report.Overlaps))
	return &report, nil
}

// guarded runs compute at most once per live key. Only committed results
// are cached; a replay is decoded from the stored JSON.
func (r *run) guarded(ctx context.Context, normalized any, compute func(ctx context.Context) Result) Result {
	key, err := idempotency.Key(string(r.call.Operation), normalized)
	if err != nil {
		r.log.WarnContext(ctx, "failed to compute idempotency key", logging.Err(err))
		return compute(ctx)
	}

	var (
		res      Result
		computed bool
	)
	payload, replayed, err := r.guard.Do(ctx, r.scope(), key, func(ctx context.Context) ([]byte, bool, error) {
		res, computed = compute(ctx), true
		b, err := json.Marshal(res)
		if err != nil {
			return nil, false, fmt.Errorf("failed to encode result: %w", err)
		}
		return b, res.Status == StatusCommitted, nil
	})
	if err != nil {
		r.log.WarnContext(ctx, "idempotency guard unavailable", logging.Err(err))
		if computed {
			return res
		}
		return compute(ctx)
	}
	if !replayed {
		return res
	}

	var cached Result
	if err := json.Unmarshal(payload, &cached); err != nil {
		return r.reject(fmt.Errorf("failed to decode replayed result: %w", err))
	}
	cached.Replayed = true
	r.metrics.RecordIdempotentReplay(ctx, r.op)
	r.log.InfoContext(ctx, "idempotent replay", slog.String("key", key[:12]))
	return cached
}

// checkPast enforces RejectPast. All-day spans are allowed while any part of
// them is still ahead.
func (r *run) checkPast(s temporal.Span) error {
	if !r.cfg.RejectPast {
		return nil
	}
	if s.AllDay {
		if !s.End.After(r.issued) {
			return &PastError{Start: s.Start, Now: r.issued}
		}
		return nil
	}
	if s.Start.Before(r.issued.Add(-pastTolerance)) {
		return &PastError{Start: s.Start, Now: r.issued}
	}
	return nil
}

// createKey is the canonical content a create is deduplicated on.
type createKey struct {
	Event calendar.Event `json:"event"`
	Force bool           `json:"force"`
}

func (r *run) create(ctx context.Context) Result {
	args, err := decodeCreateArgs(r.call.Args)
	if err != nil {
		return r.reject(err)
	}
	r.transition(ctx, StateValidated)

	span, err := r.normalizer.Normalize(args.Start, args.Hint, r.issued)
	if err != nil {
		return r.reject(err)
	}
	if err := r.checkPast(span); err != nil {
		return r.reject(err)
	}
	r.transition(ctx, StateNormalized)

	ev := calendar.Event{
		Title:        args.Title,
		Description:  args.Description,
		Location:     args.Location,
		Start:        span.Start,
		End:          span.End,
		TimeZone:     span.Zone.String(),
		AllDay:       span.AllDay,
		Attendees:    args.Attendees,
		Conferencing: args.Conferencing,
		Recurrence:   args.Recurrence,
	}

	return r.guarded(ctx, createKey{Event: ev, Force: args.Force}, func(ctx context.Context) Result {
		c := conflict.Candidate{
			Start:      span.Start,
			End:        span.End,
			Zone:       span.Zone,
			AllDay:     span.AllDay,
			Attendees:  args.Attendees,
			Recurrence: args.Recurrence,
		}
		report, err := r.checkConflicts(ctx, c, args.Force, calendar.TimeRange{})
		if err != nil {
			return r.reject(err)
		}
		if report != nil {
			return Result{Status: StatusConflict, Conflict: report}
		}

		ev.SourceCallID = r.call.ID
		var created calendar.Event
		err = r.gatewayCall(ctx, instrumentation.OperationCreate, func(ctx context.Context) error {
			var err error
			created, err = r.gateway.Create(ctx, ev)
			return err
		})
		if err != nil {
			return r.reject(err)
		}
		r.log.InfoContext(ctx, "event created", logging.EventID(created.ID))
		return Result{Status: StatusCommitted, Event: &created}
	})
}

// updateKey is the canonical content an update is deduplicated on. Partial
// temporal changes resolve against the stored event, so the key is taken
// from the validated arguments rather than the final times. Relative pins
// the moment relative expressions resolve against.
type updateKey struct {
	ID       string     `json:"id"`
	Args     UpdateArgs `json:"args"`
	Relative string     `json:"relative,omitempty"`
}

// relativeAnchor is empty when a's times do not depend on when the call was
// issued. in_minutes resolves to the minute; in_days and weekday resolve to
// the local day.
func (r *run) relativeAnchor(a UpdateArgs) string {
	exprs := []temporal.Expression{a.Start, a.Hint.End}
	for _, e := range exprs {
		if e.InMinutes != nil {
			return r.issued.Truncate(time.Minute).UTC().Format(time.RFC3339)
		}
	}
	for _, e := range exprs {
		if e.InDays == nil && e.Weekday == "" {
			continue
		}
		zone := a.TimeZone
		if zone == "" {
			zone = e.TimeZone
		}
		loc, err := r.normalizer.Zone(zone)
		if err != nil {
			loc = time.UTC
		}
		return r.issued.In(loc).Format("2006-01-02")
	}
	return ""
}

func (r *run) update(ctx context.Context) Result {
	args, err := decodeUpdateArgs(r.call.Args)
	if err != nil {
		return r.reject(err)
	}
	if args.TimeZone != "" {
		if _, err := r.normalizer.Zone(args.TimeZone); err != nil {
			return r.reject(err)
		}
	}

	patch := calendar.EventPatch{
		Title:        args.Title,
		Description:  args.Description,
		Location:     args.Location,
		Attendees:    args.Attendees,
		Conferencing: args.Conferencing,
		Recurrence:   args.Recurrence,
	}
	if args.TimeZone != "" {
		patch.TimeZone = &args.TimeZone
	}
	if patch.Empty() && !args.Temporal() {
		return r.reject(argError("", "nothing to update for event %s", args.ID))
	}
	r.transition(ctx, StateValidated)

	key := updateKey{ID: args.ID, Args: args, Relative: r.relativeAnchor(args)}
	return r.guarded(ctx, key, func(ctx context.Context) Result {
		if !args.Temporal() && args.Recurrence == nil {
			r.log.DebugContext(ctx, "non-temporal update, conflict check bypassed")
			return r.commitUpdate(ctx, args.ID, patch)
		}

		existing, err := r.get(ctx, args.ID)
		if err != nil {
			return r.reject(err)
		}
		span, moved, err := r.reschedule(existing, args)
		if err != nil {
			return r.reject(err)
		}
		if moved {
			if err := r.checkPast(span); err != nil {
				return r.reject(err)
			}
			patch.Start, patch.End = &span.Start, &span.End
			if args.AllDay != nil {
				patch.AllDay = &span.AllDay
			}
		}
		r.transition(ctx, StateNormalized)

		next := patch.Apply(existing)
		if !next.Start.Before(next.End) {
			return r.reject(&temporal.InvalidRangeError{Reason: "updated end is not after start"})
		}
		zone, err := r.normalizer.Zone(next.TimeZone)
		if err != nil {
			zone = r.normalizer.DefaultZone
		}
		c := conflict.Candidate{
			Start:      next.Start,
			End:        next.End,
			Zone:       zone,
			AllDay:     next.AllDay,
			Attendees:  next.Attendees,
			Recurrence: next.Recurrence,
			ExcludeID:  existing.ID,
		}
		report, err := r.checkConflicts(ctx, c, args.Force, existing.Range())
		if err != nil {
			return r.reject(err)
		}
		if report != nil {
			return Result{Status: StatusConflict, Conflict: report}
		}
		return r.commitUpdate(ctx, args.ID, patch)
	})
}

func (r *run) commitUpdate(ctx context.Context, id string, patch calendar.EventPatch) Result {
	patch.SourceCallID = r.call.ID
	var updated calendar.Event
	err := r.gatewayCall(ctx, instrumentation.OperationUpdate, func(ctx context.Context) error {
		var err error
		updated, err = r.gateway.Update(ctx, id, patch)
		return err
	})
	if err != nil {
		return r.reject(err)
	}
	r.log.InfoContext(ctx, "event updated", logging.EventID(updated.ID))
	return Result{Status: StatusCommitted, Event: &updated}
}

// reschedule resolves the new window of an update against the stored event.
// A new start alone keeps the event's duration; a new end or duration alone
// keeps its start. moved is false when the times stay as they are.
func (r *run) reschedule(existing calendar.Event, a UpdateArgs) (span temporal.Span, moved bool, err error) {
	allDay := existing.AllDay
	if a.AllDay != nil {
		allDay = *a.AllDay
	}
	zone := existing.TimeZone
	if a.TimeZone != "" {
		zone = a.TimeZone
	}
	loc, err := r.normalizer.Zone(zone)
	if err != nil {
		return temporal.Span{}, false, err
	}

	expr, hint := a.Start, a.Hint
	switch {
	case !expr.IsZero():
		if hint.End.IsZero() && hint.Duration == 0 && allDay == existing.AllDay {
			hint.Duration = existing.Duration()
		}
	case !hint.End.IsZero() || hint.Duration != 0:
		expr = anchor(existing, loc, allDay)
	case allDay != existing.AllDay:
		if !allDay {
			return temporal.Span{}, false, &temporal.AmbiguousTimeError{
				Field:  "start",
				Reason: "a start time is required to turn an all-day event into a timed one",
			}
		}
		expr = anchor(existing, loc, true)
	default:
		return temporal.Span{}, false, nil
	}

	expr.TimeZone = zone
	expr.AllDay = allDay
	if !hint.End.IsZero() && hint.End.TimeZone == "" {
		hint.End.TimeZone = zone
	}
	span, err = r.normalizer.Normalize(expr, hint, r.issued)
	if err != nil {
		return temporal.Span{}, false, err
	}
	return span, true, nil
}

// anchor expresses the stored start as an absolute expression.
func anchor(e calendar.Event, loc *time.Location, allDay bool) temporal.Expression {
	local := e.Start.In(loc)
	if allDay {
		return temporal.Expression{Date: local.Format("2006-01-02")}
	}
	return temporal.Expression{DateTime: local.Format(time.RFC3339)}
}

func (r *run) delete(ctx context.Context) Result {
	args, err := decodeDeleteArgs(r.call.Args)
	if err != nil {
		return r.reject(err)
	}
	r.transition(ctx, StateValidated)

	return r.guarded(ctx, args, func(ctx context.Context) Result {
		err := r.gatewayCall(ctx, instrumentation.OperationDelete, func(ctx context.Context) error {
			return r.gateway.Delete(ctx, args.ID)
		})
		if err != nil {
			return r.reject(err)
		}
		r.log.InfoContext(ctx, "event deleted", logging.EventID(args.ID))
		return Result{Status: StatusCommitted, Deleted: args.ID}
	})
}

func (r *run) query(ctx context.Context) Result {
	args, err := decodeQueryArgs(r.call.Args)
	if err != nil {
		return r.reject(err)
	}
	r.transition(ctx, StateValidated)

	if args.ID != "" {
		ev, err := r.get(ctx, args.ID)
		if err != nil {
			return r.reject(err)
		}
		return Result{Status: StatusQueried, Events: []calendar.Event{ev}}
	}

	window, err := r.queryWindow(args)
	if err != nil {
		return r.reject(err)
	}
	r.transition(ctx, StateNormalized)

	events, err := r.fetch(ctx, window)
	if err != nil {
		return r.reject(err)
	}
	instances, err := r.detector.Instances(events, window)
	if err != nil {
		return r.reject(err)
	}

	limit := r.cfg.MaxResults
	if args.MaxResults > 0 && args.MaxResults < limit {
		limit = args.MaxResults
	}
	out := make([]calendar.Event, 0, len(instances))
	for _, e := range instances {
		if !matches(e, args) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return Result{Status: StatusQueried, Events: out, Window: &window}
}

// queryWindow defaults to [now, now+QueryWindow). A date-only upper bound
// includes that whole day.
func (r *run) queryWindow(a QueryArgs) (calendar.TimeRange, error) {
	from := r.issued
	if !a.From.IsZero() {
		t, err := r.normalizer.Instant(a.From, r.issued)
		if err != nil {
			return calendar.TimeRange{}, err
		}
		from = t
	}

	to := from.Add(r.cfg.QueryWindow)
	if !a.To.IsZero() {
		t, err := r.normalizer.Instant(a.To, r.issued)
		if err != nil {
			return calendar.TimeRange{}, err
		}
		if a.To.Date != "" && a.To.Time == "" {
			loc, err := r.normalizer.Zone(a.To.TimeZone)
			if err != nil {
				return calendar.TimeRange{}, err
			}
			t = t.In(loc).AddDate(0, 0, 1).UTC()
		}
		to = t
	}

	window := calendar.TimeRange{Start: from.UTC(), End: to.UTC()}
	if !window.Valid() {
		return calendar.TimeRange{}, &temporal.InvalidRangeError{Reason: "query end must be after its start"}
	}
	if window.Duration() > MaxQueryWindow {
		return calendar.TimeRange{}, &temporal.InvalidRangeError{
			Reason: fmt.Sprintf("query window of %s exceeds the maximum of %s", window.Duration(), MaxQueryWindow),
		}
	}
	return window, nil
}

func matches(e calendar.Event, a QueryArgs) bool {
	if a.Title != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(a.Title)) {
		return false
	}
	if a.Attendee == "" {
		return true
	}
	want := strings.ToLower(a.Attendee)
	for _, at := range e.Attendees {
		if strings.Contains(strings.ToLower(at), want) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(calendar.ParticipantsLine(e.Description)), want)
}

