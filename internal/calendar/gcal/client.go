package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	calapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/calmcp/internal/calendar"
	"github.com/teemow/calmcp/internal/google"
)

// BackendName identifies this gateway in errors and metrics.
const BackendName = "google"

// Options configures the Google Calendar gateway.
type Options struct {
	// CalendarID is the calendar events are read from and written to.
	CalendarID string

	// SendUpdates controls guest notifications: "all", "externalOnly" or "none".
	SendUpdates string

	// ReminderMinutes sets popup and email reminders on created events.
	// Zero keeps the calendar's defaults.
	ReminderMinutes int

	// CreatedBy is recorded in the private extended properties of created events.
	CreatedBy string

	// DefaultZone is used for all-day events that carry no time zone.
	DefaultZone *time.Location
}

func (o *Options) setDefaults() {
	if o.CalendarID == "" {
		o.CalendarID = "primary"
	}
	if o.SendUpdates == "" {
		o.SendUpdates = "none"
	}
	if o.CreatedBy == "" {
		o.CreatedBy = "calmcp"
	}
	if o.DefaultZone == nil {
		o.DefaultZone = time.UTC
	}
}

// Gateway implements calendar.Gateway on top of the Google Calendar v3 API.
// One API service is kept per account and shared by all sessions.
type Gateway struct {
	opts   Options
	tokens google.TokenProvider

	mu       sync.Mutex
	services map[string]*calapi.Service

	// newService builds the API client for an account
	newService func(ctx context.Context, account string) (*calapi.Service, error)
}

// New creates a gateway that authorizes each account through tokens.
func New(tokens google.TokenProvider, opts Options) *Gateway {
	opts.setDefaults()
	g := &Gateway{
		opts:     opts,
		tokens:   tokens,
		services: make(map[string]*calapi.Service),
	}
	g.newService = g.serviceFromTokens
	return g
}

// NewWithClientOptions creates a gateway whose API client is built from the
// given options for every account. It is used against test servers.
func NewWithClientOptions(opts Options, clientOpts ...option.ClientOption) *Gateway {
	opts.setDefaults()
	g := &Gateway{
		opts:     opts,
		services: make(map[string]*calapi.Service),
	}
	g.newService = func(ctx context.Context, _ string) (*calapi.Service, error) {
		return calapi.NewService(ctx, clientOpts...)
	}
	return g
}

// CalendarID returns the calendar the gateway operates on.
func (g *Gateway) CalendarID() string {
	return g.opts.CalendarID
}

func (g *Gateway) serviceFromTokens(ctx context.Context, account string) (*calapi.Service, error) {
	if g.tokens == nil || !g.tokens.HasTokenForAccount(account) {
		return nil, fmt.Errorf("%s", google.GetAuthenticationErrorMessage(account))
	}
	// The client outlives the call that created it, so it must not be tied to ctx.
	client, err := google.HTTPClientForAccount(context.Background(), g.tokens, account)
	if err != nil {
		return nil, err
	}
	svc, err := calapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

func (g *Gateway) service(ctx context.Context) (*calapi.Service, error) {
	account := calendar.CredentialFromContext(ctx).Account

	g.mu.Lock()
	defer g.mu.Unlock()

	if svc, ok := g.services[account]; ok {
		return svc, nil
	}
	svc, err := g.newService(ctx, account)
	if err != nil {
		return nil, err
	}
	g.services[account] = svc
	return svc, nil
}

// FetchWindow lists the events intersecting r. Recurring events are expanded
// by the API (singleEvents), so the result holds concrete instances only.
func (g *Gateway) FetchWindow(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, g.wrap("fetch_window", err)
	}

	var events []calendar.Event
	call := svc.Events.List(g.opts.CalendarID).
		TimeMin(r.Start.UTC().Format(time.RFC3339)).
		TimeMax(r.End.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)

	err = call.Pages(ctx, func(page *calapi.Events) error {
		for _, item := range page.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			ev, err := g.fromAPI(item)
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, g.wrap("fetch_window", fmt.Errorf("failed to list events: %w", err))
	}
	return events, nil
}

// Get retrieves a specific event by ID.
func (g *Gateway) Get(ctx context.Context, id string) (calendar.Event, error) {
	item, err := g.getRaw(ctx, id)
	if err != nil {
		return calendar.Event{}, g.wrap("get", err)
	}
	ev, err := g.fromAPI(item)
	if err != nil {
		return calendar.Event{}, g.wrap("get", err)
	}
	return ev, nil
}

func (g *Gateway) getRaw(ctx context.Context, id string) (*calapi.Event, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	item, err := svc.Events.Get(g.opts.CalendarID, id).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", classify(err))
	}
	if item.Status == "cancelled" {
		return nil, calendar.ErrNotFound
	}
	return item, nil
}

// Create inserts a new event.
func (g *Gateway) Create(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return calendar.Event{}, g.wrap("create", err)
	}

	item, err := g.toAPI(e)
	if err != nil {
		return calendar.Event{}, g.wrap("create", err)
	}
	g.applyCreateDefaults(item, e)

	call := svc.Events.Insert(g.opts.CalendarID, item).
		SendUpdates(g.opts.SendUpdates).
		Context(ctx)
	if e.Conferencing {
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		return calendar.Event{}, g.wrap("create", fmt.Errorf("failed to create event: %w", classify(err)))
	}
	ev, err := g.fromAPI(created)
	if err != nil {
		return calendar.Event{}, g.wrap("create", err)
	}
	return ev, nil
}

// Update applies p to the stored event and writes it back.
func (g *Gateway) Update(ctx context.Context, id string, p calendar.EventPatch) (calendar.Event, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}

	existing, err := g.getRaw(ctx, id)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}
	current, err := g.fromAPI(existing)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}

	next := p.Apply(current)
	if err := g.mergeInto(existing, next, p); err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}

	call := svc.Events.Update(g.opts.CalendarID, id, existing).
		SendUpdates(g.opts.SendUpdates).
		Context(ctx)
	if p.Conferencing != nil && *p.Conferencing {
		call = call.ConferenceDataVersion(1)
	}

	updated, err := call.Do()
	if err != nil {
		return calendar.Event{}, g.wrap("update", fmt.Errorf("failed to update event: %w", classify(err)))
	}
	ev, err := g.fromAPI(updated)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}
	return ev, nil
}

// Delete removes an event.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return g.wrap("delete", err)
	}
	err = svc.Events.Delete(g.opts.CalendarID, id).
		SendUpdates(g.opts.SendUpdates).
		Context(ctx).
		Do()
	if err != nil {
		return g.wrap("delete", fmt.Errorf("failed to delete event: %w", classify(err)))
	}
	return nil
}

// FreeBusy queries busy blocks for the attendees' calendars in r.
func (g *Gateway) FreeBusy(ctx context.Context, r calendar.TimeRange, attendees []string) (map[string][]calendar.TimeRange, error) {
	if len(attendees) == 0 {
		return nil, nil
	}
	svc, err := g.service(ctx)
	if err != nil {
		return nil, g.wrap("freebusy", err)
	}

	items := make([]*calapi.FreeBusyRequestItem, len(attendees))
	for i, id := range attendees {
		items[i] = &calapi.FreeBusyRequestItem{Id: id}
	}

	query := &calapi.FreeBusyRequest{
		TimeMin: r.Start.UTC().Format(time.RFC3339),
		TimeMax: r.End.UTC().Format(time.RFC3339),
		Items:   items,
	}

	result, err := svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return nil, g.wrap("freebusy", fmt.Errorf("failed to query freebusy: %w", err))
	}

	busy := make(map[string][]calendar.TimeRange, len(result.Calendars))
	for calID, cal := range result.Calendars {
		// Calendars we may not read report errors instead of busy blocks.
		if len(cal.Errors) > 0 {
			continue
		}
		for _, b := range cal.Busy {
			start, err1 := time.Parse(time.RFC3339, b.Start)
			end, err2 := time.Parse(time.RFC3339, b.End)
			if err1 != nil || err2 != nil {
				continue
			}
			busy[calID] = append(busy[calID], calendar.TimeRange{Start: start.UTC(), End: end.UTC()})
		}
	}
	return busy, nil
}

func (g *Gateway) wrap(op string, err error) error {
	return calendar.NewBackendError(BackendName, op, err)
}

// classify maps missing or deleted resources to calendar.ErrNotFound.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return calendar.ErrNotFound
	}
	return err
}
