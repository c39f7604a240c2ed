// Package caldav implements calendar.Gateway against a CalDAV server
// (iCloud, Fastmail, Nextcloud, Radicale).
//
// A single set of basic-auth credentials is configured per gateway; the
// account carried by the call context is not used to select a calendar.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/teemow/calmcp/internal/calendar"
)

// BackendName identifies this gateway in errors and metrics.
const BackendName = "caldav"

// Options configures the CalDAV gateway.
type Options struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string

	// CalendarPath skips discovery when set.
	CalendarPath string

	DefaultZone *time.Location
	UserAgent   string
}

// basicAuthTransport handles adding Basic Auth and custom headers to requests.
type basicAuthTransport struct {
	username  string
	password  string
	userAgent string
	base      http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

// Gateway is a CalDAV-backed calendar.Gateway.
type Gateway struct {
	opts   Options
	caldav *caldav.Client
	webdav *webdav.Client

	mu           sync.Mutex
	calendarPath string
}

// New creates a gateway. Calendar discovery happens on first use.
func New(opts Options) (*Gateway, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("caldav endpoint is required")
	}
	if opts.CalendarName == "" && opts.CalendarPath == "" {
		return nil, fmt.Errorf("caldav calendar name or path is required")
	}
	if opts.DefaultZone == nil {
		opts.DefaultZone = time.UTC
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "calmcp/1.0"
	}

	httpClient := &http.Client{Transport: &basicAuthTransport{
		username:  opts.Username,
		password:  opts.Password,
		userAgent: opts.UserAgent,
		base:      http.DefaultTransport,
	}}

	caldavClient, err := caldav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &Gateway{
		opts:         opts,
		caldav:       caldavClient,
		webdav:       webdavClient,
		calendarPath: opts.CalendarPath,
	}, nil
}

// calendar returns the calendar collection path, discovering it by name
// through the current user principal and its calendar home set.
func (g *Gateway) calendar(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.calendarPath != "" {
		return g.calendarPath, nil
	}

	principalPath, err := g.caldav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := g.caldav.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	calendars, err := g.caldav.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == g.opts.CalendarName {
			g.calendarPath = cal.Path
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", g.opts.CalendarName)
}

// FetchWindow returns the events whose occurrences intersect r. Recurring
// events come back as unexpanded templates.
func (g *Gateway) FetchWindow(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
	calPath, err := g.calendar(ctx)
	if err != nil {
		return nil, g.wrap("fetch_window", err)
	}

	objects, err := g.caldav.QueryCalendar(ctx, calPath, windowQuery(r))
	if err != nil {
		return nil, g.wrap("fetch_window", fmt.Errorf("failed to query calendar: %w", err))
	}

	var events []calendar.Event
	for _, obj := range objects {
		ev, ok, err := g.fromObject(obj)
		if err != nil {
			return nil, g.wrap("fetch_window", err)
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Get returns the event with the given UID.
func (g *Gateway) Get(ctx context.Context, id string) (calendar.Event, error) {
	obj, err := g.find(ctx, id)
	if err != nil {
		return calendar.Event{}, g.wrap("get", err)
	}
	ev, _, err := g.fromObject(*obj)
	if err != nil {
		return calendar.Event{}, g.wrap("get", err)
	}
	return ev, nil
}

// Create stores a new event under a generated UID.
func (g *Gateway) Create(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	calPath, err := g.calendar(ctx)
	if err != nil {
		return calendar.Event{}, g.wrap("create", err)
	}

	e.ID = uuid.NewString()
	cal, err := g.toCalendar(e, time.Now())
	if err != nil {
		return calendar.Event{}, g.wrap("create", err)
	}

	objPath := path.Join(calPath, e.ID+".ics")
	if _, err := g.caldav.PutCalendarObject(ctx, objPath, cal); err != nil {
		return calendar.Event{}, g.wrap("create", fmt.Errorf("failed to put calendar object: %w", err))
	}
	return e, nil
}

// Update rewrites the stored event with p applied.
func (g *Gateway) Update(ctx context.Context, id string, p calendar.EventPatch) (calendar.Event, error) {
	obj, err := g.find(ctx, id)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}
	current, _, err := g.fromObject(*obj)
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}

	next := p.Apply(current)
	if p.Attendees == nil && p.Description != nil {
		next.Description = calendar.WithParticipants(next.Description, participantNames(current.Description))
	}
	cal, err := g.toCalendar(next, time.Now())
	if err != nil {
		return calendar.Event{}, g.wrap("update", err)
	}

	if _, err := g.caldav.PutCalendarObject(ctx, obj.Path, cal); err != nil {
		return calendar.Event{}, g.wrap("update", fmt.Errorf("failed to put calendar object: %w", err))
	}
	return next, nil
}

// Delete removes the event with the given UID.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	obj, err := g.find(ctx, id)
	if err != nil {
		return g.wrap("delete", err)
	}
	if err := g.webdav.RemoveAll(ctx, obj.Path); err != nil {
		return g.wrap("delete", fmt.Errorf("failed to delete calendar object: %w", err))
	}
	return nil
}

// find locates a calendar object by UID.
func (g *Gateway) find(ctx context.Context, uid string) (*caldav.CalendarObject, error) {
	calPath, err := g.calendar(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := g.caldav.QueryCalendar(ctx, calPath, uidQuery(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	for i := range objects {
		if objects[i].Data != nil {
			return &objects[i], nil
		}
	}
	return nil, fmt.Errorf("event %s: %w", uid, calendar.ErrNotFound)
}

func (g *Gateway) wrap(op string, err error) error {
	return calendar.NewBackendError(BackendName, op, err)
}

func windowQuery(r calendar.TimeRange) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: r.Start.UTC(),
				End:   r.End.UTC(),
			}},
		},
	}
}

func uidQuery(uid string) *caldav.CalendarQuery {
	return &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name: ical.CompEvent,
				Props: []caldav.PropFilter{{
					Name:      ical.PropUID,
					TextMatch: &caldav.TextMatch{Text: uid},
				}},
			}},
		},
	}
}

func participantNames(description string) []string {
	line := strings.TrimPrefix(calendar.ParticipantsLine(description), calendar.ParticipantsPrefix)
	if line == "" {
		return nil
	}
	return strings.Split(line, ", ")
}
