package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/calmcp/internal/calendar"
)

// fakeAPI is a minimal Google Calendar v3 server backed by a map.
type fakeAPI struct {
	mu      sync.Mutex
	events  map[string]*calapi.Event
	nextID  int
	inserts int
	last    *calapi.Event
	query   map[string]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{events: map[string]*calapi.Event{}}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.query = map[string]string{}
	for k := range r.URL.Query() {
		f.query[k] = r.URL.Query().Get(k)
	}

	const prefix = "/calendars/primary/events"
	path := r.URL.Path
	switch {
	case path == "/freeBusy" && r.Method == http.MethodPost:
		writeJSON(w, &calapi.FreeBusyResponse{
			Calendars: map[string]calapi.FreeBusyCalendar{
				"bob@example.com": {Busy: []*calapi.TimePeriod{{
					Start: "2024-06-10T15:00:00Z",
					End:   "2024-06-10T16:00:00Z",
				}}},
				"secret@example.com": {Errors: []*calapi.Error{{Reason: "notFound"}}},
			},
		})
	case path == prefix && r.Method == http.MethodGet:
		var items []*calapi.Event
		for _, ev := range f.events {
			items = append(items, ev)
		}
		writeJSON(w, &calapi.Events{Items: items})
	case path == prefix && r.Method == http.MethodPost:
		var ev calapi.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		f.nextID++
		f.inserts++
		ev.Id = fmt.Sprintf("evt-%d", f.nextID)
		ev.HtmlLink = "https://calendar.google.com/event?eid=" + ev.Id
		if ev.ConferenceData != nil {
			ev.HangoutLink = "https://meet.google.com/abc-defg-hij"
		}
		f.events[ev.Id] = &ev
		f.last = &ev
		writeJSON(w, &ev)
	case strings.HasPrefix(path, prefix+"/"):
		id := strings.TrimPrefix(path, prefix+"/")
		ev, ok := f.events[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, ev)
		case http.MethodPut:
			var upd calapi.Event
			_ = json.NewDecoder(r.Body).Decode(&upd)
			upd.Id = id
			f.events[id] = &upd
			f.last = &upd
			writeJSON(w, &upd)
		case http.MethodDelete:
			delete(f.events, id)
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"boom"}}`))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGateway(t *testing.T, opts Options) (*Gateway, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	gw := NewWithClientOptions(opts, option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	return gw, api
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGateway_CreateAndGet(t *testing.T) {
	gw, api := newTestGateway(t, Options{ReminderMinutes: 15})
	ctx := context.Background()

	created, err := gw.Create(ctx, calendar.Event{
		Title:        "Team Sync",
		Start:        at("2024-06-10T15:00:00Z"),
		End:          at("2024-06-10T16:00:00Z"),
		TimeZone:     "Europe/Berlin",
		Attendees:    []string{"alice@example.com", "Bob"},
		Conferencing: true,
		SourceCallID: "call-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "evt-1", created.ID)
	assert.True(t, created.Start.Equal(at("2024-06-10T15:00:00Z")))
	assert.True(t, created.End.Equal(at("2024-06-10T16:00:00Z")))
	assert.Equal(t, []string{"alice@example.com"}, created.Attendees)
	assert.Equal(t, "Participants: Bob", created.Description)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", created.ConferenceLink)
	assert.Equal(t, "call-1", created.SourceCallID)

	require.NotNil(t, api.last.Reminders)
	assert.Len(t, api.last.Reminders.Overrides, 2)
	assert.Equal(t, "calmcp", api.last.ExtendedProperties.Private["created_by"])
	assert.Equal(t, "1", api.query["conferenceDataVersion"])
	assert.Equal(t, "none", api.query["sendUpdates"])
	assert.Equal(t, "2024-06-10T17:00:00+02:00", api.last.Start.DateTime)

	got, err := gw.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Team Sync", got.Title)
}

func TestGateway_CreateAllDay(t *testing.T) {
	gw, api := newTestGateway(t, Options{})
	berlin, _ := time.LoadLocation("Europe/Berlin")

	created, err := gw.Create(context.Background(), calendar.Event{
		Title:    "Offsite",
		Start:    time.Date(2024, 6, 10, 0, 0, 0, 0, berlin).UTC(),
		End:      time.Date(2024, 6, 12, 0, 0, 0, 0, berlin).UTC(),
		TimeZone: "Europe/Berlin",
		AllDay:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-06-10", api.last.Start.Date)
	assert.Equal(t, "2024-06-12", api.last.End.Date)
	assert.True(t, created.AllDay)
	assert.Nil(t, api.last.Reminders)
}

func TestGateway_FetchWindow(t *testing.T) {
	gw, api := newTestGateway(t, Options{})
	api.events["a"] = &calapi.Event{
		Id:      "a",
		Summary: "Standup",
		Start:   &calapi.EventDateTime{DateTime: "2024-06-10T09:00:00Z"},
		End:     &calapi.EventDateTime{DateTime: "2024-06-10T09:15:00Z"},
	}
	api.events["b"] = &calapi.Event{
		Id:     "b",
		Status: "cancelled",
		Start:  &calapi.EventDateTime{DateTime: "2024-06-10T10:00:00Z"},
		End:    &calapi.EventDateTime{DateTime: "2024-06-10T11:00:00Z"},
	}
	api.events["c"] = &calapi.Event{
		Id:           "c",
		Summary:      "Focus",
		Transparency: "transparent",
		Start:        &calapi.EventDateTime{DateTime: "2024-06-10T12:00:00Z"},
		End:          &calapi.EventDateTime{DateTime: "2024-06-10T13:00:00Z"},
	}

	events, err := gw.FetchWindow(context.Background(), calendar.TimeRange{
		Start: at("2024-06-10T00:00:00Z"),
		End:   at("2024-06-11T00:00:00Z"),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "true", api.query["singleEvents"])

	byID := map[string]calendar.Event{}
	for _, e := range events {
		byID[e.ID] = e
	}
	assert.Equal(t, "Standup", byID["a"].Title)
	assert.True(t, byID["c"].Transparent)
}

func TestGateway_UpdatePreservesUnpatchedFields(t *testing.T) {
	gw, api := newTestGateway(t, Options{})
	ctx := context.Background()

	created, err := gw.Create(ctx, calendar.Event{
		Title:     "Review",
		Location:  "Room 1",
		Start:     at("2024-06-10T15:00:00Z"),
		End:       at("2024-06-10T16:00:00Z"),
		Attendees: []string{"Carol"},
	})
	require.NoError(t, err)

	desc := "Agenda"
	start, end := at("2024-06-10T17:00:00Z"), at("2024-06-10T18:00:00Z")
	updated, err := gw.Update(ctx, created.ID, calendar.EventPatch{
		Description:  &desc,
		Start:        &start,
		End:          &end,
		SourceCallID: "call-2",
	})
	require.NoError(t, err)

	assert.Equal(t, "Review", updated.Title)
	assert.Equal(t, "Room 1", updated.Location)
	assert.True(t, updated.Start.Equal(start))
	assert.Equal(t, "Agenda\n\nParticipants: Carol", updated.Description)
	assert.Equal(t, "call-2", api.last.ExtendedProperties.Private["tool_call_id"])
}

func TestGateway_NotFound(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	ctx := context.Background()

	_, err := gw.Get(ctx, "evt-404")
	assert.True(t, errors.Is(err, calendar.ErrNotFound), "got %v", err)

	err = gw.Delete(ctx, "evt-404")
	assert.True(t, errors.Is(err, calendar.ErrNotFound), "got %v", err)

	title := "x"
	_, err = gw.Update(ctx, "evt-404", calendar.EventPatch{Title: &title})
	assert.True(t, errors.Is(err, calendar.ErrNotFound), "got %v", err)
}

func TestGateway_Delete(t *testing.T) {
	gw, api := newTestGateway(t, Options{})
	ctx := context.Background()

	created, err := gw.Create(ctx, calendar.Event{
		Title: "Doomed",
		Start: at("2024-06-10T15:00:00Z"),
		End:   at("2024-06-10T16:00:00Z"),
	})
	require.NoError(t, err)

	require.NoError(t, gw.Delete(ctx, created.ID))
	assert.Empty(t, api.events)
}

func TestGateway_BackendError(t *testing.T) {
	gw := NewWithClientOptions(Options{CalendarID: "missing"}, option.WithEndpoint("http://127.0.0.1:1/"), option.WithoutAuthentication())

	_, err := gw.FetchWindow(context.Background(), calendar.TimeRange{
		Start: at("2024-06-10T00:00:00Z"),
		End:   at("2024-06-11T00:00:00Z"),
	})
	require.Error(t, err)

	var be *calendar.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, BackendName, be.Backend)
	assert.Equal(t, "fetch_window", be.Op)
	assert.False(t, errors.Is(err, calendar.ErrNotFound))
}

func TestGateway_FreeBusy(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})

	busy, err := gw.FreeBusy(context.Background(), calendar.TimeRange{
		Start: at("2024-06-10T00:00:00Z"),
		End:   at("2024-06-11T00:00:00Z"),
	}, []string{"bob@example.com", "secret@example.com"})
	require.NoError(t, err)

	require.Len(t, busy["bob@example.com"], 1)
	assert.True(t, busy["bob@example.com"][0].Start.Equal(at("2024-06-10T15:00:00Z")))
	assert.Empty(t, busy["secret@example.com"])
}

func TestGateway_MissingToken(t *testing.T) {
	gw := New(nil, Options{})
	_, err := gw.Get(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAuth")
}
