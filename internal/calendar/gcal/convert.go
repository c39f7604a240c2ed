package gcal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	calapi "google.golang.org/api/calendar/v3"

	"github.com/teemow/calmcp/internal/calendar"
)

const (
	dateLayout = "2006-01-02"

	propToolCallID = "tool_call_id"
	propCreatedBy  = "created_by"
)

// fromAPI converts a Google Calendar event into the shared model.
func (g *Gateway) fromAPI(item *calapi.Event) (calendar.Event, error) {
	if item == nil {
		return calendar.Event{}, nil
	}

	ev := calendar.Event{
		ID:               item.Id,
		Title:            item.Summary,
		Description:      item.Description,
		Location:         item.Location,
		Recurrence:       item.Recurrence,
		RecurringEventID: item.RecurringEventId,
		Transparent:      item.Transparency == "transparent",
		HTMLLink:         item.HtmlLink,
		ConferenceLink:   item.HangoutLink,
	}

	start, allDay, zone, err := g.parseDateTime(item.Start)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("event %s: invalid start: %w", item.Id, err)
	}
	end, _, _, err := g.parseDateTime(item.End)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("event %s: invalid end: %w", item.Id, err)
	}
	ev.Start, ev.End, ev.AllDay, ev.TimeZone = start, end, allDay, zone

	for _, a := range item.Attendees {
		if a != nil && a.Email != "" {
			ev.Attendees = append(ev.Attendees, a.Email)
		}
	}

	if item.ConferenceData != nil {
		ev.Conferencing = true
		for _, ep := range item.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				ev.ConferenceLink = ep.Uri
				break
			}
		}
	}

	if item.ExtendedProperties != nil {
		ev.SourceCallID = item.ExtendedProperties.Private[propToolCallID]
	}

	return ev, nil
}

func (g *Gateway) parseDateTime(dt *calapi.EventDateTime) (t time.Time, allDay bool, zone string, err error) {
	if dt == nil {
		return time.Time{}, false, "", fmt.Errorf("missing time")
	}
	zone = dt.TimeZone
	if dt.DateTime != "" {
		t, err = time.Parse(time.RFC3339, dt.DateTime)
		return t.UTC(), false, zone, err
	}
	loc := g.location(zone)
	t, err = time.ParseInLocation(dateLayout, dt.Date, loc)
	if zone == "" {
		zone = loc.String()
	}
	return t.UTC(), true, zone, err
}

func (g *Gateway) location(zone string) *time.Location {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	return g.opts.DefaultZone
}

// toAPI converts the shared model into a Google Calendar event.
func (g *Gateway) toAPI(e calendar.Event) (*calapi.Event, error) {
	item := &calapi.Event{
		Summary:    e.Title,
		Location:   e.Location,
		Recurrence: e.Recurrence,
	}
	if err := g.setTimes(item, e); err != nil {
		return nil, err
	}
	g.setAttendees(item, e.Description, e.Attendees)
	if e.Transparent {
		item.Transparency = "transparent"
	}
	if e.Conferencing {
		item.ConferenceData = meetRequest()
	}
	return item, nil
}

// applyCreateDefaults sets the reminders and provenance recorded on new events.
func (g *Gateway) applyCreateDefaults(item *calapi.Event, e calendar.Event) {
	if g.opts.ReminderMinutes > 0 {
		m := int64(g.opts.ReminderMinutes)
		item.Reminders = &calapi.EventReminders{
			UseDefault: false,
			Overrides: []*calapi.EventReminder{
				{Method: "popup", Minutes: m},
				{Method: "email", Minutes: m},
			},
			ForceSendFields: []string{"UseDefault"},
		}
	}

	private := map[string]string{propCreatedBy: g.opts.CreatedBy}
	if e.SourceCallID != "" {
		private[propToolCallID] = e.SourceCallID
	}
	item.ExtendedProperties = &calapi.EventExtendedProperties{Private: private}
}

// mergeInto writes the patched event back onto the fetched API object so
// fields the shared model does not know about survive the update.
func (g *Gateway) mergeInto(item *calapi.Event, next calendar.Event, p calendar.EventPatch) error {
	if p.Title != nil {
		item.Summary = next.Title
	}
	if p.Location != nil {
		item.Location = next.Location
	}
	if p.Temporal() || p.TimeZone != nil {
		if err := g.setTimes(item, next); err != nil {
			return err
		}
	}
	if p.Recurrence != nil {
		item.Recurrence = next.Recurrence
		if len(next.Recurrence) == 0 {
			item.ForceSendFields = append(item.ForceSendFields, "Recurrence")
		}
	}
	switch {
	case p.Attendees != nil:
		item.Attendees = nil
		g.setAttendees(item, next.Description, next.Attendees)
	case p.Description != nil:
		// Keep the participants line of the stored description.
		line := calendar.ParticipantsLine(item.Description)
		item.Description = calendar.StripParticipants(next.Description)
		if line != "" {
			if item.Description != "" {
				item.Description += "\n\n"
			}
			item.Description += line
		}
	}
	if p.Conferencing != nil {
		if *p.Conferencing && item.ConferenceData == nil {
			item.ConferenceData = meetRequest()
		} else if !*p.Conferencing {
			item.ConferenceData = nil
			item.HangoutLink = ""
		}
	}
	if p.SourceCallID != "" {
		if item.ExtendedProperties == nil {
			item.ExtendedProperties = &calapi.EventExtendedProperties{}
		}
		if item.ExtendedProperties.Private == nil {
			item.ExtendedProperties.Private = map[string]string{}
		}
		item.ExtendedProperties.Private[propToolCallID] = p.SourceCallID
	}
	return nil
}

func (g *Gateway) setTimes(item *calapi.Event, e calendar.Event) error {
	if !e.Start.Before(e.End) {
		return fmt.Errorf("event end must be after start")
	}
	zone := e.TimeZone
	if zone == "" {
		zone = g.opts.DefaultZone.String()
	}

	// For all-day events, use Date instead of DateTime. Google's end date is
	// exclusive, matching the model.
	if e.AllDay {
		loc := g.location(zone)
		item.Start = &calapi.EventDateTime{Date: e.Start.In(loc).Format(dateLayout)}
		item.End = &calapi.EventDateTime{Date: e.End.In(loc).Format(dateLayout)}
		return nil
	}

	loc := g.location(zone)
	item.Start = &calapi.EventDateTime{
		DateTime: e.Start.In(loc).Format(time.RFC3339),
		TimeZone: zone,
	}
	item.End = &calapi.EventDateTime{
		DateTime: e.End.In(loc).Format(time.RFC3339),
		TimeZone: zone,
	}
	return nil
}

// setAttendees invites e-mail addresses and folds everyone else into the
// description, since Google only accepts e-mail attendees.
func (g *Gateway) setAttendees(item *calapi.Event, description string, attendees []string) {
	emails, names := calendar.SplitAttendees(attendees)
	for _, a := range emails {
		item.Attendees = append(item.Attendees, &calapi.EventAttendee{Email: a})
	}
	item.Description = calendar.WithParticipants(description, names)
}

func meetRequest() *calapi.ConferenceData {
	return &calapi.ConferenceData{
		CreateRequest: &calapi.CreateConferenceRequest{
			RequestId:             uuid.NewString(),
			ConferenceSolutionKey: &calapi.ConferenceSolutionKey{Type: "hangoutsMeet"},
		},
	}
}
