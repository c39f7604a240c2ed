package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"github.com/teemow/calmcp/internal/calendar"
)

const (
	propToolCallID   = "X-CALMCP-TOOL-CALL-ID"
	propConferencing = "X-CALMCP-CONFERENCING"
	propConference   = "CONFERENCE"
	productID        = "-//calmcp//EN"
)

// toCalendar converts the shared model into a VCALENDAR holding one VEVENT.
func (g *Gateway) toCalendar(e calendar.Event, now time.Time) (*ical.Calendar, error) {
	if !e.Start.Before(e.End) {
		return nil, fmt.Errorf("event end must be after start")
	}

	ve := ical.NewEvent()
	ve.Props.SetText(ical.PropUID, e.ID)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ve.Props.SetText(ical.PropSummary, e.Title)

	loc := g.location(e.TimeZone)
	if e.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, e.Start.In(loc))
		ve.Props.SetDate(ical.PropDateTimeEnd, e.End.In(loc))
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, e.Start.In(loc))
		ve.Props.SetDateTime(ical.PropDateTimeEnd, e.End.In(loc))
	}

	emails, names := calendar.SplitAttendees(e.Attendees)
	description := calendar.WithParticipants(e.Description, names)
	if description != "" {
		ve.Props.SetText(ical.PropDescription, description)
	}
	if e.Location != "" {
		ve.Props.SetText(ical.PropLocation, e.Location)
	}
	for _, attendee := range emails {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + attendee
		ve.Props.Add(p)
	}
	if e.Transparent {
		ve.Props.SetText(ical.PropTransparency, "TRANSPARENT")
	}
	if e.Conferencing {
		ve.Props.SetText(propConferencing, "TRUE")
		if e.ConferenceLink != "" {
			p := ical.NewProp(propConference)
			p.SetValueType(ical.ValueURI)
			p.Value = e.ConferenceLink
			ve.Props.Add(p)
		}
	}
	if e.SourceCallID != "" {
		ve.Props.SetText(propToolCallID, e.SourceCallID)
	}

	for _, line := range e.Recurrence {
		cl, err := calendar.ParseRecurrenceLine(line)
		if err != nil {
			return nil, err
		}
		p := ical.NewProp(cl.Name)
		for k, v := range cl.Params {
			p.Params.Set(k, v)
		}
		p.Value = cl.Value
		ve.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ve.Component)
	return cal, nil
}

// fromObject converts the master VEVENT of a calendar object. ok is false
// when the object holds no event.
func (g *Gateway) fromObject(obj caldav.CalendarObject) (ev calendar.Event, ok bool, err error) {
	if obj.Data == nil {
		return calendar.Event{}, false, nil
	}
	for _, comp := range obj.Data.Children {
		if comp.Name != ical.CompEvent || comp.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		ev, err := g.fromComponent(comp)
		if err != nil {
			return calendar.Event{}, false, fmt.Errorf("calendar object %s: %w", obj.Path, err)
		}
		return ev, true, nil
	}
	return calendar.Event{}, false, nil
}

func (g *Gateway) fromComponent(comp *ical.Component) (calendar.Event, error) {
	var ev calendar.Event
	ev.ID, _ = comp.Props.Text(ical.PropUID)
	ev.Title, _ = comp.Props.Text(ical.PropSummary)
	ev.Description, _ = comp.Props.Text(ical.PropDescription)
	ev.Location, _ = comp.Props.Text(ical.PropLocation)
	ev.SourceCallID, _ = comp.Props.Text(propToolCallID)

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return calendar.Event{}, fmt.Errorf("missing DTSTART")
	}
	ev.TimeZone = dtstart.Params.Get(ical.ParamTimezoneID)
	loc := g.location(ev.TimeZone)
	if ev.TimeZone == "" {
		ev.TimeZone = loc.String()
	}
	ev.AllDay = dtstart.ValueType() == ical.ValueDate

	start, err := dtstart.DateTime(loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("invalid DTSTART: %w", err)
	}
	// DateTimeEnd falls back to DURATION, or one day for date-only events.
	end, err := (&ical.Event{Component: comp}).DateTimeEnd(loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("invalid DTEND: %w", err)
	}
	ev.Start, ev.End = start.UTC(), end.UTC()

	for _, p := range comp.Props.Values(ical.PropAttendee) {
		addr := p.Value
		if len(addr) > 7 && strings.EqualFold(addr[:7], "mailto:") {
			addr = addr[7:]
		}
		if addr != "" {
			ev.Attendees = append(ev.Attendees, addr)
		}
	}

	if transp, _ := comp.Props.Text(ical.PropTransparency); strings.EqualFold(transp, "TRANSPARENT") {
		ev.Transparent = true
	}
	if conf, _ := comp.Props.Text(propConferencing); strings.EqualFold(conf, "TRUE") {
		ev.Conferencing = true
	}
	if p := comp.Props.Get(propConference); p != nil {
		ev.Conferencing = true
		ev.ConferenceLink = p.Value
	}

	for _, name := range []string{ical.PropRecurrenceRule, ical.PropExceptionDates} {
		for _, p := range comp.Props.Values(name) {
			params := make(map[string]string, len(p.Params))
			for k := range p.Params {
				params[k] = p.Params.Get(k)
			}
			ev.Recurrence = append(ev.Recurrence, calendar.RecurrenceLine{Name: name, Params: params, Value: p.Value}.String())
		}
	}

	return ev, nil
}

func (g *Gateway) location(zone string) *time.Location {
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			return loc
		}
	}
	return g.opts.DefaultZone
}
