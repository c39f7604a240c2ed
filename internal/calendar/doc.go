// Package calendar defines the event model shared by the dispatcher and the
// calendar backends, and the Gateway contract those backends implement.
//
// Backends live in sub-packages:
//   - gcal: Google Calendar API v3
//   - caldav: any CalDAV server (iCloud, Fastmail, Nextcloud)
//   - memory: an in-process calendar used by tests and demos
//
// Every Gateway call receives the caller's Credential through its context:
//
//	ctx = calendar.WithCredential(ctx, calendar.Credential{Account: "work"})
//	events, err := gw.FetchWindow(ctx, calendar.TimeRange{Start: from, End: to})
package calendar
