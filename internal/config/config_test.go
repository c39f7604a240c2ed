package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calmcp/internal/conflict"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/idempotency"
	"github.com/teemow/calmcp/internal/temporal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, BackendGoogle, c.Backend)
	assert.Equal(t, "UTC", c.Timezone)
	assert.Equal(t, "primary", c.Google.CalendarID)
	assert.Equal(t, "none", c.Google.SendUpdates)
	assert.Equal(t, temporal.DefaultDuration, c.Scheduling.DefaultDuration)
	assert.Equal(t, dispatcher.DefaultTimeout, c.Scheduling.GatewayTimeout)
	assert.False(t, c.Scheduling.AllowPast)
	assert.Equal(t, conflict.DefaultAlternatives, c.Conflict.Alternatives)
	assert.Equal(t, "block", c.Conflict.AllDay)
	assert.Equal(t, idempotency.DefaultTTL, c.Idempotency.TTL)
	assert.Equal(t, StoreMemory, c.Idempotency.Store)
	assert.Equal(t, DefaultWorkingDays, c.Conflict.BusinessHours.Days)
	assert.NoError(t, c.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
backend: memory
timezone: Europe/Berlin
scheduling:
  default_duration: 30m
  allow_past: true
  query_window: 168h
conflict:
  buffer: 10m
  all_day: ignore
  alternatives: -1
  business_hours:
    enabled: true
    start: 8
    end: 17
    days: [mon, tue]
idempotency:
  ttl: 1h
  store: sqlite
  path: /tmp/calmcp.db
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, "Europe/Berlin", c.Timezone)
	assert.Equal(t, 30*time.Minute, c.Scheduling.DefaultDuration)
	assert.Equal(t, temporal.DefaultMinDuration, c.Scheduling.MinDuration)
	assert.True(t, c.Scheduling.AllowPast)
	assert.Equal(t, 7*24*time.Hour, c.Scheduling.QueryWindow)
	assert.Equal(t, 10*time.Minute, c.Conflict.Buffer)
	assert.Equal(t, "ignore", c.Conflict.AllDay)
	assert.Equal(t, -1, c.Conflict.Alternatives)
	assert.Equal(t, time.Hour, c.Idempotency.TTL)
	assert.Equal(t, "/tmp/calmcp.db", c.Idempotency.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "backend: memory\ntimezone: Europe/Berlin\n")
	t.Setenv("CALMCP_TIMEZONE", "America/New_York")
	t.Setenv("CALMCP_SCHEDULING_ALLOW_PAST", "true")
	t.Setenv("CALMCP_CONFLICT_BUFFER", "5m")
	t.Setenv("CALMCP_GOOGLE_CALENDAR_ID", "team@example.com")
	t.Setenv("CALMCP_CONFLICT_BUSINESS_HOURS_DAYS", "sat,sun")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, c.Backend)
	assert.Equal(t, "America/New_York", c.Timezone)
	assert.True(t, c.Scheduling.AllowPast)
	assert.Equal(t, 5*time.Minute, c.Conflict.Buffer)
	assert.Equal(t, "team@example.com", c.Google.CalendarID)
	assert.Equal(t, []string{"sat", "sun"}, c.Conflict.BusinessHours.Days)
}

func TestLoad_LegacyCalendarID(t *testing.T) {
	t.Setenv("GOOGLE_CALENDAR_ID", "legacy@example.com")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy@example.com", c.Google.CalendarID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed yaml", body: "backend: [", want: "failed to parse"},
		{name: "unknown backend", body: "backend: outlook", want: "unknown backend"},
		{name: "bad timezone", body: "timezone: Mars/Olympus", want: "invalid timezone"},
		{name: "caldav without endpoint", body: "backend: caldav", want: "requires an endpoint"},
		{name: "caldav without calendar", body: "backend: caldav\ncaldav:\n  endpoint: https://dav.example.com", want: "calendar name or path"},
		{name: "bad send_updates", body: "google:\n  send_updates: sometimes", want: "send_updates"},
		{name: "min above max", body: "scheduling:\n  min_duration: 9h", want: "exceeds max_duration"},
		{name: "default outside bounds", body: "scheduling:\n  default_duration: 5m", want: "outside"},
		{name: "query window too wide", body: "scheduling:\n  query_window: 10000h", want: "query_window"},
		{name: "bad all-day policy", body: "conflict:\n  all_day: maybe", want: "all-day policy"},
		{name: "bad business hours", body: "conflict:\n  business_hours:\n    start: 18\n    end: 9", want: "business hours"},
		{name: "bad weekday", body: "conflict:\n  business_hours:\n    days: [funday]", want: "unknown weekday"},
		{name: "bad store", body: "idempotency:\n  store: redis", want: "idempotency store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := Default()
	c.Backend = BackendCalDAV
	c.CalDAV.Endpoint = "https://dav.example.com"
	c.CalDAV.Calendar = "Work"

	require.NoError(t, Save(path, c))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestBuilders(t *testing.T) {
	c := Default()
	c.Timezone = "Europe/Berlin"
	c.Scheduling.AllowPast = true
	c.Conflict.Alternatives = -1
	c.Conflict.AttendeeFreeBusy = true
	c.Conflict.BusinessHours.Enabled = true
	c.Conflict.BusinessHours.Days = []string{"Monday", "fri"}
	c.Conflict.AllDay = "ignore"

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	n := c.Normalizer(loc)
	assert.Equal(t, loc, n.DefaultZone)
	assert.Equal(t, temporal.DefaultMaxDuration, n.MaxDuration)

	d, err := c.Detector(loc)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Alternatives)
	assert.Equal(t, conflict.AllDayIgnore, d.AllDay)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, d.BusinessHours.Days)
	assert.Equal(t, DefaultStartHour, d.BusinessHours.StartHour)
	assert.Equal(t, loc, d.Zone)

	dc := c.Dispatcher()
	assert.False(t, dc.RejectPast)
	assert.True(t, dc.AttendeeFreeBusy)
	assert.Equal(t, BackendGoogle, dc.Backend)
	assert.Equal(t, dispatcher.DefaultMaxResults, dc.MaxResults)
}
