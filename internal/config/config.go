// Package config loads calmcp's scheduling policy and backend settings.
//
// Settings come from a YAML file, then CALMCP_* environment variables, then
// command line flags applied by the caller. Normalize fills every unset value
// with its default, so a missing file yields a working configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/teemow/calmcp/internal/conflict"
	"github.com/teemow/calmcp/internal/dispatcher"
	"github.com/teemow/calmcp/internal/idempotency"
	"github.com/teemow/calmcp/internal/temporal"
)

// EnvPrefix prefixes every environment override, e.g. CALMCP_TIMEZONE or
// CALMCP_CONFLICT_BUFFER. Multi-word fields use underscores
// (CALMCP_SCHEDULING_ALLOW_PAST).
const EnvPrefix = "CALMCP"

// Backends.
const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"
	BackendMemory = "memory"
)

// Idempotency stores.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the top-level configuration.
type Config struct {
	// Backend selects the calendar gateway: google, caldav or memory.
	Backend string `yaml:"backend"`

	// Timezone is the IANA zone used when a request names none.
	Timezone string `yaml:"timezone"`

	Google      GoogleConfig      `yaml:"google"`
	CalDAV      CalDAVConfig      `yaml:"caldav"`
	Scheduling  SchedulingConfig  `yaml:"scheduling"`
	Conflict    ConflictConfig    `yaml:"conflict"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Sessions    SessionConfig     `yaml:"sessions"`
}

// GoogleConfig configures the Google Calendar backend.
type GoogleConfig struct {
	CalendarID      string `yaml:"calendar_id" split_words:"true"`
	SendUpdates     string `yaml:"send_updates" split_words:"true"`
	ReminderMinutes int    `yaml:"reminder_minutes" split_words:"true"`
}

// CalDAVConfig configures the CalDAV backend.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Calendar string `yaml:"calendar"`
	Path     string `yaml:"path"`
}

// SchedulingConfig holds the normalization and dispatch policy.
type SchedulingConfig struct {
	DefaultDuration time.Duration `yaml:"default_duration" split_words:"true"`
	MinDuration     time.Duration `yaml:"min_duration" split_words:"true"`
	MaxDuration     time.Duration `yaml:"max_duration" split_words:"true"`

	// AllowPast permits creating and moving events into the past.
	AllowPast bool `yaml:"allow_past" split_words:"true"`

	GatewayTimeout time.Duration `yaml:"gateway_timeout" split_words:"true"`
	QueryWindow    time.Duration `yaml:"query_window" split_words:"true"`
	MaxResults     int           `yaml:"max_results" split_words:"true"`
}

// ConflictConfig holds the conflict detection policy.
type ConflictConfig struct {
	Lookback        time.Duration `yaml:"lookback"`
	Lookahead       time.Duration `yaml:"lookahead"`
	Horizon         time.Duration `yaml:"horizon"`
	CandidateWindow time.Duration `yaml:"candidate_window" split_words:"true"`
	MaxOccurrences  int           `yaml:"max_occurrences" split_words:"true"`

	// Alternatives is the number of suggested slots; negative disables them.
	Alternatives       int           `yaml:"alternatives"`
	AlternativeHorizon time.Duration `yaml:"alternative_horizon" split_words:"true"`

	Buffer           time.Duration       `yaml:"buffer"`
	AllDay           string              `yaml:"all_day" split_words:"true"`
	AttendeeFreeBusy bool                `yaml:"attendee_freebusy" split_words:"true"`
	BusinessHours    BusinessHoursConfig `yaml:"business_hours" split_words:"true"`
}

// BusinessHoursConfig restricts suggested alternatives to working time.
type BusinessHoursConfig struct {
	Enabled bool     `yaml:"enabled"`
	Start   int      `yaml:"start"`
	End     int      `yaml:"end"`
	Days    []string `yaml:"days"`
}

// IdempotencyConfig configures the replay cache.
type IdempotencyConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Store         string        `yaml:"store"`
	Path          string        `yaml:"path"`
	SweepInterval time.Duration `yaml:"sweep_interval" split_words:"true"`
}

// SessionConfig controls how long idle MCP sessions are kept.
type SessionConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" split_words:"true"`
}

// Defaults used by Normalize.
const (
	DefaultTimezone        = "UTC"
	DefaultIdleTimeout     = 2 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
	DefaultReminderMinutes = 15
	DefaultStartHour       = 9
	DefaultEndHour         = 18
)

// DefaultWorkingDays are used when business hours are enabled without days.
var DefaultWorkingDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}

// Default returns a normalized default configuration.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// DefaultPath returns $XDG_CONFIG_HOME/calmcp/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "calmcp", "config.yaml")
}

// Normalize fills unset values with defaults.
func (c *Config) Normalize() {
	if c.Backend == "" {
		c.Backend = BackendGoogle
	}
	c.Backend = strings.ToLower(c.Backend)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}

	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Google.SendUpdates == "" {
		c.Google.SendUpdates = "none"
	}
	if c.Google.ReminderMinutes == 0 {
		c.Google.ReminderMinutes = DefaultReminderMinutes
	}

	s := &c.Scheduling
	if s.DefaultDuration <= 0 {
		s.DefaultDuration = temporal.DefaultDuration
	}
	if s.MinDuration <= 0 {
		s.MinDuration = temporal.DefaultMinDuration
	}
	if s.MaxDuration <= 0 {
		s.MaxDuration = temporal.DefaultMaxDuration
	}
	if s.GatewayTimeout <= 0 {
		s.GatewayTimeout = dispatcher.DefaultTimeout
	}
	if s.QueryWindow <= 0 {
		s.QueryWindow = dispatcher.DefaultQueryWindow
	}
	if s.MaxResults <= 0 {
		s.MaxResults = dispatcher.DefaultMaxResults
	}

	cc := &c.Conflict
	if cc.Lookback <= 0 {
		cc.Lookback = conflict.DefaultLookback
	}
	if cc.Lookahead <= 0 {
		cc.Lookahead = conflict.DefaultLookahead
	}
	if cc.Horizon <= 0 {
		cc.Horizon = conflict.DefaultHorizon
	}
	if cc.CandidateWindow <= 0 {
		cc.CandidateWindow = conflict.DefaultCandidateWindow
	}
	if cc.MaxOccurrences <= 0 {
		cc.MaxOccurrences = conflict.DefaultMaxOccurrences
	}
	if cc.Alternatives == 0 {
		cc.Alternatives = conflict.DefaultAlternatives
	}
	if cc.AlternativeHorizon <= 0 {
		cc.AlternativeHorizon = conflict.DefaultAlternativeHorizon
	}
	if cc.AllDay == "" {
		cc.AllDay = string(conflict.AllDayBlock)
	}
	bh := &cc.BusinessHours
	if bh.Start == 0 && bh.End == 0 {
		bh.Start, bh.End = DefaultStartHour, DefaultEndHour
	}
	if len(bh.Days) == 0 {
		bh.Days = append([]string(nil), DefaultWorkingDays...)
	}

	ic := &c.Idempotency
	if ic.TTL <= 0 {
		ic.TTL = idempotency.DefaultTTL
	}
	if ic.Store == "" {
		ic.Store = StoreMemory
	}
	if ic.SweepInterval <= 0 {
		ic.SweepInterval = idempotency.DefaultSweepInterval
	}
	if ic.Store == StoreSQLite && ic.Path == "" {
		ic.Path = filepath.Join(filepath.Dir(DefaultPath()), "idempotency.db")
	}

	if c.Sessions.IdleTimeout <= 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.CleanupInterval <= 0 {
		c.Sessions.CleanupInterval = DefaultCleanupInterval
	}
}

// Validate checks a normalized configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendMemory:
	case BackendCalDAV:
		if c.CalDAV.Endpoint == "" {
			return fmt.Errorf("caldav backend requires an endpoint")
		}
		if c.CalDAV.Calendar == "" && c.CalDAV.Path == "" {
			return fmt.Errorf("caldav backend requires a calendar name or path")
		}
	default:
		return fmt.Errorf("unknown backend %q (want google, caldav or memory)", c.Backend)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	switch c.Google.SendUpdates {
	case "all", "externalOnly", "none":
	default:
		return fmt.Errorf("invalid google.send_updates %q (want all, externalOnly or none)", c.Google.SendUpdates)
	}

	s := c.Scheduling
	if s.MinDuration > s.MaxDuration {
		return fmt.Errorf("scheduling.min_duration %s exceeds max_duration %s", s.MinDuration, s.MaxDuration)
	}
	if s.DefaultDuration < s.MinDuration || s.DefaultDuration > s.MaxDuration {
		return fmt.Errorf("scheduling.default_duration %s is outside [%s, %s]", s.DefaultDuration, s.MinDuration, s.MaxDuration)
	}
	if s.QueryWindow > dispatcher.MaxQueryWindow {
		return fmt.Errorf("scheduling.query_window %s exceeds %s", s.QueryWindow, dispatcher.MaxQueryWindow)
	}

	if _, err := conflict.ParseAllDayPolicy(c.Conflict.AllDay); err != nil {
		return err
	}
	bh := c.Conflict.BusinessHours
	if bh.Start < 0 || bh.End > 24 || bh.Start >= bh.End {
		return fmt.Errorf("invalid business hours %d-%d", bh.Start, bh.End)
	}
	if _, err := parseWeekdays(bh.Days); err != nil {
		return err
	}

	switch c.Idempotency.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown idempotency store %q (want memory or sqlite)", c.Idempotency.Store)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides, then
// normalizes and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	// GOOGLE_CALENDAR_ID is honoured for compatibility with existing setups.
	if id := os.Getenv("GOOGLE_CALENDAR_ID"); id != "" && os.Getenv(EnvPrefix+"_GOOGLE_CALENDAR_ID") == "" {
		c.Google.CalendarID = id
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c as YAML with owner-only permissions.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Location returns the configured default zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Normalizer builds the temporal normalizer for loc.
func (c *Config) Normalizer(loc *time.Location) *temporal.Normalizer {
	return &temporal.Normalizer{
		DefaultZone:     loc,
		DefaultDuration: c.Scheduling.DefaultDuration,
		MinDuration:     c.Scheduling.MinDuration,
		MaxDuration:     c.Scheduling.MaxDuration,
	}
}

// Detector builds the conflict detector for loc.
func (c *Config) Detector(loc *time.Location) (*conflict.Detector, error) {
	policy, err := conflict.ParseAllDayPolicy(c.Conflict.AllDay)
	if err != nil {
		return nil, err
	}
	days, err := parseWeekdays(c.Conflict.BusinessHours.Days)
	if err != nil {
		return nil, err
	}

	cc := c.Conflict
	d := conflict.New(loc)
	d.Lookback = cc.Lookback
	d.Lookahead = cc.Lookahead
	d.Horizon = cc.Horizon
	d.CandidateWindow = cc.CandidateWindow
	d.MaxOccurrences = cc.MaxOccurrences
	d.Alternatives = max(cc.Alternatives, 0)
	d.AlternativeHorizon = cc.AlternativeHorizon
	d.Buffer = cc.Buffer
	d.AllDay = policy
	d.BusinessHours = conflict.BusinessHours{
		Enabled:   cc.BusinessHours.Enabled,
		StartHour: cc.BusinessHours.Start,
		EndHour:   cc.BusinessHours.End,
		Days:      days,
	}
	return d, nil
}

// Dispatcher returns the dispatcher policy.
func (c *Config) Dispatcher() dispatcher.Config {
	return dispatcher.Config{
		Timeout:          c.Scheduling.GatewayTimeout,
		RejectPast:       !c.Scheduling.AllowPast,
		AttendeeFreeBusy: c.Conflict.AttendeeFreeBusy,
		Backend:          c.Backend,
		QueryWindow:      c.Scheduling.QueryWindow,
		MaxResults:       c.Scheduling.MaxResults,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q in business hours", n)
		}
		out = append(out, wd)
	}
	return out, nil
}
