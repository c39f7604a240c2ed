package dispatcher

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCreateArgs(t *testing.T) {
	args, err := decodeCreateArgs(map[string]any{
		"title":            " Team Sync ",
		"date":             "2024-06-10",
		"time":             "3:00 PM",
		"timezone":         "Europe/Berlin",
		"duration_minutes": float64(45),
		"attendees":        "bob@example.com, Alice , bob@example.com",
		"conferencing":     "true",
		"force":            true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Team Sync", args.Title)
	assert.Equal(t, "2024-06-10", args.Start.Date)
	assert.Equal(t, "3:00 PM", args.Start.Time)
	assert.Equal(t, "Europe/Berlin", args.Start.TimeZone)
	assert.Equal(t, 45*time.Minute, args.Hint.Duration)
	assert.Equal(t, []string{"Alice", "bob@example.com"}, args.Attendees)
	assert.True(t, args.Conferencing)
	assert.True(t, args.Force)
}

func TestDecodeCreateArgs_Errors(t *testing.T) {
	tests := []struct {
		name  string
		args  map[string]any
		field string
	}{
		{
			name:  "missing title",
			args:  map[string]any{"start": "2024-06-10T15:00:00Z"},
			field: "title",
		},
		{
			name:  "missing start",
			args:  map[string]any{"title": "x"},
			field: "start",
		},
		{
			name:  "unknown argument",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "colour": "red"},
			field: "colour",
		},
		{
			name:  "title is not a string",
			args:  map[string]any{"title": 42, "start": "2024-06-10T15:00:00Z"},
			field: "title",
		},
		{
			name:  "fractional minutes",
			args:  map[string]any{"title": "x", "in_minutes": 2.5},
			field: "in_minutes",
		},
		{
			name:  "negative duration",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "duration_minutes": -5},
			field: "duration_minutes",
		},
		{
			name:  "end and duration",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "end": "16:00", "duration_minutes": 30},
			field: "duration_minutes",
		},
		{
			name:  "attendee of wrong type",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "attendees": []any{"a@example.com", 3}},
			field: "attendees",
		},
		{
			name:  "bad recurrence rule",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "recurrence": "FREQ=SOMETIMES"},
			field: "recurrence",
		},
		{
			name:  "bad boolean",
			args:  map[string]any{"title": "x", "start": "2024-06-10T15:00:00Z", "force": "maybe"},
			field: "force",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCreateArgs(tt.args)
			require.Error(t, err)
			var argErr *ArgumentError
			require.True(t, errors.As(err, &argErr), "want *ArgumentError, got %T", err)
			assert.Equal(t, tt.field, argErr.Field)
		})
	}
}

func TestDecodeCreateArgs_End(t *testing.T) {
	tests := []struct {
		end      string
		wantTime string
		wantDT   string
	}{
		{end: "17:00", wantTime: "17:00"},
		{end: "5:30 PM", wantTime: "5:30 PM"},
		{end: "2024-06-10T17:00:00Z", wantDT: "2024-06-10T17:00:00Z"},
		{end: "2024/06/11", wantDT: "2024/06/11"},
	}
	for _, tt := range tests {
		t.Run(tt.end, func(t *testing.T) {
			args, err := decodeCreateArgs(map[string]any{
				"title":    "x",
				"start":    "2024-06-10T15:00:00Z",
				"end":      tt.end,
				"timezone": "UTC",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTime, args.Hint.End.Time)
			assert.Equal(t, tt.wantDT, args.Hint.End.DateTime)
			assert.Equal(t, "UTC", args.Hint.End.TimeZone)
		})
	}
}

func TestDecodeRecurrence(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		contains []string
		wantErr  bool
	}{
		{
			name:     "structured",
			value:    map[string]any{"frequency": "Weekly", "interval": float64(2), "count": float64(3)},
			contains: []string{"RRULE:FREQ=WEEKLY", "INTERVAL=2", "COUNT=3"},
		},
		{
			name:     "structured until date",
			value:    map[string]any{"frequency": "daily", "until": "2024-06-30"},
			contains: []string{"RRULE:FREQ=DAILY", "UNTIL=20240630T235959Z"},
		},
		{
			name:     "raw rule without prefix",
			value:    "FREQ=MONTHLY;COUNT=2",
			contains: []string{"RRULE:FREQ=MONTHLY;COUNT=2"},
		},
		{
			name:     "lines with exdate",
			value:    []any{"RRULE:FREQ=WEEKLY", "exdate;tzid=Europe/Berlin:20240617T150000"},
			contains: []string{"RRULE:FREQ=WEEKLY", "EXDATE;TZID=Europe/Berlin:20240617T150000"},
		},
		{
			name:    "unsupported frequency",
			value:   map[string]any{"frequency": "hourly"},
			wantErr: true,
		},
		{
			name:    "count and until",
			value:   map[string]any{"frequency": "daily", "count": 2, "until": "2024-06-30"},
			wantErr: true,
		},
		{
			name:    "unknown field",
			value:   map[string]any{"frequency": "daily", "byday": "MO"},
			wantErr: true,
		},
		{
			name:    "wrong type",
			value:   42,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := decodeRecurrence(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			joined := ""
			for _, l := range lines {
				joined += l + "\n"
			}
			for _, want := range tt.contains {
				assert.Contains(t, joined, want)
			}
		})
	}
}

func TestDecodeRecurrence_EmptyClears(t *testing.T) {
	lines, err := decodeRecurrence("")
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
}

func TestDecodeUpdateArgs(t *testing.T) {
	args, err := decodeUpdateArgs(map[string]any{
		"id":         "evt-1",
		"title":      "Renamed",
		"attendees":  []any{},
		"recurrence": "",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", args.ID)
	require.NotNil(t, args.Title)
	assert.Equal(t, "Renamed", *args.Title)
	require.NotNil(t, args.Attendees)
	assert.Empty(t, *args.Attendees)
	require.NotNil(t, args.Recurrence)
	assert.Empty(t, *args.Recurrence)
	assert.Nil(t, args.Location)
	assert.False(t, args.Temporal())

	args, err = decodeUpdateArgs(map[string]any{"id": "evt-1", "end": "18:00"})
	require.NoError(t, err)
	assert.True(t, args.Temporal())

	_, err = decodeUpdateArgs(map[string]any{"title": "x"})
	assert.Error(t, err)

	_, err = decodeUpdateArgs(map[string]any{"id": "evt-1", "title": ""})
	assert.Error(t, err)
}

func TestDecodeDeleteArgs(t *testing.T) {
	args, err := decodeDeleteArgs(map[string]any{"id": "evt-404", "call_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "evt-404", args.ID)

	_, err = decodeDeleteArgs(map[string]any{"id": "evt-1", "title": "x"})
	assert.Error(t, err)

	_, err = decodeDeleteArgs(map[string]any{})
	assert.Error(t, err)
}

func TestDecodeQueryArgs(t *testing.T) {
	args, err := decodeQueryArgs(map[string]any{
		"from":        "2024-06-10",
		"to":          "2024-06-12T18:00:00",
		"timezone":    "Europe/Berlin",
		"title":       "sync",
		"max_results": "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-10", args.From.Date)
	assert.Equal(t, "2024-06-12T18:00:00", args.To.DateTime)
	assert.Equal(t, "Europe/Berlin", args.From.TimeZone)
	assert.Equal(t, "sync", args.Title)
	assert.Equal(t, 5, args.MaxResults)

	_, err = decodeQueryArgs(map[string]any{"max_results": 0})
	assert.Error(t, err)
}
