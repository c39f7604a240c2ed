package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tr(start, end string) TimeRange {
	s, _ := time.Parse(time.RFC3339, start)
	e, _ := time.Parse(time.RFC3339, end)
	return TimeRange{Start: s, End: e}
}

func TestTimeRange_Overlaps(t *testing.T) {
	base := tr("2024-06-10T15:00:00Z", "2024-06-10T16:00:00Z")

	tests := []struct {
		name  string
		other TimeRange
		want  bool
	}{
		{"identical", base, true},
		{"overlap end", tr("2024-06-10T15:30:00Z", "2024-06-10T16:30:00Z"), true},
		{"overlap start", tr("2024-06-10T14:30:00Z", "2024-06-10T15:30:00Z"), true},
		{"contained", tr("2024-06-10T15:10:00Z", "2024-06-10T15:20:00Z"), true},
		{"containing", tr("2024-06-10T14:00:00Z", "2024-06-10T17:00:00Z"), true},
		{"adjacent after", tr("2024-06-10T16:00:00Z", "2024-06-10T17:00:00Z"), false},
		{"adjacent before", tr("2024-06-10T14:00:00Z", "2024-06-10T15:00:00Z"), false},
		{"disjoint", tr("2024-06-11T15:00:00Z", "2024-06-11T16:00:00Z"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestTimeRange_Helpers(t *testing.T) {
	r := tr("2024-06-10T15:00:00Z", "2024-06-10T16:00:00Z")

	assert.True(t, r.Valid())
	assert.False(t, TimeRange{Start: r.End, End: r.Start}.Valid())
	assert.False(t, TimeRange{Start: r.Start, End: r.Start}.Valid())
	assert.Equal(t, time.Hour, r.Duration())

	shifted := r.Shift(30 * time.Minute)
	assert.Equal(t, tr("2024-06-10T15:30:00Z", "2024-06-10T16:30:00Z"), shifted)

	padded := r.Pad(10 * time.Minute)
	assert.Equal(t, tr("2024-06-10T14:50:00Z", "2024-06-10T16:10:00Z"), padded)
	assert.Equal(t, r, r.Pad(0))
}

func TestEventPatch(t *testing.T) {
	ev := Event{
		ID:        "evt-1",
		Title:     "Team Sync",
		Start:     time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 10, 16, 0, 0, 0, time.UTC),
		Attendees: []string{"a@example.com"},
	}

	t.Run("empty", func(t *testing.T) {
		var p EventPatch
		assert.True(t, p.Empty())
		assert.False(t, p.Temporal())
		assert.Equal(t, ev, p.Apply(ev))
	})

	t.Run("non temporal", func(t *testing.T) {
		title := "Renamed"
		p := EventPatch{Title: &title}
		assert.False(t, p.Empty())
		assert.False(t, p.Temporal())

		got := p.Apply(ev)
		assert.Equal(t, "Renamed", got.Title)
		assert.Equal(t, "Team Sync", ev.Title, "template must not be mutated")
		assert.Equal(t, "evt-1", got.ID)
	})

	t.Run("temporal", func(t *testing.T) {
		berlin, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)
		start := time.Date(2024, 6, 10, 19, 0, 0, 0, berlin)
		p := EventPatch{Start: &start}
		assert.True(t, p.Temporal())

		got := p.Apply(ev)
		assert.Equal(t, time.UTC, got.Start.Location())
		assert.True(t, got.Start.Equal(start))
	})

	t.Run("attendees copied", func(t *testing.T) {
		list := []string{"b@example.com"}
		got := EventPatch{Attendees: &list}.Apply(ev)
		list[0] = "changed"
		assert.Equal(t, []string{"b@example.com"}, got.Attendees)
	})

	t.Run("recurrence is temporal", func(t *testing.T) {
		var none []string
		assert.True(t, EventPatch{Recurrence: &none}.Temporal())
	})
}

func TestRecurrence_RRule(t *testing.T) {
	tests := []struct {
		name     string
		rec      Recurrence
		contains []string
		wantErr  bool
	}{
		{
			name:     "weekly count",
			rec:      Recurrence{Frequency: Weekly, Count: 4},
			contains: []string{"FREQ=WEEKLY", "COUNT=4"},
		},
		{
			name:     "daily interval until",
			rec:      Recurrence{Frequency: Daily, Interval: 2, Until: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
			contains: []string{"FREQ=DAILY", "INTERVAL=2", "UNTIL=20240701T000000Z"},
		},
		{
			name:     "monthly unbounded",
			rec:      Recurrence{Frequency: Monthly},
			contains: []string{"FREQ=MONTHLY"},
		},
		{name: "bad frequency", rec: Recurrence{Frequency: "hourly"}, wantErr: true},
		{name: "negative interval", rec: Recurrence{Frequency: Daily, Interval: -1}, wantErr: true},
		{name: "count and until", rec: Recurrence{Frequency: Daily, Count: 2, Until: time.Now()}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rec.RRule()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, "RRULE:"), got)
			for _, c := range tt.contains {
				assert.Contains(t, got, c)
			}
		})
	}
}

func TestParseRRule(t *testing.T) {
	got, err := ParseRRule("FREQ=WEEKLY;COUNT=3")
	require.NoError(t, err)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;COUNT=3", got)

	got, err = ParseRRule(" RRULE:FREQ=DAILY ")
	require.NoError(t, err)
	assert.Equal(t, "RRULE:FREQ=DAILY", got)

	_, err = ParseRRule("")
	assert.Error(t, err)
	_, err = ParseRRule("FREQ=SOMETIMES")
	assert.Error(t, err)
}

func TestNewBackendError(t *testing.T) {
	assert.NoError(t, NewBackendError("google", "get", nil))

	nf := fmt.Errorf("lookup: %w", ErrNotFound)
	assert.Same(t, nf, NewBackendError("google", "get", nf))

	err := NewBackendError("google", "create", errors.New("quota exceeded"))
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "google create failed: quota exceeded", be.Error())

	again := NewBackendError("caldav", "update", err)
	assert.Same(t, err, again, "already classified errors are not wrapped twice")

	assert.Equal(t, "get failed: x", (&BackendError{Op: "get", Err: errors.New("x")}).Error())
}

func TestCredentialFromContext(t *testing.T) {
	assert.Equal(t, "default", CredentialFromContext(context.Background()).Account)

	ctx := WithCredential(context.Background(), Credential{Account: "work"})
	assert.Equal(t, "work", CredentialFromContext(ctx).Account)

	ctx = WithCredential(context.Background(), Credential{})
	assert.Equal(t, "default", CredentialFromContext(ctx).Account)
}

func TestParticipants(t *testing.T) {
	emails, names := SplitAttendees([]string{"a@example.com", " Bob ", "", "carol@example.com", "Dan"})
	assert.Equal(t, []string{"a@example.com", "carol@example.com"}, emails)
	assert.Equal(t, []string{"Bob", "Dan"}, names)

	assert.Equal(t, "Participants: Bob", WithParticipants("", []string{"Bob"}))
	assert.Equal(t, "Agenda\n\nParticipants: Bob, Dan", WithParticipants("Agenda", []string{"Bob", "Dan"}))
	assert.Equal(t, "Agenda\n\nParticipants: Eve", WithParticipants("Agenda\n\nParticipants: Bob", []string{"Eve"}))
	assert.Equal(t, "Agenda", WithParticipants("Agenda\n\nParticipants: Bob", nil))

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"Agenda", "Agenda"},
		{"Participants: Bob", ""},
		{"Agenda\n\nParticipants: Bob, Carol", "Agenda"},
		{"Participants: Bob\nmore text", "Participants: Bob\nmore text"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripParticipants(tt.in), "input %q", tt.in)
	}
}
