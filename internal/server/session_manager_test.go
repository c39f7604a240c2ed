package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, timeout time.Duration) *SessionRegistry {
	t.Helper()
	m, err := NewSessionRegistry(timeout, time.Hour, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func TestSessionRegistry_Accounts(t *testing.T) {
	m := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	assert.Equal(t, "default", m.AccountForSession("unknown"))

	m.SetAccountForSession(ctx, "s1", "work")
	assert.Equal(t, "work", m.AccountForSession("s1"))
	assert.Equal(t, []string{"s1"}, m.ListSessions())

	m.RemoveSession(ctx, "s1")
	assert.Equal(t, "default", m.AccountForSession("s1"))
	assert.Zero(t, m.Len())
}

func TestSessionRegistry_AcquireSerializes(t *testing.T) {
	m := newTestRegistry(t, time.Hour)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "s1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(ctx, "s1")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second call acquired a busy session")
	case <-time.After(50 * time.Millisecond):
	}

	// A different session is not blocked.
	other, err := m.Acquire(ctx, "s2")
	require.NoError(t, err)
	other()

	release()
	release() // idempotent

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiting call never acquired the session")
	}
}

func TestSessionRegistry_AcquireHonoursContext(t *testing.T) {
	m := newTestRegistry(t, time.Hour)

	release, err := m.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	// The abandoned waiter must not leave the session locked.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	r, err := m.Acquire(ctx2, "s1")
	require.NoError(t, err)
	r()
}

func TestSessionRegistry_EmptyIDIsStdio(t *testing.T) {
	m := newTestRegistry(t, time.Hour)

	release, err := m.Acquire(context.Background(), "")
	require.NoError(t, err)
	release()

	assert.Equal(t, []string{StdioSessionID}, m.ListSessions())
}

func TestSessionRegistry_Sweep(t *testing.T) {
	m := newTestRegistry(t, time.Minute)
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.SetAccountForSession(ctx, "idle", "a")
	busyRelease, err := m.Acquire(ctx, "busy")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	m.SetAccountForSession(ctx, "fresh", "b")

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, []string{"busy", "fresh"}, m.ListSessions())

	busyRelease()
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, m.Sweep())
	assert.Zero(t, m.Len())
}

func TestResolveSessionID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantErr bool
	}{
		{name: "mcp session header", headers: map[string]string{"Mcp-Session-Id": "abc"}, want: "abc"},
		{name: "bearer hash", headers: map[string]string{"Authorization": "Bearer token"}},
		{name: "no identity", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/mcp", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := ResolveSessionID(r)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoSessionIdentity)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				// Opaque hash of the credential.
				assert.Len(t, got, 64)
				assert.NotContains(t, got, "token")
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
