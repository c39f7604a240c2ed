package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teemow/calmcp/internal/instrumentation"
	"github.com/teemow/calmcp/internal/logging"
)

// Session defaults.
const (
	DefaultSessionTimeout  = 2 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute

	// StdioSessionID names the single session of the stdio transport.
	StdioSessionID = "stdio"
)

// session serializes the calls of one agent session.
type session struct {
	mu         sync.Mutex
	account    string
	lastAccess time.Time
	inflight   int
}

// SessionRegistry tracks agent sessions. Calls within a session run one at a
// time; different sessions run concurrently. Idle sessions are expired on a
// schedule.
type SessionRegistry struct {
	sessions map[string]*session
	mu       sync.Mutex
	timeout  time.Duration
	cron     *cron.Cron
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionRegistry creates a registry that expires sessions idle for longer
// than timeout, checking every interval. Call Start to begin expiring.
func NewSessionRegistry(timeout, interval time.Duration, metrics *instrumentation.Metrics, logger *slog.Logger) (*SessionRegistry, error) {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cronLogger := logging.NewCronLogger(logger)
	m := &SessionRegistry{
		sessions: make(map[string]*session),
		timeout:  timeout,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { m.Sweep() }); err != nil {
		return nil, fmt.Errorf("failed to schedule session cleanup: %w", err)
	}
	return m, nil
}

// Start begins expiring idle sessions in the background.
func (m *SessionRegistry) Start() {
	m.cron.Start()
}

// Stop halts the cleanup schedule.
func (m *SessionRegistry) Stop() {
	<-m.cron.Stop().Done()
}

// Acquire blocks until the session is free and returns the function that
// releases it. Unknown sessions are created. An empty id is the stdio session.
func (m *SessionRegistry) Acquire(ctx context.Context, id string) (release func(), err error) {
	if id == "" {
		id = StdioSessionID
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{account: "default"}
		m.sessions[id] = s
		m.metrics.IncrementActiveSessions(ctx)
	}
	s.inflight++
	s.lastAccess = m.now()
	m.mu.Unlock()

	locked := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(locked)
	}()

	select {
	case <-locked:
	case <-ctx.Done():
		// Hand the lock back once the waiter gets it.
		go func() {
			<-locked
			s.mu.Unlock()
			m.done(s)
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Unlock()
			m.done(s)
		})
	}, nil
}

func (m *SessionRegistry) done(s *session) {
	m.mu.Lock()
	s.inflight--
	s.lastAccess = m.now()
	m.mu.Unlock()
}

// AccountForSession returns the account bound to a session, or "default".
func (m *SessionRegistry) AccountForSession(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.lastAccess = m.now()
		return s.account
	}
	return "default"
}

// SetAccountForSession binds an account to a session, creating it if needed.
func (m *SessionRegistry) SetAccountForSession(ctx context.Context, id, account string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = &session{}
		m.sessions[id] = s
		m.metrics.IncrementActiveSessions(ctx)
	}
	s.account = account
	s.lastAccess = m.now()
}

// RemoveSession forgets a session. Calls already holding it finish normally.
func (m *SessionRegistry) RemoveSession(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		m.metrics.DecrementActiveSessions(ctx)
	}
}

// ListSessions returns the known session IDs, sorted.
func (m *SessionRegistry) ListSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known sessions.
func (m *SessionRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle for longer than the timeout and returns how
// many were removed. Sessions with calls in flight are never removed.
func (m *SessionRegistry) Sweep() int {
	ctx := context.Background()
	m.mu.Lock()
	now := m.now()
	expired := 0
	for id, s := range m.sessions {
		if s.inflight == 0 && now.Sub(s.lastAccess) > m.timeout {
			delete(m.sessions, id)
			m.metrics.DecrementActiveSessions(ctx)
			expired++
		}
	}
	m.mu.Unlock()

	if expired > 0 {
		m.logger.Info("cleaned up expired sessions", "count", expired)
	}
	return expired
}

// ErrNoSessionIdentity is returned when a request carries neither an MCP
// session header nor an Authorization header.
var ErrNoSessionIdentity = errors.New("no session identity in request")

// ResolveSessionID derives a stable session ID from an HTTP request: the MCP
// session header when present, otherwise a hash of the bearer credential.
func ResolveSessionID(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get("Mcp-Session-Id")); id != "" {
		return id, nil
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrNoSessionIdentity
	}
	hash := sha256.Sum256([]byte(auth))
	return hex.EncodeToString(hash[:]), nil
}
