// Package memory provides an in-process calendar.Gateway.
//
// It backs the --backend=memory demo mode and the tests of every package that
// talks to a gateway. Recurring events are kept as unexpanded templates, the
// way CalDAV servers return them.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/calmcp/internal/calendar"
)

// BackendName identifies this gateway in errors and metrics.
const BackendName = "memory"

// Gateway is a thread-safe in-memory calendar. Events are partitioned by the
// account of the caller's credential.
type Gateway struct {
	mu       sync.Mutex
	accounts map[string]map[string]calendar.Event

	// NewID assigns identifiers to created events.
	NewID func() string

	// Delay is slept (honouring ctx) before every operation.
	Delay time.Duration

	calls map[string]int
	fail  map[string]error
	busy  map[string][]calendar.TimeRange
}

// New creates an empty gateway.
func New() *Gateway {
	return &Gateway{
		accounts: make(map[string]map[string]calendar.Event),
		NewID:    func() string { return "evt-" + uuid.NewString()[:8] },
		calls:    make(map[string]int),
		fail:     make(map[string]error),
		busy:     make(map[string][]calendar.TimeRange),
	}
}

// Seed stores events as-is for the default account.
func (g *Gateway) Seed(events ...calendar.Event) {
	g.SeedAccount("default", events...)
}

// SeedAccount stores events as-is for account.
func (g *Gateway) SeedAccount(account string, events ...calendar.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	store := g.store(account)
	for _, e := range events {
		if e.ID == "" {
			e.ID = g.NewID()
		}
		store[e.ID] = e
	}
}

// FailOn makes every subsequent call of op ("fetch_window", "get", "create",
// "update", "delete", "freebusy") return err. A nil err clears it.
func (g *Gateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.fail, op)
		return
	}
	g.fail[op] = err
}

// SetBusy records busy blocks returned by FreeBusy for an attendee.
func (g *Gateway) SetBusy(attendee string, busy ...calendar.TimeRange) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.busy[attendee] = busy
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Events returns the stored events of the default account sorted by start.
func (g *Gateway) Events() []calendar.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]calendar.Event, 0, len(g.accounts["default"]))
	for _, e := range g.accounts["default"] {
		out = append(out, e)
	}
	sortByStart(out)
	return out
}

func (g *Gateway) store(account string) map[string]calendar.Event {
	s, ok := g.accounts[account]
	if !ok {
		s = make(map[string]calendar.Event)
		g.accounts[account] = s
	}
	return s
}

// begin records the call, waits for Delay and returns the account's store
// with the lock held. The caller must call g.mu.Unlock.
func (g *Gateway) begin(ctx context.Context, op string) (map[string]calendar.Event, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			g.mu.Lock()
			g.calls[op]++
			g.mu.Unlock()
			return nil, calendar.NewBackendError(BackendName, op, ctx.Err())
		}
	}

	g.mu.Lock()
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		g.mu.Unlock()
		return nil, calendar.NewBackendError(BackendName, op, err)
	}
	if err := g.fail[op]; err != nil {
		g.mu.Unlock()
		return nil, calendar.NewBackendError(BackendName, op, err)
	}
	return g.store(calendar.CredentialFromContext(ctx).Account), nil
}

// FetchWindow returns events intersecting r. Recurring templates starting
// before r.End are returned unexpanded.
func (g *Gateway) FetchWindow(ctx context.Context, r calendar.TimeRange) ([]calendar.Event, error) {
	store, err := g.begin(ctx, "fetch_window")
	if err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	var out []calendar.Event
	for _, e := range store {
		if e.IsRecurring() {
			if e.Start.Before(r.End) {
				out = append(out, e)
			}
			continue
		}
		if e.Range().Overlaps(r) {
			out = append(out, e)
		}
	}
	sortByStart(out)
	return out, nil
}

// Get returns an event by ID.
func (g *Gateway) Get(ctx context.Context, id string) (calendar.Event, error) {
	store, err := g.begin(ctx, "get")
	if err != nil {
		return calendar.Event{}, err
	}
	defer g.mu.Unlock()

	e, ok := store[id]
	if !ok {
		return calendar.Event{}, fmt.Errorf("event %s: %w", id, calendar.ErrNotFound)
	}
	return e, nil
}

// Create stores e under a new identifier.
func (g *Gateway) Create(ctx context.Context, e calendar.Event) (calendar.Event, error) {
	store, err := g.begin(ctx, "create")
	if err != nil {
		return calendar.Event{}, err
	}
	defer g.mu.Unlock()

	if !e.Start.Before(e.End) {
		return calendar.Event{}, calendar.NewBackendError(BackendName, "create", fmt.Errorf("event end must be after start"))
	}
	e.ID = g.NewID()
	if e.Conferencing {
		e.ConferenceLink = "https://meet.example.com/" + e.ID
	}
	store[e.ID] = e
	return e, nil
}

// Update applies p to the stored event.
func (g *Gateway) Update(ctx context.Context, id string, p calendar.EventPatch) (calendar.Event, error) {
	store, err := g.begin(ctx, "update")
	if err != nil {
		return calendar.Event{}, err
	}
	defer g.mu.Unlock()

	e, ok := store[id]
	if !ok {
		return calendar.Event{}, fmt.Errorf("event %s: %w", id, calendar.ErrNotFound)
	}
	next := p.Apply(e)
	if !next.Start.Before(next.End) {
		return calendar.Event{}, calendar.NewBackendError(BackendName, "update", fmt.Errorf("event end must be after start"))
	}
	if next.Conferencing && next.ConferenceLink == "" {
		next.ConferenceLink = "https://meet.example.com/" + id
	} else if !next.Conferencing {
		next.ConferenceLink = ""
	}
	store[id] = next
	return next, nil
}

// Delete removes an event.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	store, err := g.begin(ctx, "delete")
	if err != nil {
		return err
	}
	defer g.mu.Unlock()

	if _, ok := store[id]; !ok {
		return fmt.Errorf("event %s: %w", id, calendar.ErrNotFound)
	}
	delete(store, id)
	return nil
}

// FreeBusy returns the busy blocks registered with SetBusy that intersect r.
func (g *Gateway) FreeBusy(ctx context.Context, r calendar.TimeRange, attendees []string) (map[string][]calendar.TimeRange, error) {
	if _, err := g.begin(ctx, "freebusy"); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	out := make(map[string][]calendar.TimeRange)
	for _, a := range attendees {
		for _, b := range g.busy[a] {
			if b.Overlaps(r) {
				out[a] = append(out[a], b)
			}
		}
	}
	return out, nil
}

func sortByStart(events []calendar.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
