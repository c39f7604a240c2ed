package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := NewMemoryStore()
	g := New(store, time.Minute).WithClock(clock.Now)

	_, _, err := g.Do(ctx, "s", "k", func(context.Context) ([]byte, bool, error) {
		return []byte("x"), true, nil
	})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	s, err := NewSweeper(g, time.Hour, nil)
	require.NoError(t, err)

	var removed int
	s.OnSweep = func(_ context.Context, n int) { removed = n }
	s.run()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, store.Len())
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(New(NewMemoryStore(), 0), 0, nil)
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
