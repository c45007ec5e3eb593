package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sealedmarket/internal/domain"
)

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "market:1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "market:1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "market:2", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "market:1", time.Minute)
	require.NoError(t, err)
	defer again()
}

func TestLockManager_ExpiredLockCanBeTaken(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "k", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	fresh, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The stale holder must not release the new holder's lock.
	stale()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	fresh()
}

func TestSignalBus_PublishSubscribe(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, domain.ChannelMarketEvents)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelMarketEvents, []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel closes when the subscription ends")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestSignalBus_Streams(t *testing.T) {
	bus := NewSignalBus()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamResolutionJobs, []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, domain.StreamResolutionJobs, "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "b", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, domain.StreamResolutionJobs, msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))
}

func TestSignalBus_StreamReadWaitsForAppend(t *testing.T) {
	bus := NewSignalBus()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan []domain.StreamMessage, 1)
	go func() {
		msgs, _ := bus.StreamRead(ctx, "s", "0", 1)
		done <- msgs
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("late")))

	msgs := <-done
	require.Len(t, msgs, 1)
	assert.Equal(t, "late", string(msgs[0].Payload))

	short, stop := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer stop()
	_, err := bus.StreamRead(short, "s", "1", 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMarketCache(t *testing.T) {
	c := NewMarketCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, c.Set(ctx, domain.Market{ID: "m1", State: domain.MarketStateOpen}))
	m, err := c.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStateOpen, m.State)

	require.NoError(t, c.Invalidate(ctx, "m1"))
	_, err = c.Get(ctx, "m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "client", 3, time.Second)
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "other", 3, time.Second)
	assert.True(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, _ = rl.Allow(ctx, "client", 3, time.Second)
	assert.True(t, ok)
}
