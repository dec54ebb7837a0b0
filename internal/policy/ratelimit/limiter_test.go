package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS = 1 token every 100ms, burst 1.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/other"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 1, l.Hosts())
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	// Host B should not be blocked by A.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_UnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://c.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitHonoursCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://d.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://d.com"))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_EvictsIdleHosts(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{DefaultRPS: 100, DefaultBurst: 1, IdleTTL: time.Minute})
	l.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		require.NoError(t, l.Wait(ctx, fmt.Sprintf("https://h%d.example/", i)))
	}
	require.Equal(t, 200, l.Hosts())

	clock.Advance(30 * time.Second)
	require.NoError(t, l.Wait(ctx, "https://h0.example/again"))
	require.Equal(t, 200, l.Hosts(), "nothing is idle long enough yet")

	clock.Advance(45 * time.Second)
	require.NoError(t, l.Wait(ctx, "https://fresh.example/"))
	require.Equal(t, 2, l.Hosts(), "only the recently used and the new host remain")
}

func TestLimiter_IdleTTLCoversRefill(t *testing.T) {
	t.Parallel()

	// A bucket refilling over 10s must outlive a 1s TTL, or eviction would hand out a burst early.
	l := New(Config{DefaultRPS: 0.5, DefaultBurst: 5, IdleTTL: time.Second})
	require.Equal(t, 10*time.Second, l.idleTTL)

	require.Equal(t, defaultIdleTTL, New(Config{}).idleTTL)
}
