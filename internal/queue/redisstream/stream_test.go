package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
)

func newTestChannel(t *testing.T, cfg Config) (*Channel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if cfg.Block == 0 {
		cfg.Block = 50 * time.Millisecond
	}
	ch, err := New(context.Background(), client, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch, mr
}

func TestNewIsIdempotent(t *testing.T) {
	t.Parallel()

	ch, mr := newTestChannel(t, Config{})
	require.True(t, mr.Exists(links.ChannelName))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	again, err := New(context.Background(), client, Config{}, zap.NewNop())
	require.NoError(t, err, "existing group must not fail")
	require.NoError(t, again.Close())
	require.Equal(t, defaultGroup, ch.cfg.Group)
}

func TestPublishSubscribeAcks(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan links.Task, 1)
	go func() {
		_ = ch.Subscribe(ctx, func(_ context.Context, task links.Task) error {
			got <- task
			return nil
		})
	}()

	require.NoError(t, ch.Publish(context.Background(), links.Task{ID: "link-1", URL: "https://example.com"}))
	select {
	case task := <-got:
		require.Equal(t, links.Task{ID: "link-1", URL: "https://example.com"}, task)
	case <-time.After(2 * time.Second):
		t.Fatal("task not delivered")
	}

	require.Eventually(t, func() bool {
		n, err := ch.Pending(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestConsumersCompete(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	handler := func(_ context.Context, task links.Task) error {
		mu.Lock()
		seen[task.ID]++
		mu.Unlock()
		return nil
	}
	for i := 0; i < 3; i++ {
		go func() { _ = ch.Subscribe(ctx, handler) }()
	}

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		require.NoError(t, ch.Publish(context.Background(), links.Task{ID: id, URL: "https://example.com/" + id}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(ids)
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for id, n := range seen {
		require.Equal(t, 1, n, "entry %s handled twice", id)
	}
}

func TestMalformedEntriesAreAcked(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := ch.client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: links.ChannelName,
		Values: map[string]any{payloadField: "{not json"},
	}).Err()
	require.NoError(t, err)

	var calls int
	var mu sync.Mutex
	go func() {
		_ = ch.Subscribe(ctx, func(context.Context, links.Task) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		n, err := ch.Pending(context.Background())
		if err != nil || n != 0 {
			return false
		}
		length, err := ch.client.XLen(context.Background(), links.ChannelName).Result()
		return err == nil && length == 1
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, calls)
}

func TestFailedEntriesAreReclaimed(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, Config{ClaimMinIdle: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		attempts int
	)
	go func() {
		_ = ch.Subscribe(ctx, func(context.Context, links.Task) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return errors.New("probe interrupted")
			}
			return nil
		})
	}()

	require.NoError(t, ch.Publish(context.Background(), links.Task{ID: "flaky", URL: "https://example.com"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := ch.Pending(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ch, _ := newTestChannel(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ch.Subscribe(ctx, func(context.Context, links.Task) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
