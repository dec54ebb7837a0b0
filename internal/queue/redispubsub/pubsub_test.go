package redispubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
)

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ch, err := New(client, "", zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		recv = map[int][]links.Task{}
	)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			_ = ch.Subscribe(ctx, func(_ context.Context, task links.Task) error {
				mu.Lock()
				recv[i] = append(recv[i], task)
				mu.Unlock()
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(links.ChannelName)[links.ChannelName] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ch.Publish(context.Background(), links.Task{ID: "link-1", URL: "https://example.com"}))
	// Malformed payloads are skipped without stopping the subscription.
	mr.Publish(links.ChannelName, "garbage")
	require.NoError(t, ch.Publish(context.Background(), links.Task{ID: "link-2", URL: "https://example.org"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(recv[0]) == 2 && len(recv[1]) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeReturnsOnCancel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ch, err := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "custom", zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Subscribe(ctx, func(context.Context, links.Task) error { return nil }) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("custom")["custom"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", nil)
	require.Error(t, err)
}
