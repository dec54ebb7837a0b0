package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/link-validator/internal/links"
)

func newTestClient(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client
}

func TestNewRequiresExistingTopic(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	defer client.Close()

	_, err := New(context.Background(), client, Config{TopicID: "missing"}, zap.NewNop())
	require.ErrorContains(t, err, "does not exist")
}

func TestPublishAndReceive(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ch, err := New(context.Background(), client, Config{CreateIfMissing: true}, zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

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
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestNackedMessagesAreRedelivered(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ch, err := New(context.Background(), client, Config{TopicID: "retry", CreateIfMissing: true}, zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

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
				return errors.New("shutting down")
			}
			return nil
		})
	}()

	require.NoError(t, ch.Publish(context.Background(), links.Task{ID: "link-2", URL: "https://example.org"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	}, 10*time.Second, 50*time.Millisecond)
}

func TestTraceContextTravelsWithMessage(t *testing.T) {
	t.Parallel()

	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := newTestClient(t)
	ch, err := New(context.Background(), client, Config{TopicID: "traced", CreateIfMissing: true}, zap.NewNop())
	require.NoError(t, err)
	defer ch.Close()

	pubCtx, span := tp.Tracer("test").Start(context.Background(), "submit")
	want := span.SpanContext().TraceID()
	require.NoError(t, ch.Publish(pubCtx, links.Task{ID: "link-3", URL: "https://example.net"}))
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan context.Context, 1)
	go func() {
		_ = ch.Subscribe(ctx, func(msgCtx context.Context, _ links.Task) error {
			got <- msgCtx
			return nil
		})
	}()

	select {
	case msgCtx := <-got:
		require.Equal(t, want, trace.SpanContextFromContext(msgCtx).TraceID())
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}
