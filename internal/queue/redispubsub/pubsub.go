// Package redispubsub implements the validation channel on Redis
// PUBLISH/SUBSCRIBE. Delivery is a broadcast: every subscriber sees every
// task and nothing is redelivered, so it only suits a single worker.
package redispubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/queue"
)

// Channel publishes tasks on a Redis pub/sub channel.
type Channel struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// New wraps client. An empty name defaults to links.ChannelName.
func New(client *redis.Client, name string, logger *zap.Logger) (*Channel, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if name == "" {
		name = links.ChannelName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{client: client, channel: name, logger: logger}, nil
}

// Publish broadcasts the task. Tasks published with no subscriber are lost.
func (c *Channel) Publish(ctx context.Context, task links.Task) error {
	payload, err := queue.Encode(task)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", c.channel, err)
	}
	return nil
}

// Subscribe listens until ctx ends. Handler errors are logged only.
func (c *Channel) Subscribe(ctx context.Context, handler links.Handler) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return links.ErrChannelClosed
			}
			task, err := queue.Decode([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("dropping malformed message", zap.Error(err))
				continue
			}
			if err := handler(ctx, task); err != nil {
				c.logger.Warn("task handler failed; broadcast delivery does not retry",
					zap.String("link_id", task.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Close closes the Redis client.
func (c *Channel) Close() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}
