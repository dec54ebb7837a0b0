// Package redisstream implements the validation channel on a Redis Stream
// consumer group: subscribers compete for entries and acknowledge each one
// after it is handled.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/queue"
)

const (
	payloadField = "task"

	defaultGroup        = "link-validators"
	defaultBlock        = 2 * time.Second
	defaultBatchSize    = 10
	defaultClaimMinIdle = time.Minute
	errorBackoff        = time.Second
)

// Config controls stream and consumer group naming plus read behavior.
type Config struct {
	Stream       string
	Group        string
	ConsumerName string
	Block        time.Duration
	BatchSize    int64
	ClaimMinIdle time.Duration
	// MaxLen caps the stream length approximately; 0 disables trimming.
	MaxLen int64
}

// Channel publishes and consumes tasks on a Redis Stream.
type Channel struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
	seq    atomic.Int64
}

// New creates the consumer group if needed and returns a ready Channel.
func New(ctx context.Context, client *redis.Client, cfg Config, logger *zap.Logger) (*Channel, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = links.ChannelName
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.ConsumerName == "" {
		host, _ := os.Hostname()
		cfg.ConsumerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Channel{client: client, cfg: cfg, logger: logger}, nil
}

// Publish appends the task to the stream.
func (c *Channel) Publish(ctx context.Context, task links.Task) error {
	payload, err := queue.Encode(task)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: map[string]any{payloadField: string(payload)},
	}
	if c.cfg.MaxLen > 0 {
		args.MaxLen = c.cfg.MaxLen
		args.Approx = true
	}
	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", c.cfg.Stream, err)
	}
	return nil
}

// Subscribe reads new entries as a distinct group consumer, acknowledging
// each entry once handler succeeds. Entries left unacknowledged by crashed
// or failed consumers are reclaimed after ClaimMinIdle.
func (c *Channel) Subscribe(ctx context.Context, handler links.Handler) error {
	consumer := fmt.Sprintf("%s-%d", c.cfg.ConsumerName, c.seq.Add(1))
	logger := c.logger.With(zap.String("consumer", consumer))
	lastClaim := time.Time{}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastClaim) >= c.cfg.ClaimMinIdle/2 {
			c.reclaim(ctx, consumer, handler, logger)
			lastClaim = time.Now()
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, redis.ErrClosed):
				return links.ErrChannelClosed
			}
			logger.Error("stream read failed", zap.Error(err))
			if !sleep(ctx, errorBackoff) {
				return nil
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handle(ctx, msg, handler, logger)
			}
		}
	}
}

func (c *Channel) reclaim(ctx context.Context, consumer string, handler links.Handler, logger *zap.Logger) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  c.cfg.BatchSize,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Warn("pending scan failed", zap.Error(err))
		}
		return
	}
	var ids []string
	for _, p := range pending {
		if p.Idle >= c.cfg.ClaimMinIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: consumer,
		MinIdle:  c.cfg.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		logger.Warn("claim pending entries failed", zap.Error(err))
		return
	}
	if len(claimed) > 0 {
		logger.Info("reclaimed stale entries", zap.Int("count", len(claimed)))
	}
	for _, msg := range claimed {
		c.handle(ctx, msg, handler, logger)
	}
}

func (c *Channel) handle(ctx context.Context, msg redis.XMessage, handler links.Handler, logger *zap.Logger) {
	raw, _ := msg.Values[payloadField].(string)
	task, err := queue.Decode([]byte(raw))
	if err != nil {
		logger.Warn("dropping malformed entry", zap.String("entry_id", msg.ID), zap.Error(err))
		c.ack(ctx, msg.ID, logger)
		return
	}
	if err := handler(ctx, task); err != nil {
		logger.Debug("entry left pending for redelivery",
			zap.String("entry_id", msg.ID),
			zap.String("link_id", task.ID),
			zap.Error(err),
		)
		return
	}
	c.ack(ctx, msg.ID, logger)
}

func (c *Channel) ack(ctx context.Context, id string, logger *zap.Logger) {
	// Ack on a fresh context so an entry handled just before shutdown is not redelivered.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.client.XAck(ackCtx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		logger.Warn("xack failed", zap.String("entry_id", id), zap.Error(err))
	}
}

// Pending reports how many entries are delivered but unacknowledged.
func (c *Channel) Pending(ctx context.Context) (int64, error) {
	summary, err := c.client.XPending(ctx, c.cfg.Stream, c.cfg.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return summary.Count, nil
}

// Close closes the Redis client.
func (c *Channel) Close() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
