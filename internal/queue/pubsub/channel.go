// Package pubsub implements the validation channel on Google Cloud Pub/Sub.
// All subscribers share one subscription, so they compete for messages;
// nacked or expired messages are redelivered by the service.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/queue"
)

// Config names the topic and subscription.
type Config struct {
	TopicID        string
	SubscriptionID string
	// CreateIfMissing provisions the topic and subscription on startup.
	CreateIfMissing bool
	AckDeadline     time.Duration
	MaxOutstanding  int
}

// Channel publishes to a topic and receives from a shared subscription.
type Channel struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	cfg    Config
	logger *zap.Logger
}

// New resolves (and optionally creates) the topic and subscription.
func New(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Channel, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopicID == "" {
		cfg.TopicID = links.ChannelName
	}
	if cfg.SubscriptionID == "" {
		cfg.SubscriptionID = cfg.TopicID + "-workers"
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.TopicID)
		}
		if topic, err = client.CreateTopic(ctx, cfg.TopicID); err != nil {
			return nil, fmt.Errorf("create topic %s: %w", cfg.TopicID, err)
		}
		logger.Info("created pubsub topic", zap.String("topic", cfg.TopicID))
	}

	sub := client.Subscription(cfg.SubscriptionID)
	exists, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		if !cfg.CreateIfMissing {
			return nil, fmt.Errorf("pubsub subscription %q does not exist", cfg.SubscriptionID)
		}
		_, err = client.CreateSubscription(ctx, cfg.SubscriptionID, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: cfg.AckDeadline,
		})
		if err != nil {
			return nil, fmt.Errorf("create subscription %s: %w", cfg.SubscriptionID, err)
		}
		logger.Info("created pubsub subscription", zap.String("subscription", cfg.SubscriptionID))
	}

	return &Channel{client: client, topic: topic, cfg: cfg, logger: logger}, nil
}

// Publish sends the task and waits for the server to accept it.
func (c *Channel) Publish(ctx context.Context, task links.Task) error {
	data, err := queue.Encode(task)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	if _, err := c.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Subscribe receives until ctx ends. Each call opens its own receiver on
// the shared subscription.
func (c *Channel) Subscribe(ctx context.Context, handler links.Handler) error {
	sub := c.client.Subscription(c.cfg.SubscriptionID)
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}

	err := sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		msgCtx = otel.GetTextMapPropagator().Extract(msgCtx, &attributeCarrier{attrs: msg.Attributes})
		task, err := queue.Decode(msg.Data)
		if err != nil {
			c.logger.Warn("dropping malformed message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		if err := handler(msgCtx, task); err != nil {
			c.logger.Debug("nacking message", zap.String("link_id", task.ID), zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive %s: %w", c.cfg.SubscriptionID, err)
	}
	return nil
}

// Close flushes pending publishes and closes the client.
func (c *Channel) Close() error {
	c.topic.Stop()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// attributeCarrier adapts message attributes to propagation.TextMapCarrier.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
