// Package memory provides an in-process validation channel for local
// development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/link-validator/internal/links"
)

// ErrFull is returned by Publish when the buffer has no free slot.
var ErrFull = errors.New("memory channel full")

// Channel is a bounded in-memory work queue. Concurrent subscribers compete
// for tasks, so each task is handled by exactly one subscriber.
type Channel struct {
	ch      chan links.Task
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewChannel constructs a channel buffering up to capacity tasks, at least one.
func NewChannel(capacity int) *Channel {
	capacity = max(capacity, 1)
	return &Channel{
		ch:   make(chan links.Task, capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues a task without waiting. A full buffer returns ErrFull;
// the record stays PENDING and the reconciler republishes it later.
func (c *Channel) Publish(ctx context.Context, task links.Task) error {
	select {
	case <-c.done:
		return links.ErrChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish canceled: %w", err)
	}
	select {
	case c.ch <- task:
		return nil
	default:
		return fmt.Errorf("publish %s: %w", task.ID, ErrFull)
	}
}

// Subscribe hands tasks to handler until ctx ends or the channel closes.
// A task whose handler fails is put back at the tail of the queue.
func (c *Channel) Subscribe(ctx context.Context, handler links.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return links.ErrChannelClosed
		case task := <-c.ch:
			if err := handler(ctx, task); err != nil {
				c.requeue(task)
			}
		}
	}
}

func (c *Channel) requeue(task links.Task) {
	select {
	case <-c.done:
	case c.ch <- task:
	default:
	}
}

// Len reports the number of buffered tasks.
func (c *Channel) Len() int {
	return len(c.ch)
}

// Close stops subscribers and rejects further publishes. Safe to call twice.
func (c *Channel) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	close(c.done)
	c.closed = true
	return nil
}
