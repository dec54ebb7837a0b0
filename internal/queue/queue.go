// Package queue holds the wire format shared by every validation channel
// transport, plus test doubles.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/link-validator/internal/links"
)

// ErrMalformedTask marks payloads that cannot be decoded into a usable task.
// Transports acknowledge and drop them rather than redelivering.
var ErrMalformedTask = errors.New("malformed task payload")

// Encode serializes a task as {"id":..,"url":..}.
func Encode(task links.Task) ([]byte, error) {
	if task.ID == "" {
		return nil, fmt.Errorf("encode task: id is required")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// Decode parses a task payload.
func Decode(data []byte) (links.Task, error) {
	var task links.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return links.Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if task.ID == "" {
		return links.Task{}, fmt.Errorf("%w: missing id", ErrMalformedTask)
	}
	return task, nil
}

// NoOpChannel drops every published task. Tests use it where delivery
// does not matter.
type NoOpChannel struct{}

// Publish discards the task.
func (NoOpChannel) Publish(context.Context, links.Task) error { return nil }

// Subscribe blocks until ctx ends.
func (NoOpChannel) Subscribe(ctx context.Context, _ links.Handler) error {
	<-ctx.Done()
	return nil
}

// Close does nothing.
func (NoOpChannel) Close() error { return nil }
