package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/link-validator/internal/links"
)

// MockChannel is a testify mock of links.Channel.
type MockChannel struct {
	mock.Mock
}

// Publish records the call.
func (m *MockChannel) Publish(ctx context.Context, task links.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

// Subscribe records the call.
func (m *MockChannel) Subscribe(ctx context.Context, handler links.Handler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

// Close records the call.
func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}
