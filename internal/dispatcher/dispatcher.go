// Package dispatcher runs a pool of validation subscriptions on a channel.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
)

// ErrAlreadyStarted is returned by Start on a running dispatcher.
var ErrAlreadyStarted = errors.New("dispatcher already started")

// Config sizes the subscription pool.
type Config struct {
	Concurrency  int
	RestartDelay time.Duration
}

// Dispatcher fans channel deliveries out to Concurrency subscriptions of
// the same handler.
type Dispatcher struct {
	channel links.Channel
	handler links.Handler
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Dispatcher.
func New(channel links.Channel, handler links.Handler, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Dispatcher{
		channel: channel,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start launches the subscriptions and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.subscribe(ctx, i)
	}
	d.logger.Info("dispatcher started", zap.Int("concurrency", d.cfg.Concurrency))
	return nil
}

// Stop cancels the subscriptions and waits for in-flight handlers to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Run starts the dispatcher and blocks until ctx finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Dispatcher) subscribe(ctx context.Context, slot int) {
	defer d.wg.Done()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := d.logger.With(zap.Int("slot", slot))
	for {
		err := d.channel.Subscribe(ctx, d.handler)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, links.ErrChannelClosed) {
			logger.Info("channel closed, subscription exiting")
			return
		}
		logger.Warn("subscription ended, restarting", zap.Duration("delay", d.cfg.RestartDelay), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.RestartDelay):
		}
	}
}
