// Package worker turns validation tasks into recorded link outcomes.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/clock/system"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
)

const tracerName = "github.com/JakeFAU/link-validator/internal/worker"

// Pacer delays a probe until the target host may be contacted again.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	// StoreRetries bounds retries of a failed store read or write.
	StoreRetries         int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// SkipStaleTasks drops outcomes for tasks whose URL no longer matches
	// the stored record. Off by default: last writer wins.
	SkipStaleTasks bool
}

// Worker probes task URLs and records the outcome on the link record.
type Worker struct {
	store  links.Store
	prober links.Prober
	clock  links.Clock
	pacer  Pacer
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker. clock and pacer may be nil.
func New(
	store links.Store,
	prober links.Prober,
	clock links.Clock,
	pacer Pacer,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StoreRetries < 0 {
		cfg.StoreRetries = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 100 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 2 * time.Second
	}
	metrics.Init()
	return &Worker{
		store:  store,
		prober: prober,
		clock:  clock,
		pacer:  pacer,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Classify maps a probe result to a link status. Only a response in
// [200, 400) validates a link.
func Classify(code int, err error) links.Status {
	if err != nil {
		return links.StatusBroken
	}
	if code >= 200 && code < 400 {
		return links.StatusValidated
	}
	return links.StatusBroken
}

// OnTask handles one validation task. It returns an error only when ctx
// ended before an outcome was written, so the transport can redeliver.
// Probe and store failures are handled here and never returned.
func (w *Worker) OnTask(ctx context.Context, task links.Task) error {
	start := w.clock.Now()
	ctx, span := w.tracer.Start(ctx, "link.validate", trace.WithAttributes(
		attribute.String("link.id", task.ID),
		attribute.String("link.host", links.Host(task.URL)),
	))
	defer span.End()

	logger := w.logger.With(zap.String("link_id", task.ID), zap.String("url", task.URL))

	if w.pacer != nil {
		if err := w.pacer.Wait(ctx, task.URL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("probe pacing failed", zap.Error(err))
		}
	}

	code, probeErr := w.prober.Probe(ctx, task.URL)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := Classify(code, probeErr)
	if probeErr != nil {
		span.RecordError(probeErr)
		logger.Debug("probe failed", zap.Error(probeErr))
	} else {
		logger.Debug("probe completed", zap.Int("status_code", code))
	}
	span.SetAttributes(attribute.Int("http.status_code", code), attribute.String("link.status", string(status)))

	current, err := retryStore(ctx, w, "get", func(ctx context.Context) (links.Link, error) {
		return w.store.Get(ctx, task.ID)
	})
	switch {
	case errors.Is(err, links.ErrNotFound):
		logger.Debug("link deleted before outcome was recorded")
		return nil
	case err != nil:
		return w.storeFailed(ctx, span, logger, "load link", err)
	}

	if w.cfg.SkipStaleTasks && current.URL != task.URL {
		logger.Debug("skipping stale task", zap.String("current_url", current.URL))
		return nil
	}

	outcome := links.Outcome{Status: status, CheckedAt: w.clock.Now()}
	_, err = retryStore(ctx, w, "record", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.RecordOutcome(ctx, task.ID, outcome)
	})
	switch {
	case errors.Is(err, links.ErrNotFound):
		logger.Debug("link deleted before outcome was recorded")
		return nil
	case err != nil:
		return w.storeFailed(ctx, span, logger, "record outcome", err)
	}

	metrics.ObserveValidation(status, outcome.CheckedAt.Sub(start))
	logger.Info("link validated", zap.String("status", string(status)), zap.Int("status_code", code))
	return nil
}

func (w *Worker) storeFailed(ctx context.Context, span trace.Span, logger *zap.Logger, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	logger.Error(op+" failed", zap.Error(err))
	return nil
}

// retryStore runs fn with bounded exponential backoff. ErrNotFound and
// context cancellation stop immediately.
func retryStore[T any](ctx context.Context, w *Worker, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval
	b.MaxInterval = w.cfg.RetryMaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.cfg.StoreRetries)), ctx)

	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn(ctx)
		if err != nil && (errors.Is(err, links.ErrNotFound) || ctx.Err() != nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, wait time.Duration) {
		metrics.ObserveStoreRetry()
		w.logger.Warn("retrying store call",
			zap.String("op", op),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
}
