// Package reconciler republishes validation tasks for links that have sat
// in PENDING long enough that their original task was probably lost.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/clock/system"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/metrics"
)

const (
	defaultSchedule   = "@every 1m"
	defaultStaleAfter = 2 * time.Minute
	defaultBatchSize  = 100
)

// Config controls the sweep cadence and size.
type Config struct {
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
}

// Reconciler sweeps stale PENDING links on a cron schedule.
type Reconciler struct {
	store   links.Store
	channel links.Channel
	clock   links.Clock
	cfg     Config
	logger  *zap.Logger
	cron    *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New validates the schedule and builds a Reconciler. clock may be nil.
func New(store links.Store, channel links.Channel, clock links.Clock, cfg Config, logger *zap.Logger) (*Reconciler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse reconciler schedule %q: %w", cfg.Schedule, err)
	}
	cronLog := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	metrics.Init()
	return &Reconciler{
		store:   store,
		channel: channel,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		cron:    c,
	}, nil
}

// Start schedules the sweep. Runs use ctx until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("reconciler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		if _, err := r.RunOnce(runCtx); err != nil && runCtx.Err() == nil {
			r.logger.Error("reconcile sweep failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	r.cancel = cancel
	r.cron.Start()
	r.logger.Info("reconciler started",
		zap.String("schedule", r.cfg.Schedule),
		zap.Duration("stale_after", r.cfg.StaleAfter),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-r.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop reconciler: %w", ctx.Err())
	}
}

// RunOnce republishes tasks for one batch of stale PENDING links and
// returns how many were published.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.clock.Now().Add(-r.cfg.StaleAfter)
	stale, err := r.store.ListStalePending(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale links: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	published := 0
	for _, link := range stale {
		if err := r.channel.Publish(ctx, link.Task()); err != nil {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			metrics.ObservePublishFailure()
			r.logger.Warn("republish failed", zap.String("link_id", link.ID), zap.Error(err))
			continue
		}
		metrics.ObservePublished("reconcile")
		published++
	}
	r.logger.Info("republished stale links",
		zap.Int("found", len(stale)),
		zap.Int("published", published),
		zap.Time("cutoff", cutoff),
	)
	return published, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
