// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-validator/internal/api"
	"github.com/JakeFAU/link-validator/internal/clock/system"
	"github.com/JakeFAU/link-validator/internal/config"
	"github.com/JakeFAU/link-validator/internal/dispatcher"
	"github.com/JakeFAU/link-validator/internal/id/uuid"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/policy/ratelimit"
	"github.com/JakeFAU/link-validator/internal/prober"
	queuememory "github.com/JakeFAU/link-validator/internal/queue/memory"
	gcppubsub "github.com/JakeFAU/link-validator/internal/queue/pubsub"
	"github.com/JakeFAU/link-validator/internal/queue/redispubsub"
	"github.com/JakeFAU/link-validator/internal/queue/redisstream"
	"github.com/JakeFAU/link-validator/internal/reconciler"
	"github.com/JakeFAU/link-validator/internal/service"
	"github.com/JakeFAU/link-validator/internal/storage/memory"
	"github.com/JakeFAU/link-validator/internal/storage/postgres"
	"github.com/JakeFAU/link-validator/internal/storage/sqlite"
	"github.com/JakeFAU/link-validator/internal/telemetry"
	"github.com/JakeFAU/link-validator/internal/worker"
)

// Version is reported as the service.version trace attribute. Set with -ldflags.
var Version = "dev"

// Roles selects which long-running components Run starts.
type Roles struct {
	API        bool
	Workers    bool
	Reconciler bool
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          links.Store
	channel        links.Channel
	service        *service.Service
	apiServer      *api.Server
	dispatch       *dispatcher.Dispatcher
	reconciler     *reconciler.Reconciler
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. The caller owns Close.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("channel_driver", cfg.Channel.Driver),
		zap.Int("port", cfg.Server.Port),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	if app.store, err = setupStore(ctx, cfg, logger); err != nil {
		app.closeQuietly(ctx)
		return nil, err
	}
	if app.channel, err = setupChannel(ctx, cfg, logger); err != nil {
		app.closeQuietly(ctx)
		return nil, err
	}

	clock := system.New()
	app.service = service.New(
		app.store,
		app.channel,
		uuid.New(),
		clock,
		service.Config{AllowDeleteAll: cfg.API.AllowDeleteAll},
		logger.Named("service"),
	)
	app.apiServer = api.NewServer(app.service, clock, cfg, logger.Named("api"))
	app.dispatch = setupDispatcher(cfg, app.store, app.channel, logger)

	if cfg.Reconciler.Enabled {
		app.reconciler, err = reconciler.New(app.store, app.channel, clock, reconciler.Config{
			Schedule:   cfg.Reconciler.Schedule,
			StaleAfter: cfg.Reconciler.StaleAfter,
			BatchSize:  cfg.Reconciler.BatchSize,
		}, logger.Named("reconciler"))
		if err != nil {
			app.closeQuietly(ctx)
			return nil, fmt.Errorf("reconciler init failed: %w", err)
		}
	}
	return app, nil
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (links.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		if cfg.Store.AutoMigrate {
			version, err := postgres.Migrate(cfg.Store.DSN, postgres.Up)
			if err != nil {
				return nil, fmt.Errorf("auto-migrate failed: %w", err)
			}
			logger.Info("schema migrated", zap.Uint("version", version))
		}
		store, err := postgres.NewLinkStore(ctx, postgres.Config{
			DSN:             cfg.Store.DSN,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		logger.Info("using postgres link store")
		return store, nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		logger.Info("using sqlite link store", zap.String("path", cfg.Store.SQLitePath))
		return store, nil
	case config.StoreMemory:
		logger.Warn("using in-memory link store; records are lost on restart")
		return memory.NewLinkStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func setupChannel(ctx context.Context, cfg config.Config, logger *zap.Logger) (links.Channel, error) {
	chLogger := logger.Named("channel")
	switch cfg.Channel.Driver {
	case config.ChannelMemory:
		logger.Info("using in-memory validation channel", zap.Int("capacity", cfg.Channel.Capacity))
		return queuememory.NewChannel(cfg.Channel.Capacity), nil
	case config.ChannelRedisStream:
		client := newRedisClient(cfg.Channel.Redis)
		ch, err := redisstream.New(ctx, client, redisstream.Config{
			Stream:       cfg.Channel.Name,
			Group:        cfg.Channel.Redis.Group,
			Block:        cfg.Channel.Redis.Block,
			BatchSize:    cfg.Channel.Redis.BatchSize,
			ClaimMinIdle: cfg.Channel.Redis.ClaimMinIdle,
			MaxLen:       cfg.Channel.Redis.MaxLen,
		}, chLogger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis stream channel init failed: %w", err)
		}
		logger.Info("using redis stream validation channel",
			zap.String("addr", cfg.Channel.Redis.Addr),
			zap.String("stream", cfg.Channel.Name),
		)
		return ch, nil
	case config.ChannelRedisPubSub:
		client := newRedisClient(cfg.Channel.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		ch, err := redispubsub.New(client, cfg.Channel.Name, chLogger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis pubsub channel init failed: %w", err)
		}
		if cfg.Worker.Concurrency > 1 {
			logger.Warn("redis-pubsub broadcasts every task to every subscriber; each link will be probed once per worker",
				zap.Int("concurrency", cfg.Worker.Concurrency),
			)
		}
		return ch, nil
	case config.ChannelPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Channel.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		ch, err := gcppubsub.New(ctx, client, gcppubsub.Config{
			TopicID:         cfg.Channel.Name,
			SubscriptionID:  cfg.Channel.PubSub.Subscription,
			CreateIfMissing: cfg.Channel.PubSub.CreateIfMissing,
			AckDeadline:     cfg.Channel.PubSub.AckDeadline,
			MaxOutstanding:  cfg.Channel.PubSub.MaxOutstanding,
		}, chLogger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub channel init failed: %w", err)
		}
		logger.Info("using pubsub validation channel",
			zap.String("project", cfg.Channel.PubSub.ProjectID),
			zap.String("topic", cfg.Channel.Name),
		)
		return ch, nil
	default:
		return nil, fmt.Errorf("unsupported channel driver %q", cfg.Channel.Driver)
	}
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func setupDispatcher(cfg config.Config, store links.Store, channel links.Channel, logger *zap.Logger) *dispatcher.Dispatcher {
	probe := prober.New(prober.Config{
		ConnectTimeout: cfg.Probe.ConnectTimeout,
		Timeout:        cfg.Probe.Timeout,
		UserAgent:      cfg.Probe.UserAgent,
	})

	var pacer worker.Pacer
	if cfg.Probe.PerHostRPS > 0 {
		pacer = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Probe.PerHostRPS,
			DefaultBurst: cfg.Probe.PerHostBurst,
			IdleTTL:      cfg.Probe.PerHostIdleTTL,
		})
		logger.Info("per-host rate limit enabled",
			zap.Float64("rps", cfg.Probe.PerHostRPS),
			zap.Int("burst", cfg.Probe.PerHostBurst),
		)
	}

	w := worker.New(store, probe, system.New(), pacer, worker.Config{
		StoreRetries:   cfg.Worker.StoreRetries,
		SkipStaleTasks: cfg.Worker.SkipStaleTasks,
	}, logger.Named("worker"))
	logger.Info("worker config",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("store_retries", cfg.Worker.StoreRetries),
		zap.Bool("skip_stale_tasks", cfg.Worker.SkipStaleTasks),
		zap.Duration("probe_timeout", cfg.Probe.Timeout),
	)

	return dispatcher.New(channel, w.OnTask, dispatcher.Config{
		Concurrency:  cfg.Worker.Concurrency,
		RestartDelay: cfg.Worker.RestartDelay,
	}, logger.Named("dispatcher"))
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service exposes the task publisher.
func (a *App) Service() *service.Service {
	return a.service
}

// Run starts the selected roles and blocks until ctx is canceled, a signal
// arrives, or a role fails. It does not call Close.
func (a *App) Run(ctx context.Context, roles Roles) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if roles.Workers {
		g.Go(func() error {
			return a.dispatch.Run(gctx)
		})
	}

	if roles.Reconciler && a.reconciler != nil {
		if err := a.reconciler.Start(gctx); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	if roles.API {
		srv := &http.Server{
			Addr:              a.cfg.Addr(),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			return nil
		})
	}

	a.logger.Info("application started",
		zap.Bool("api", roles.API),
		zap.Bool("workers", roles.Workers),
		zap.Bool("reconciler", roles.Reconciler && a.reconciler != nil),
	)
	err := g.Wait()
	a.logger.Info("shutdown initiated")

	if a.reconciler != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if stopErr := a.reconciler.Stop(stopCtx); stopErr != nil {
			a.logger.Warn("reconciler stop failed", zap.Error(stopErr))
		}
	}
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close releases the channel, store and tracer provider.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeQuietly(ctx context.Context) {
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(err))
	}
}
