// Package config loads and validates link validator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Channel drivers.
const (
	ChannelMemory      = "memory"
	ChannelRedisStream = "redis-stream"
	ChannelRedisPubSub = "redis-pubsub"
	ChannelPubSub      = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Store      StoreConfig      `mapstructure:"store"`
	Channel    ChannelConfig    `mapstructure:"channel"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// APIConfig tunes the REST surface.
type APIConfig struct {
	AllowDeleteAll bool          `mapstructure:"allow_delete_all"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxPageSize    int           `mapstructure:"max_page_size"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig selects and configures the link store.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ChannelConfig selects the validation channel transport.
type ChannelConfig struct {
	Driver   string       `mapstructure:"driver"`
	Name     string       `mapstructure:"name"`
	Capacity int          `mapstructure:"capacity"`
	Redis    RedisConfig  `mapstructure:"redis"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
}

// RedisConfig covers both Redis transports.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Group        string        `mapstructure:"group"`
	Block        time.Duration `mapstructure:"block"`
	BatchSize    int64         `mapstructure:"batch_size"`
	ClaimMinIdle time.Duration `mapstructure:"claim_min_idle"`
	MaxLen       int64         `mapstructure:"max_len"`
}

// PubSubConfig holds Google Cloud Pub/Sub settings.
type PubSubConfig struct {
	ProjectID       string        `mapstructure:"project_id"`
	Subscription    string        `mapstructure:"subscription"`
	CreateIfMissing bool          `mapstructure:"create_if_missing"`
	AckDeadline     time.Duration `mapstructure:"ack_deadline"`
	MaxOutstanding  int           `mapstructure:"max_outstanding"`
}

// WorkerConfig governs the validation worker pool.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	StoreRetries   int           `mapstructure:"store_retries"`
	SkipStaleTasks bool          `mapstructure:"skip_stale_tasks"`
	RestartDelay   time.Duration `mapstructure:"restart_delay"`
}

// ProbeConfig configures the HEAD probe client.
type ProbeConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	PerHostRPS     float64       `mapstructure:"per_host_rps"`
	PerHostBurst   int           `mapstructure:"per_host_burst"`
	PerHostIdleTTL time.Duration `mapstructure:"per_host_idle_ttl"`
}

// ReconcilerConfig controls the stale PENDING sweep.
type ReconcilerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LINKVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("api.allow_delete_all", false)
	v.SetDefault("api.request_timeout", "30s")
	v.SetDefault("api.max_page_size", 500)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.driver", StorePostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.sqlite_path", "data/links.db")
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("channel.driver", ChannelRedisStream)
	v.SetDefault("channel.name", "link-validation")
	v.SetDefault("channel.capacity", 1024)
	v.SetDefault("channel.redis.addr", "localhost:6379")
	v.SetDefault("channel.redis.password", "")
	v.SetDefault("channel.redis.db", 0)
	v.SetDefault("channel.redis.group", "link-validators")
	v.SetDefault("channel.redis.block", "2s")
	v.SetDefault("channel.redis.batch_size", 10)
	v.SetDefault("channel.redis.claim_min_idle", "1m")
	v.SetDefault("channel.redis.max_len", 0)
	v.SetDefault("channel.pubsub.project_id", "")
	v.SetDefault("channel.pubsub.subscription", "")
	v.SetDefault("channel.pubsub.create_if_missing", false)
	v.SetDefault("channel.pubsub.ack_deadline", "30s")
	v.SetDefault("channel.pubsub.max_outstanding", 0)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.store_retries", 3)
	v.SetDefault("worker.skip_stale_tasks", false)
	v.SetDefault("worker.restart_delay", "1s")
	v.SetDefault("probe.timeout", "10s")
	v.SetDefault("probe.connect_timeout", "5s")
	v.SetDefault("probe.user_agent", "link-validator/1.0")
	v.SetDefault("probe.per_host_rps", 0)
	v.SetDefault("probe.per_host_burst", 1)
	v.SetDefault("probe.per_host_idle_ttl", "10m")
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 1m")
	v.SetDefault("reconciler.stale_after", "2m")
	v.SetDefault("reconciler.batch_size", 100)
	v.SetDefault("telemetry.service_name", "link-validator")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Driver {
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite driver")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Channel.Driver {
	case ChannelMemory:
		if c.Channel.Capacity <= 0 {
			return fmt.Errorf("channel.capacity must be > 0")
		}
	case ChannelRedisStream, ChannelRedisPubSub:
		if c.Channel.Redis.Addr == "" {
			return fmt.Errorf("channel.redis.addr must be set for the %s driver", c.Channel.Driver)
		}
	case ChannelPubSub:
		if c.Channel.PubSub.ProjectID == "" {
			return fmt.Errorf("channel.pubsub.project_id must be set for the pubsub driver")
		}
	default:
		return fmt.Errorf("channel.driver %q is not supported", c.Channel.Driver)
	}
	if c.Channel.Name == "" {
		return fmt.Errorf("channel.name must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.StoreRetries < 0 {
		return fmt.Errorf("worker.store_retries must be >= 0")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be > 0")
	}
	if c.Probe.PerHostRPS < 0 {
		return fmt.Errorf("probe.per_host_rps must be >= 0")
	}
	if c.Reconciler.Enabled {
		if c.Reconciler.Schedule == "" {
			return fmt.Errorf("reconciler.schedule must be set when the reconciler is enabled")
		}
		if c.Reconciler.StaleAfter <= 0 {
			return fmt.Errorf("reconciler.stale_after must be > 0")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
