// Package config loads the matcher's settings from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/matching"
	"github.com/netwindsky/LuminaServer-sub000/internal/queue"
)

// Config holds every matcher setting.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	NATSURL     string `env:"NATS_URL"     envDefault:"nats://localhost:4222"`
	NATSName    string `env:"NATS_NAME"    envDefault:"matcher"`
	IntentGroup string `env:"INTENT_GROUP" envDefault:"matchers"`

	// DatabaseURL enables outcome history when set.
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`

	QueueCapacity   int           `env:"QUEUE_CAPACITY"    envDefault:"1000"`
	QueueMaxWait    time.Duration `env:"QUEUE_MAX_WAIT"    envDefault:"10m"`
	BoostInterval   time.Duration `env:"BOOST_INTERVAL"    envDefault:"1m"`
	MatchInterval   time.Duration `env:"MATCH_INTERVAL"    envDefault:"5s"`
	AgingInterval   time.Duration `env:"AGING_INTERVAL"    envDefault:"60s"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL"  envDefault:"30s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"    envDefault:"30s"`
	SessionTTL      time.Duration `env:"MATCH_SESSION_TTL" envDefault:"10m"`

	AcceptTimeout time.Duration `env:"ACCEPT_TIMEOUT" envDefault:"30s"`
	SnapshotGrace time.Duration `env:"SNAPSHOT_GRACE" envDefault:"30s"`
	SettleTimeout time.Duration `env:"SETTLE_TIMEOUT" envDefault:"5s"`

	MatchWorkers    int `env:"MATCH_WORKERS"    envDefault:"4"`
	DispatchWorkers int `env:"DISPATCH_WORKERS" envDefault:"64"`

	Cooldowns []time.Duration `env:"COOLDOWN_LADDER" envDefault:"1m,5m,15m" envSeparator:","`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the matcher cannot run with.
func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("config: REDIS_ADDR is empty")
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("config: QUEUE_CAPACITY must be positive, got %d", c.QueueCapacity)
	}
	if c.AcceptTimeout <= 0 {
		return fmt.Errorf("config: ACCEPT_TIMEOUT must be positive, got %s", c.AcceptTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return nil
}

// Logger builds the root logger.
func (c Config) Logger(out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// Queue returns the queue settings.
func (c Config) Queue() queue.Config {
	return queue.Config{
		PartitionCapacity: c.QueueCapacity,
		GlobalMaxWait:     c.QueueMaxWait,
		BoostInterval:     c.BoostInterval,
		ClaimTTL:          c.SessionTTL,
	}
}

// Service returns the background loop schedule.
func (c Config) Service() matching.ServiceConfig {
	return matching.ServiceConfig{
		MatchInterval:        c.MatchInterval,
		AgingInterval:        c.AgingInterval,
		CleanupInterval:      c.CleanupInterval,
		SessionSweepInterval: c.SweepInterval,
	}
}

// Dispatch returns the dispatcher settings.
func (c Config) Dispatch() dispatch.Config {
	cfg := dispatch.DefaultConfig()
	cfg.Timeout = c.AcceptTimeout
	cfg.Grace = c.SnapshotGrace
	cfg.SettleTimeout = c.SettleTimeout
	return cfg
}
