// Package config loads process configuration from BANDSCORE_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/abhisek/bandscore/internal/llm"
	"github.com/abhisek/bandscore/internal/logging"
	"github.com/abhisek/bandscore/internal/store"
)

// Prefix is prepended to every variable name.
const Prefix = "BANDSCORE_"

// Config is the full process configuration.
type Config struct {
	DB        DBConfig        `envPrefix:"DB_"`
	Log       logging.Config  `envPrefix:"LOG_"`
	Queue     QueueConfig     `envPrefix:"QUEUE_"`
	Worker    WorkerConfig    `envPrefix:"WORKER_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	LLM       llm.Config      `envPrefix:"LLM_"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9464"`
}

// DBConfig selects the storage backend. An empty DSN means the default
// sqlite file under the user's home directory.
type DBConfig struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DSN"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend   string `env:"BACKEND" envDefault:"memory"` // memory or redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`
	RedisKey  string `env:"REDIS_KEY" envDefault:"bandscore:jobs"`
	Buffer    int    `env:"BUFFER" envDefault:"256"`
}

// WorkerConfig tunes the analysis worker.
type WorkerConfig struct {
	Concurrency int           `env:"CONCURRENCY" envDefault:"4"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	Backoff     time.Duration `env:"BACKOFF" envDefault:"2s"`
}

// SessionConfig bounds session lifetime for the expiry sweep.
type SessionConfig struct {
	MaxDuration time.Duration `env:"MAX_DURATION" envDefault:"3h"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `env:"ENDPOINT"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// Load reads dotenv (when non-empty and present) and parses the environment.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be checked by tags.
// The LLM key is checked lazily by the commands that grade.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	if c.DB.Driver == store.DriverPostgres && c.DB.DSN == "" {
		return errors.New(Prefix + "DB_DSN is required for postgres")
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported queue backend %q", c.Queue.Backend)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker max attempts must be positive, got %d", c.Worker.MaxAttempts)
	}
	if c.Session.MaxDuration <= 0 {
		return errors.New("session max duration must be positive")
	}
	return nil
}
