// Package config provides environment-based configuration.
//
// Loads from .env file (godotenv), maps to Config struct via go-simpler/env struct tags.
// Validates required fields.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL string `env:"REDIS_URL"`

	CommandStream      string `env:"COMMAND_STREAM" default:"tank_commands"`
	CommandStreamStart string `env:"COMMAND_STREAM_START" default:"0-0"`
	StatusStream       string `env:"STATUS_STREAM" default:"tank_status"`
	StatusMaxLen       int64  `env:"STATUS_MAXLEN" default:"500"`
	RadarStream        string `env:"RADAR_STREAM" default:"tank_radar"`
	RadarMaxLen        int64  `env:"RADAR_MAXLEN" default:"1000"`

	StaleTimeout time.Duration `env:"STALE_TIMEOUT" default:"10m"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" default:"60s"`

	RelayBatchSize int64         `env:"RELAY_BATCH_SIZE" default:"20"`
	RelayBlock     time.Duration `env:"RELAY_BLOCK" default:"5s"`

	RetentionAge  time.Duration `env:"STREAM_RETENTION_AGE" default:"30m"`
	CleanInterval time.Duration `env:"STREAM_CLEAN_INTERVAL" default:"24h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.StaleTimeout <= 0 {
		return fmt.Errorf("STALE_TIMEOUT must be positive")
	}
	if cfg.RelayBatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be positive")
	}
	if cfg.StatusMaxLen <= 0 || cfg.RadarMaxLen <= 0 {
		return fmt.Errorf("stream max lengths must be positive")
	}
	return nil
}
