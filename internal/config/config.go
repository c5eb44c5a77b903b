// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the sync daemon needs to run.
type Config struct {
	DataDir    string `env:"PLATESYNC_DATA_DIR"    envDefault:"./data"`
	LogDir     string `env:"PLATESYNC_LOG_DIR"`
	LogLevel   string `env:"PLATESYNC_LOG_LEVEL"   envDefault:"info"`
	LogConsole bool   `env:"PLATESYNC_LOG_CONSOLE" envDefault:"false"`

	RemoteBaseURL string `env:"PLATESYNC_REMOTE_URL"`
	RemoteAPIKey  string `env:"PLATESYNC_REMOTE_API_KEY"`
	PhotoBucket   string `env:"PLATESYNC_PHOTO_BUCKET" envDefault:"meal-photos"`

	SyncInterval  time.Duration `env:"PLATESYNC_SYNC_INTERVAL"  envDefault:"5m"`
	EntryTimeout  time.Duration `env:"PLATESYNC_ENTRY_TIMEOUT"  envDefault:"30s"`
	ProbeInterval time.Duration `env:"PLATESYNC_PROBE_INTERVAL" envDefault:"30s"`
	LeaseTTL      time.Duration `env:"PLATESYNC_LEASE_TTL"      envDefault:"2m"`

	ListenAddr string `env:"PLATESYNC_LISTEN_ADDR" envDefault:"127.0.0.1:8390"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.RemoteBaseURL = strings.TrimRight(cfg.RemoteBaseURL, "/")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RemoteBaseURL == "" {
		return errors.New("PLATESYNC_REMOTE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.RemoteBaseURL); err != nil {
		return fmt.Errorf("PLATESYNC_REMOTE_URL is not a valid URL: %w", err)
	}
	if c.RemoteAPIKey == "" {
		return errors.New("PLATESYNC_REMOTE_API_KEY is required")
	}
	return nil
}
