package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	HTTPPort         string        `env:"HTTP_PORT" envDefault:"8080"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"json"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"weather_chat.db"`
	DemoUserID  string `env:"DEMO_USER_ID" envDefault:"demo-user"`

	// Weather agent
	AgentURL           string        `env:"AGENT_URL" envDefault:"https://millions-screeching-vultur.mastra.cloud/api/agents/weatherAgent/stream"`
	AgentRunID         string        `env:"AGENT_RUN_ID" envDefault:"weatherAgent"`
	AgentResourceID    string        `env:"AGENT_RESOURCE_ID" envDefault:"weatherAgent"`
	AgentMaxRetries    int           `env:"AGENT_MAX_RETRIES" envDefault:"2"`
	AgentMaxSteps      int           `env:"AGENT_MAX_STEPS" envDefault:"5"`
	AgentTemperature   float64       `env:"AGENT_TEMPERATURE" envDefault:"0.5"`
	AgentTopP          float64       `env:"AGENT_TOP_P" envDefault:"1"`
	AgentDefaultThread string        `env:"AGENT_DEFAULT_THREAD" envDefault:"demo-thread"`
	AgentHeaderTimeout time.Duration `env:"AGENT_HEADER_TIMEOUT" envDefault:"60s"`

	// Relay
	RelayMaxConcurrent int64         `env:"RELAY_MAX_CONCURRENT" envDefault:"32"`
	RelayQueueTimeout  time.Duration `env:"RELAY_QUEUE_TIMEOUT" envDefault:"5s"`

	// Realtime
	WSTypingRate  float64 `env:"WS_TYPING_RATE" envDefault:"5"`
	WSTypingBurst int     `env:"WS_TYPING_BURST" envDefault:"10"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.StoreDriver) {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	if c.AgentURL == "" {
		return errors.New("AGENT_URL must not be empty")
	}
	if c.DemoUserID == "" {
		return errors.New("DEMO_USER_ID must not be empty")
	}
	if c.RelayMaxConcurrent < 1 {
		return fmt.Errorf("RELAY_MAX_CONCURRENT must be at least 1, got %d", c.RelayMaxConcurrent)
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.HTTPPort
}
