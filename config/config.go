package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"auto_blog_publisher/generator"
	"auto_blog_publisher/scheduler"
)

const (
	defaultTimezone = "UTC"
	envPrefix       = "BLOGPUB_"
)

// Config holds the settings shared by every command.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mongo     MongoConfig     `yaml:"mongo"`
	NATS      NATSConfig      `yaml:"nats"`
	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Publisher PublisherConfig `yaml:"publisher"`
	Logging   LoggingConfig   `yaml:"logging"`
	Timezone  string          `yaml:"timezone"`

	location *time.Location
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// CronSecret authorizes the cron endpoint; empty leaves it open to
	// account-authenticated callers only.
	CronSecret string `yaml:"cron_secret"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// NATSConfig enables the JetStream trigger when URL is set.
type NATSConfig struct {
	URL          string        `yaml:"url"`
	TickInterval time.Duration `yaml:"tick_interval"`
	AckWait      time.Duration `yaml:"ack_wait"`
}

type LLMConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKeyHeader string  `yaml:"api_key_header"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
}

type SchedulerConfig struct {
	Throttle    time.Duration `yaml:"throttle"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Cooldown    time.Duration `yaml:"cooldown"`
	MaxAttempts int           `yaml:"max_attempts"`
	ClaimLease  time.Duration `yaml:"claim_lease"`
}

type PublisherConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path over the defaults and then applies
// BLOGPUB_* environment overrides. An empty path uses defaults and
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Default() Config {
	defaults := scheduler.DefaultConfig()
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "blog_publisher",
		},
		NATS: NATSConfig{
			TickInterval: 5 * time.Minute,
			AckWait:      15 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Scheduler: SchedulerConfig{
			Throttle:    defaults.Throttle,
			RetryDelay:  defaults.RetryDelay,
			Cooldown:    defaults.Cooldown,
			MaxAttempts: defaults.MaxAttempts,
			ClaimLease:  defaults.ClaimLease,
		},
		Publisher: PublisherConfig{Timeout: 30 * time.Second},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Timezone:  defaultTimezone,
	}
}

func (c *Config) applyEnvOverrides() {
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	c.Server.CronSecret = getEnv("CRON_SECRET", c.Server.CronSecret)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.TickInterval = getDurationEnv("TICK_INTERVAL", c.NATS.TickInterval)
	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.Scheduler.MaxAttempts = getIntEnv("MAX_ATTEMPTS", c.Scheduler.MaxAttempts)
	c.Scheduler.ClaimLease = getDurationEnv("CLAIM_LEASE", c.Scheduler.ClaimLease)
	c.Publisher.Timeout = getDurationEnv("PUBLISH_TIMEOUT", c.Publisher.Timeout)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Timezone = getEnv("TIMEZONE", c.Timezone)
}

func (c *Config) validate() error {
	if c.Mongo.URI == "" {
		return errors.New("config: mongo.uri is required")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("config: scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}
	tz := c.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", tz, err)
	}
	c.location = loc
	return nil
}

// Location is the zone monthly quota windows are computed in.
func (c Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	return time.UTC
}

func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Throttle:    c.Scheduler.Throttle,
		RetryDelay:  c.Scheduler.RetryDelay,
		Cooldown:    c.Scheduler.Cooldown,
		MaxAttempts: c.Scheduler.MaxAttempts,
		ClaimLease:  c.Scheduler.ClaimLease,
	}
}

// LLMSettings returns the shared generation settings; the API key comes
// from each account.
func (c Config) LLMSettings() generator.LLMSettings {
	return generator.LLMSettings{
		Provider:     c.LLM.Provider,
		Model:        c.LLM.Model,
		BaseURL:      c.LLM.BaseURL,
		APIKeyHeader: c.LLM.APIKeyHeader,
		Temperature:  c.LLM.Temperature,
		MaxTokens:    c.LLM.MaxTokens,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
