// Package config loads the settings of the sita binary.
package config

import (
	"fmt"
	"os"
	"time"

	"sita/pkg/config"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type WorkerConfig struct {
	Queue    string        `yaml:"queue"`
	Prefetch int           `yaml:"prefetch"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	RetryTTL time.Duration `yaml:"retry_ttl"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	Store    string              `yaml:"store"`
	Timezone string              `yaml:"timezone"`
	LogLevel string              `yaml:"log_level"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	Server   config.ServerConfig `yaml:"server"`
	LLM      config.LLMConfig    `yaml:"llm"`
	Worker   WorkerConfig        `yaml:"worker"`
	Outbox   OutboxConfig        `yaml:"outbox"`

	// TaskTimeout bounds a single generator call.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// SnapshotMaxAge is how long a user's habit snapshot is served before
	// it is reloaded from the store.
	SnapshotMaxAge time.Duration `yaml:"snapshot_max_age"`
}

// Load merges config/base.yaml, config/<env>.yaml and config/secrets.env,
// then applies environment overrides and defaults.
func Load(env, dir string) (*Config, error) {
	raw, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLLMFromEnv(&cfg.LLM)
	if store := os.Getenv("SITA_STORE"); store != "" {
		cfg.Store = store
	}
	if tz := os.Getenv("SITA_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.JWT.TTL <= 0 {
		c.JWT.TTL = 24 * time.Hour
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
	if c.SnapshotMaxAge <= 0 {
		c.SnapshotMaxAge = 30 * time.Second
	}
	if c.Worker.Queue == "" {
		c.Worker.Queue = "agent_task.queued.q"
	}
	if c.Worker.Prefetch <= 0 {
		c.Worker.Prefetch = 4
	}
	if c.Worker.DedupTTL <= 0 {
		c.Worker.DedupTTL = time.Hour
	}
	if c.Worker.RetryTTL <= 0 {
		c.Worker.RetryTTL = time.Hour
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
}

func (c *Config) validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the zone that defines habit day boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
