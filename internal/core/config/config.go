package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Queue     QueueConfig     `koanf:"queue"`
	Consumer  ConsumerConfig  `koanf:"consumer"`
	Retention RetentionConfig `koanf:"retention"`
	Query     QueryConfig     `koanf:"query"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// QueueConfig addresses the NATS JetStream broker carrying the tag stream.
type QueueConfig struct {
	URL        string `koanf:"url"`
	Topic      string `koanf:"topic"`
	QueueGroup string `koanf:"queue_group"`
	StreamName string `koanf:"stream_name"`
}

// ConsumerConfig controls the aggregation engine workers.
type ConsumerConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Subscribers int    `koanf:"subscribers"`
	MaxRetries  uint64 `koanf:"max_retries"`      // store retries per event before halting
	RetryBase   string `koanf:"retry_base"`       // initial backoff, e.g. "100ms"
	AckWait     string `koanf:"ack_wait_timeout"` // JetStream redelivery window
}

// RetentionConfig controls the watermark-anchored GC sweep.
type RetentionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Window        string `koanf:"window"`         // e.g. "24h"
	SweepInterval string `koanf:"sweep_interval"` // e.g. "5m"
}

// QueryConfig controls the aggregate read path.
type QueryConfig struct {
	Budget          string `koanf:"budget"` // server-side time budget, e.g. "60s"
	ScanConcurrency int    `koanf:"scan_concurrency"`
}

func (c ConsumerConfig) RetryBaseDuration() (time.Duration, error) {
	return time.ParseDuration(c.RetryBase)
}

func (c ConsumerConfig) AckWaitDuration() (time.Duration, error) {
	return time.ParseDuration(c.AckWait)
}

func (c RetentionConfig) WindowDuration() (time.Duration, error) {
	return time.ParseDuration(c.Window)
}

func (c RetentionConfig) SweepIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.SweepInterval)
}

func (c QueryConfig) BudgetDuration() (time.Duration, error) {
	return time.ParseDuration(c.Budget)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if strings.TrimSpace(c.Queue.URL) == "" {
		return fmt.Errorf("queue.url is required")
	}
	if strings.TrimSpace(c.Queue.Topic) == "" {
		return fmt.Errorf("queue.topic is required")
	}
	if strings.TrimSpace(c.Queue.QueueGroup) == "" {
		return fmt.Errorf("queue.queue_group is required")
	}

	if c.Consumer.Subscribers <= 0 {
		return fmt.Errorf("consumer.subscribers must be > 0")
	}
	if d, err := c.Consumer.RetryBaseDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid consumer.retry_base %q", c.Consumer.RetryBase)
	}
	if d, err := c.Consumer.AckWaitDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid consumer.ack_wait_timeout %q", c.Consumer.AckWait)
	}

	if d, err := c.Retention.WindowDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid retention.window %q", c.Retention.Window)
	}
	if d, err := c.Retention.SweepIntervalDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid retention.sweep_interval %q", c.Retention.SweepInterval)
	}

	if d, err := c.Query.BudgetDuration(); err != nil || d <= 0 {
		return fmt.Errorf("invalid query.budget %q", c.Query.Budget)
	}
	if c.Query.ScanConcurrency <= 0 {
		return fmt.Errorf("query.scan_concurrency must be > 0")
	}

	return nil
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":               8080,
		"server.host":               "0.0.0.0",
		"server.max_body_size_mb":   1,
		"server.mode":               "release",
		"database.dsn":              "",
		"database.max_open_conns":   25,
		"database.max_idle_conns":   25,
		"database.auto_migrate":     true,
		"queue.url":                 "nats://localhost:4222",
		"queue.topic":               "user_tags",
		"queue.queue_group":         "tagsift-consumers",
		"queue.stream_name":         "",
		"consumer.enabled":          true,
		"consumer.subscribers":      8,
		"consumer.max_retries":      5,
		"consumer.retry_base":       "100ms",
		"consumer.ack_wait_timeout": "30s",
		"retention.enabled":         true,
		"retention.window":          "24h",
		"retention.sweep_interval":  "5m",
		"query.budget":              "60s",
		"query.scan_concurrency":    10,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TAGSIFT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TAGSIFT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
