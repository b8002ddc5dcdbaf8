// Package config provides configuration loading and management for
// taskflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete taskflow configuration.
type Config struct {
	Queue        QueueConfig        `yaml:"queue"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Protocol     ProtocolConfig     `yaml:"protocol"`
	Tickets      TicketsConfig      `yaml:"tickets"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// QueueConfig bounds admission for the execution plan engine.
type QueueConfig struct {
	// MaxConcurrent caps simultaneously in-progress tasks.
	MaxConcurrent int `yaml:"max_concurrent"`
	// AutoStart moves dependency-free tasks straight to ready.
	AutoStart bool `yaml:"auto_start"`
}

// PersistenceConfig configures the snapshot store.
type PersistenceConfig struct {
	// Path is the canonical snapshot file (default .taskflow/queue.json).
	Path string `yaml:"path"`
	// MaxBackups is the rotating backup chain length (0 disables).
	MaxBackups int `yaml:"max_backups"`
	// AutoSaveInterval is the periodic snapshot interval.
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`
}

// ProtocolConfig configures the agent-facing protocol server.
type ProtocolConfig struct {
	// SocketPath is the unix socket the JSON-RPC server listens on.
	// Empty means serve on stdio.
	SocketPath string `yaml:"socket_path"`
	// MetricsAddr is the optional Prometheus /metrics listen address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// TicketsConfig configures the ticket storage collaborator.
type TicketsConfig struct {
	// Backend is "memory" or "nats".
	Backend string `yaml:"backend"`
	// NATSURL is the NATS server URL for the nats backend.
	NATSURL string `yaml:"nats_url"`
}

// OrchestratorConfig bounds orchestrator-level timeouts.
type OrchestratorConfig struct {
	// TaskTimeout is the maximum time a pulled task may run before it
	// is considered stuck.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// QuestionTimeout bounds how long askQuestion waits for an answer.
	QuestionTimeout time.Duration `yaml:"question_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			MaxConcurrent: 4,
			AutoStart:     true,
		},
		Persistence: PersistenceConfig{
			Path:             filepath.Join(".taskflow", "queue.json"),
			MaxBackups:       3,
			AutoSaveInterval: 30 * time.Second,
		},
		Protocol: ProtocolConfig{
			SocketPath:  "",
			MetricsAddr: "",
		},
		Tickets: TicketsConfig{
			Backend: "memory",
			NATSURL: "nats://localhost:4222",
		},
		Orchestrator: OrchestratorConfig{
			TaskTimeout:     30 * time.Minute,
			QuestionTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be positive")
	}
	if c.Persistence.Path == "" {
		return fmt.Errorf("persistence.path is required")
	}
	if c.Persistence.MaxBackups < 0 {
		return fmt.Errorf("persistence.max_backups must not be negative")
	}
	if c.Persistence.AutoSaveInterval <= 0 {
		return fmt.Errorf("persistence.auto_save_interval must be positive")
	}
	switch c.Tickets.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("tickets.backend must be memory or nats, got %q", c.Tickets.Backend)
	}
	if c.Tickets.Backend == "nats" && c.Tickets.NATSURL == "" {
		return fmt.Errorf("tickets.nats_url is required for the nats backend")
	}
	if c.Orchestrator.QuestionTimeout <= 0 {
		return fmt.Errorf("orchestrator.question_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence
// for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Queue.MaxConcurrent != 0 {
		c.Queue.MaxConcurrent = other.Queue.MaxConcurrent
	}
	c.Queue.AutoStart = other.Queue.AutoStart

	if other.Persistence.Path != "" {
		c.Persistence.Path = other.Persistence.Path
	}
	if other.Persistence.MaxBackups != 0 {
		c.Persistence.MaxBackups = other.Persistence.MaxBackups
	}
	if other.Persistence.AutoSaveInterval != 0 {
		c.Persistence.AutoSaveInterval = other.Persistence.AutoSaveInterval
	}

	if other.Protocol.SocketPath != "" {
		c.Protocol.SocketPath = other.Protocol.SocketPath
	}
	if other.Protocol.MetricsAddr != "" {
		c.Protocol.MetricsAddr = other.Protocol.MetricsAddr
	}

	if other.Tickets.Backend != "" {
		c.Tickets.Backend = other.Tickets.Backend
	}
	if other.Tickets.NATSURL != "" {
		c.Tickets.NATSURL = other.Tickets.NATSURL
	}

	if other.Orchestrator.TaskTimeout != 0 {
		c.Orchestrator.TaskTimeout = other.Orchestrator.TaskTimeout
	}
	if other.Orchestrator.QuestionTimeout != 0 {
		c.Orchestrator.QuestionTimeout = other.Orchestrator.QuestionTimeout
	}
}
