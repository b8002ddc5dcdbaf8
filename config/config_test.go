package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Queue.MaxConcurrent != 4 {
		t.Errorf("expected max_concurrent 4, got %d", config.Queue.MaxConcurrent)
	}
	if !config.Queue.AutoStart {
		t.Error("expected auto_start true by default")
	}
	if config.Persistence.MaxBackups != 3 {
		t.Errorf("expected max_backups 3, got %d", config.Persistence.MaxBackups)
	}
	if config.Tickets.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", config.Tickets.Backend)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"zero max_concurrent", func(c *Config) { c.Queue.MaxConcurrent = 0 }, true},
		{"negative max_backups", func(c *Config) { c.Persistence.MaxBackups = -1 }, true},
		{"empty snapshot path", func(c *Config) { c.Persistence.Path = "" }, true},
		{"unknown ticket backend", func(c *Config) { c.Tickets.Backend = "postgres" }, true},
		{"nats backend without url", func(c *Config) {
			c.Tickets.Backend = "nats"
			c.Tickets.NATSURL = ""
		}, true},
		{"zero question timeout", func(c *Config) { c.Orchestrator.QuestionTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	config := DefaultConfig()
	config.Queue.MaxConcurrent = 8
	config.Persistence.AutoSaveInterval = time.Minute
	config.Tickets.Backend = "nats"

	if err := config.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Queue.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", loaded.Queue.MaxConcurrent)
	}
	if loaded.Persistence.AutoSaveInterval != time.Minute {
		t.Errorf("expected auto_save_interval 1m, got %v", loaded.Persistence.AutoSaveInterval)
	}
	if loaded.Tickets.Backend != "nats" {
		t.Errorf("expected nats backend, got %q", loaded.Tickets.Backend)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Queue:       QueueConfig{MaxConcurrent: 16, AutoStart: true},
		Persistence: PersistenceConfig{Path: "custom/queue.json"},
		Tickets:     TicketsConfig{NATSURL: "nats://remote:4222"},
	}

	base.Merge(override)

	if base.Queue.MaxConcurrent != 16 {
		t.Errorf("expected merged max_concurrent 16, got %d", base.Queue.MaxConcurrent)
	}
	if base.Persistence.Path != "custom/queue.json" {
		t.Errorf("expected merged path, got %q", base.Persistence.Path)
	}
	if base.Tickets.NATSURL != "nats://remote:4222" {
		t.Errorf("expected merged nats url, got %q", base.Tickets.NATSURL)
	}
	// Untouched fields keep their defaults.
	if base.Persistence.MaxBackups != 3 {
		t.Errorf("merge must not clobber max_backups, got %d", base.Persistence.MaxBackups)
	}
}

func TestMerge_Nil(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	if base.Queue.MaxConcurrent != 4 {
		t.Error("merging nil must not change the config")
	}
}

func TestLoader_ProjectOverridesUser(t *testing.T) {
	workDir := t.TempDir()

	project := DefaultConfig()
	project.Queue.MaxConcurrent = 2
	projectPath := filepath.Join(workDir, ProjectConfigDir, ConfigFileName)
	if err := project.SaveToFile(projectPath); err != nil {
		t.Fatalf("failed to write project config: %v", err)
	}

	loader := NewLoader(workDir)
	loader.userConfigPath = "" // isolate from the real home dir

	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Queue.MaxConcurrent != 2 {
		t.Errorf("expected project max_concurrent 2, got %d", config.Queue.MaxConcurrent)
	}
}

func TestLoader_EnvOverridesFiles(t *testing.T) {
	workDir := t.TempDir()

	project := DefaultConfig()
	project.Tickets.NATSURL = "nats://project:4222"
	projectPath := filepath.Join(workDir, ProjectConfigDir, ConfigFileName)
	if err := project.SaveToFile(projectPath); err != nil {
		t.Fatalf("failed to write project config: %v", err)
	}

	t.Setenv("TASKFLOW_NATS_URL", "nats://env:4222")

	loader := NewLoader(workDir)
	loader.userConfigPath = ""

	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Tickets.NATSURL != "nats://env:4222" {
		t.Errorf("env override must win, got %q", config.Tickets.NATSURL)
	}
}

func TestLoader_UnparseableProjectConfig(t *testing.T) {
	workDir := t.TempDir()
	projectPath := filepath.Join(workDir, ProjectConfigDir, ConfigFileName)
	if err := os.MkdirAll(filepath.Dir(projectPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(projectPath, []byte(":::not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(workDir)
	loader.userConfigPath = ""

	if _, err := loader.Load(); err == nil {
		t.Error("expected error for unparseable project config")
	}
}
