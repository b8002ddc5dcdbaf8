package config

import (
	"os"
	"path/filepath"
)

const (
	// UserConfigDir is the per-user config directory under $HOME.
	UserConfigDir = ".taskflow"
	// ConfigFileName is the config file name at both layers.
	ConfigFileName = "config.yaml"
	// ProjectConfigDir is the per-project config directory.
	ProjectConfigDir = ".taskflow"
)

// Loader loads configuration with layered precedence:
// defaults < user config < project config < environment overrides.
type Loader struct {
	userConfigPath    string
	projectConfigPath string
}

// NewLoader creates a Loader rooted at the given working directory.
func NewLoader(workDir string) *Loader {
	l := &Loader{}

	if home, err := os.UserHomeDir(); err == nil {
		l.userConfigPath = filepath.Join(home, UserConfigDir, ConfigFileName)
	}
	if workDir != "" {
		l.projectConfigPath = filepath.Join(workDir, ProjectConfigDir, ConfigFileName)
	}

	return l
}

// Load resolves the effective configuration. Missing layer files are
// skipped; a present but unparseable file is an error.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	if l.userConfigPath != "" {
		if _, err := os.Stat(l.userConfigPath); err == nil {
			user, err := LoadFromFile(l.userConfigPath)
			if err != nil {
				return nil, err
			}
			config.Merge(user)
		}
	}

	if l.projectConfigPath != "" {
		if _, err := os.Stat(l.projectConfigPath); err == nil {
			project, err := LoadFromFile(l.projectConfigPath)
			if err != nil {
				return nil, err
			}
			config.Merge(project)
		}
	}

	l.applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides. These win
// over every file layer so deployments can steer without editing files.
func (l *Loader) applyEnvOverrides(config *Config) {
	if url := os.Getenv("TASKFLOW_NATS_URL"); url != "" {
		config.Tickets.NATSURL = url
	} else if url := os.Getenv("NATS_URL"); url != "" {
		config.Tickets.NATSURL = url
	}
	if path := os.Getenv("TASKFLOW_SNAPSHOT_PATH"); path != "" {
		config.Persistence.Path = path
	}
	if addr := os.Getenv("TASKFLOW_METRICS_ADDR"); addr != "" {
		config.Protocol.MetricsAddr = addr
	}
}

// EnsureUserConfig writes a default user config file if none exists,
// so users have a template to edit.
func EnsureUserConfig() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	path := filepath.Join(home, UserConfigDir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", err
	}
	return path, nil
}
