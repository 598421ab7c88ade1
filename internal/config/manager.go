// Package config persists user preferences and the provider registry under
// the application home directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the legacy single-provider configuration kept in config.json.
// It predates the multi-provider registry and still drives the runtime
// toggles the slash commands flip.
type Config struct {
	APIKey       string  `json:"api_key,omitempty"`       // key for the active provider
	DefaultModel string  `json:"default_model,omitempty"` // model used at startup
	MaxTokens    int     `json:"max_tokens"`              // completion budget per request
	Temperature  float32 `json:"temperature"`             // sampling temperature
	AutoSave     bool    `json:"auto_save"`               // persist the session after every append
	SafeMode     bool    `json:"safe_mode"`               // block destructive bash commands
	Streaming    bool    `json:"streaming"`               // stream responses token by token
	Autorun      bool    `json:"autorun"`                 // run tools without confirmation
	Toolbox      bool    `json:"toolbox"`                 // expose tools to the model
}

// DefaultConfig returns the settings a fresh installation starts with.
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:   4096,
		Temperature: 0.7,
		AutoSave:    true,
		SafeMode:    true,
		Streaming:   true,
		Autorun:     false,
		Toolbox:     true,
	}
}

// Manager handles loading and saving config.json.
type Manager struct {
	baseDir string
}

// NewManager creates a manager rooted at baseDir (typically ~/.iabuilder).
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Path returns the absolute path to config.json.
func (m *Manager) Path() string {
	return filepath.Join(m.baseDir, "config.json")
}

// Load reads the configuration from disk. A missing file returns the
// defaults; a present file only overrides the fields it names, so absent
// toggles keep their default values.
func (m *Manager) Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(m.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	return cfg, nil
}

// Save writes the configuration with owner-only permissions.
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Exists reports whether config.json has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path())
	return !os.IsNotExist(err)
}
