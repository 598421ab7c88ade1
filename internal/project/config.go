// Package project reads per-workspace settings from a .iabuilder directory
// at the repository root: a config file and a free-form rules file that is
// appended to the system prompt.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Dir is the per-workspace settings directory.
	Dir = ".iabuilder"
	// ConfigFile holds the workspace configuration.
	ConfigFile = "config.json"
	// RulesFile holds custom instructions for the agent.
	RulesFile = "rules"
)

// Config is the per-workspace configuration. Zero values keep every feature
// on, so an empty file changes nothing.
type Config struct {
	// IndexingDisabled turns off the project file index for workspaces
	// where scanning or watching is too expensive.
	IndexingDisabled bool `json:"indexing_disabled,omitempty"`
}

func configPath(root string) string {
	return filepath.Join(root, Dir, ConfigFile)
}

func rulesPath(root string) string {
	return filepath.Join(root, Dir, RulesFile)
}

// Load reads the workspace configuration. A missing file yields nil and no
// error.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(configPath(root))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}
	return &cfg, nil
}

// Save writes the workspace configuration, creating the settings directory
// on first use.
func Save(root string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Join(root, Dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}
	if err := os.WriteFile(configPath(root), data, 0644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}
	return nil
}

// Rules reads the custom rules file. A missing file yields "" and no error.
func Rules(root string) (string, error) {
	data, err := os.ReadFile(rulesPath(root))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
