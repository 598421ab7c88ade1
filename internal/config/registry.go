package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ProviderConfig describes one configured provider account.
type ProviderConfig struct {
	Name         string            `json:"name"`
	APIKey       string            `json:"api_key"`
	BaseURL      string            `json:"base_url,omitempty"`
	DefaultModel string            `json:"default_model,omitempty"`
	Enabled      bool              `json:"enabled"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// registryFile is the on-disk shape of providers.json.
type registryFile struct {
	Active    string                    `json:"active,omitempty"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// Registry stores provider credentials in providers.json. At most one
// provider is active at a time, and an active name always refers to a
// configured provider.
type Registry struct {
	baseDir   string
	active    string
	providers map[string]ProviderConfig
}

// LoadRegistry reads providers.json from baseDir. A missing file yields an
// empty registry.
func LoadRegistry(baseDir string) (*Registry, error) {
	r := &Registry{
		baseDir:   baseDir,
		providers: make(map[string]ProviderConfig),
	}

	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read provider registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider registry: %w", err)
	}
	if file.Providers != nil {
		r.providers = file.Providers
	}
	if _, ok := r.providers[file.Active]; ok {
		r.active = file.Active
	}
	return r, nil
}

// Path returns the absolute path to providers.json.
func (r *Registry) Path() string {
	return filepath.Join(r.baseDir, "providers.json")
}

// Set adds or replaces a provider entry. The first provider added becomes
// the active one.
func (r *Registry) Set(pc ProviderConfig) error {
	name := normaliseProviderName(pc.Name)
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	pc.Name = name
	r.providers[name] = pc
	if r.active == "" {
		r.active = name
	}
	return r.save()
}

// Remove deletes a provider entry. Removing the active provider promotes
// the first remaining provider in name order, or clears the active slot
// when none remain.
func (r *Registry) Remove(name string) error {
	name = normaliseProviderName(name)
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	delete(r.providers, name)
	if r.active == name {
		r.active = ""
		if names := r.Names(); len(names) > 0 {
			r.active = names[0]
		}
	}
	return r.save()
}

// SetActive switches the active provider. The name must already be
// configured.
func (r *Registry) SetActive(name string) error {
	name = normaliseProviderName(name)
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not configured", name)
	}
	r.active = name
	return r.save()
}

// Active returns the active provider entry, if any. Environment overrides
// are applied the same way Get applies them.
func (r *Registry) Active() (ProviderConfig, bool) {
	if r.active == "" {
		return ProviderConfig{}, false
	}
	return r.Get(r.active)
}

// ActiveName returns the name of the active provider, or "".
func (r *Registry) ActiveName() string {
	return r.active
}

// Get returns a provider entry by name. A <PROVIDER>_API_KEY environment
// variable overrides the stored key at read time without persisting it.
func (r *Registry) Get(name string) (ProviderConfig, bool) {
	pc, ok := r.providers[normaliseProviderName(name)]
	if !ok {
		return ProviderConfig{}, false
	}
	if env := os.Getenv(strings.ToUpper(pc.Name) + "_API_KEY"); env != "" {
		pc.APIKey = env
	}
	return pc, true
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all configured providers sorted by name, with environment
// overrides applied.
func (r *Registry) List() []ProviderConfig {
	names := r.Names()
	list := make([]ProviderConfig, 0, len(names))
	for _, name := range names {
		pc, _ := r.Get(name)
		list = append(list, pc)
	}
	return list
}

// SeedLegacy migrates a pre-registry config.json API key into the registry
// as a groq entry. It is a no-op when the registry already has providers or
// the key is empty.
func (r *Registry) SeedLegacy(apiKey, defaultModel string) error {
	if len(r.providers) > 0 || apiKey == "" {
		return nil
	}
	return r.Set(ProviderConfig{
		Name:         "groq",
		APIKey:       apiKey,
		DefaultModel: defaultModel,
		Enabled:      true,
	})
}

func (r *Registry) save() error {
	if err := os.MkdirAll(r.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}

	file := registryFile{Active: r.active, Providers: r.providers}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal provider registry: %w", err)
	}

	if err := os.WriteFile(r.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write provider registry: %w", err)
	}
	return nil
}

func normaliseProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
