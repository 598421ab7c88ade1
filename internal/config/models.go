package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// ModelRegistry caches the model catalog per provider so repeated listings
// do not hit the network.
type ModelRegistry struct {
	mu    sync.Mutex
	cache map[string][]engine.ModelInfo
}

// NewModelRegistry creates an empty catalog cache.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{cache: make(map[string][]engine.ModelInfo)}
}

// Models returns the catalog for p, fetching it on first use. With refresh
// set the cache is bypassed. When the live listing fails the provider's
// static fallback catalog is served uncached, so the next call tries the
// network again; the error surfaces only when no fallback exists.
func (mr *ModelRegistry) Models(ctx context.Context, p engine.Provider, refresh bool) ([]engine.ModelInfo, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	name := p.Name()
	if !refresh {
		if cached, ok := mr.cache[name]; ok {
			return cached, nil
		}
	}

	models, err := p.ListModels(ctx)
	if err != nil {
		if fallback := p.FallbackModels(); len(fallback) > 0 {
			return fallback, nil
		}
		return nil, fmt.Errorf("failed to list models for %s: %w", name, err)
	}

	mr.cache[name] = models
	return models, nil
}

// Invalidate drops the cached catalog for a provider.
func (mr *ModelRegistry) Invalidate(provider string) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.cache, provider)
}
