// Package registry maps provider kinds to source adapter factories.
// Adapters register themselves from init, wired into a binary via blank
// imports.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
)

// SourceFactory creates a fresh, unopened source adapter for a provider
// kind. Each pipeline run gets its own instance.
type SourceFactory func() (core.SourceTester, error)

// Registry manages source adapter registration and instantiation
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	logger  *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		logger:  logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source adapter factory for a provider kind
func (r *Registry) RegisterSource(kind string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[kind]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source adapter %s already registered", kind))
	}

	r.sources[kind] = factory
	r.logger.Info("source adapter registered", zap.String("kind", kind))
	return nil
}

// CreateSource creates a source adapter instance for a provider kind
func (r *Registry) CreateSource(kind string) (core.SourceTester, error) {
	r.mu.RLock()
	factory, exists := r.sources[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source adapter %s not found", kind))
	}

	source, err := factory()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source adapter %s", kind))
	}

	return source, nil
}

// ListSources returns the registered provider kinds, sorted
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for kind := range r.sources {
		sources = append(sources, kind)
	}
	sort.Strings(sources)
	return sources
}

// HasSource reports whether an adapter is registered for a kind
func (r *Registry) HasSource(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[kind]
	return ok
}

// Default returns the global registry that adapters register into
// from init.
func Default() *Registry {
	return globalRegistry
}

// RegisterSource registers a factory in the global registry
func RegisterSource(kind string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(kind, factory)
}

// MustRegisterSource registers a factory and panics on duplicates.
// Adapters call this from init.
func MustRegisterSource(kind string, factory SourceFactory) {
	if err := globalRegistry.RegisterSource(kind, factory); err != nil {
		panic(err)
	}
}

// CreateSource creates an adapter from the global registry
func CreateSource(kind string) (core.SourceTester, error) {
	return globalRegistry.CreateSource(kind)
}

// ListSources lists kinds registered in the global registry
func ListSources() []string {
	return globalRegistry.ListSources()
}

// HasSource checks the global registry for a kind
func HasSource(kind string) bool {
	return globalRegistry.HasSource(kind)
}
