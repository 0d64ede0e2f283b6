// Package registry holds the catalog of available connectors.
// Connector packages register themselves from init functions.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/errors"
	"github.com/crmflow/crmflow/pkg/logger"
)

// SourceFactory builds a source from its raw YAML config section.
type SourceFactory func(rawConfig []byte) (core.Source, error)

// DestinationFactory builds a destination from its raw YAML config section.
type DestinationFactory func(rawConfig []byte) (core.Destination, error)

// Registry maps connector names to factories.
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	mu           sync.RWMutex
	logger       *zap.Logger
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source factory under name.
func (r *Registry) RegisterSource(name string, factory SourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s already registered", name))
	}

	r.sources[name] = factory
	r.logger.Info("source connector registered", zap.String("name", name))
	return nil
}

// RegisterDestination registers a destination factory under name.
func (r *Registry) RegisterDestination(name string, factory DestinationFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.destinations[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s already registered", name))
	}

	r.destinations[name] = factory
	r.logger.Info("destination connector registered", zap.String("name", name))
	return nil
}

// CreateSource instantiates a registered source.
func (r *Registry) CreateSource(name string, rawConfig []byte) (core.Source, error) {
	r.mu.RLock()
	factory, exists := r.sources[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("source connector %s not found", name))
	}

	source, err := factory(rawConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source connector %s", name))
	}
	return source, nil
}

// CreateDestination instantiates a registered destination.
func (r *Registry) CreateDestination(name string, rawConfig []byte) (core.Destination, error) {
	r.mu.RLock()
	factory, exists := r.destinations[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("destination connector %s not found", name))
	}

	destination, err := factory(rawConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create destination connector %s", name))
	}
	return destination, nil
}

// ListSources returns registered source names.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]string, 0, len(r.sources))
	for name := range r.sources {
		sources = append(sources, name)
	}
	return sources
}

// ListDestinations returns registered destination names.
func (r *Registry) ListDestinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	destinations := make([]string, 0, len(r.destinations))
	for name := range r.destinations {
		destinations = append(destinations, name)
	}
	return destinations
}

// HasSource reports whether a source is registered.
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.sources[name]
	return exists
}

// HasDestination reports whether a destination is registered.
func (r *Registry) HasDestination(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.destinations[name]
	return exists
}

// Clear removes all registrations. For tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = make(map[string]SourceFactory)
	r.destinations = make(map[string]DestinationFactory)
}

// Global registry functions.

// RegisterSource registers a source in the global registry.
func RegisterSource(name string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(name, factory)
}

// RegisterDestination registers a destination in the global registry.
func RegisterDestination(name string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(name, factory)
}

// CreateSource creates a source from the global registry.
func CreateSource(name string, rawConfig []byte) (core.Source, error) {
	return globalRegistry.CreateSource(name, rawConfig)
}

// CreateDestination creates a destination from the global registry.
func CreateDestination(name string, rawConfig []byte) (core.Destination, error) {
	return globalRegistry.CreateDestination(name, rawConfig)
}

// ListSources returns sources registered globally.
func ListSources() []string {
	return globalRegistry.ListSources()
}

// ListDestinations returns destinations registered globally.
func ListDestinations() []string {
	return globalRegistry.ListDestinations()
}

// HasSource reports whether a source is registered globally.
func HasSource(name string) bool {
	return globalRegistry.HasSource(name)
}

// HasDestination reports whether a destination is registered globally.
func HasDestination(name string) bool {
	return globalRegistry.HasDestination(name)
}

// GetRegistry returns the global registry.
func GetRegistry() *Registry {
	return globalRegistry
}
