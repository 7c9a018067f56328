package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/hushgate/pkg/provider/moderation"
	"github.com/MrWong99/hushgate/pkg/provider/transcription"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	moderation    map[string]func(ProviderEntry) (moderation.Provider, error)
	transcription map[string]func(ProviderEntry) (transcription.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		moderation:    make(map[string]func(ProviderEntry) (moderation.Provider, error)),
		transcription: make(map[string]func(ProviderEntry) (transcription.Provider, error)),
	}
}

// RegisterModeration registers a moderation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterModeration(name string, factory func(ProviderEntry) (moderation.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moderation[name] = factory
}

// RegisterTranscription registers a transcription provider factory under name.
func (r *Registry) RegisterTranscription(name string, factory func(ProviderEntry) (transcription.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcription[name] = factory
}

// CreateModeration instantiates a moderation provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateModeration(entry ProviderEntry) (moderation.Provider, error) {
	r.mu.RLock()
	factory, ok := r.moderation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: moderation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscription instantiates a transcription provider using the factory
// registered under entry.Name.
func (r *Registry) CreateTranscription(entry ProviderEntry) (transcription.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcription[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{
		"moderation":    sortedKeys(r.moderation),
		"transcription": sortedKeys(r.transcription),
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
