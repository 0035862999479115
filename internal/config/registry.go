package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/flowspeak/internal/stutter"
	"github.com/MrWong99/flowspeak/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	recognizer map[string]func(ProviderEntry) (stt.Provider, error)
	suggester  map[string]func(ProviderEntry) (stutter.Suggester, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizer: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		suggester:  make(map[string]func(ProviderEntry) (stutter.Suggester, error)),
	}
}

// RegisterRecognizer registers a speech recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizer[name] = factory
}

// RegisterSuggester registers a next-word suggestion backend factory under name.
func (r *Registry) RegisterSuggester(name string, factory func(ProviderEntry) (stutter.Suggester, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suggester[name] = factory
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.recognizer[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognizer/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSuggester instantiates a suggestion backend using the factory
// registered under entry.Name.
func (r *Registry) CreateSuggester(entry ProviderEntry) (stutter.Suggester, error) {
	r.mu.RLock()
	factory, ok := r.suggester[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: suggester/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted names registered for kind ("recognizer" or
// "suggester").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "recognizer":
		for n := range r.recognizer {
			names = append(names, n)
		}
	case "suggester":
		for n := range r.suggester {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
