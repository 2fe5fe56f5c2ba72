package parser

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownParser is returned by Get for names that were never registered.
var ErrUnknownParser = errors.New("unknown parser")

// Registry holds the parsers available to an importer. It is populated
// explicitly at startup and safe for concurrent reads.
type Registry struct {
	mu       sync.RWMutex
	order    []Parser
	byName   map[string]Parser
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Parser)}
}

// Register adds p. Names must be unique.
func (r *Registry) Register(p Parser) error {
	name := p.Descriptor().Name
	if name == "" {
		return fmt.Errorf("Register: parser has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("Register: parser %q already registered", name)
	}
	r.byName[name] = p
	r.order = append(r.order, p)
	return nil
}

// SetFallback names the parser used when detection finds no candidate.
func (r *Registry) SetFallback(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("SetFallback: %w: %s", ErrUnknownParser, name)
	}
	r.fallback = name
	return nil
}

// Fallback returns the configured fallback parser, or nil.
func (r *Registry) Fallback() Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return nil
	}
	return r.byName[r.fallback]
}

// Get returns the parser registered under name.
func (r *Registry) Get(name string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParser, name)
	}
	return p, nil
}

// All returns the parsers in registration order.
func (r *Registry) All() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Parser, len(r.order))
	copy(out, r.order)
	return out
}

// Describe returns every parser's descriptor in registration order.
func (r *Registry) Describe() []Descriptor {
	all := r.All()
	out := make([]Descriptor, 0, len(all))
	for _, p := range all {
		out = append(out, p.Descriptor())
	}
	return out
}
