// Package provider routes generation work to content providers.
//
// The Router is a stateless category -> provider lookup with retry policies.
// The Invoker drives a single generation through the routed provider with
// rate limiting, a per-call watchdog, bounded exponential backoff on
// transient failures and an optional fallback chain.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Parameters tune a single generation.
type Parameters struct {
	// Model overrides the generator's default model.
	Model string
	// Temperature is the sampling temperature; zero leaves the default.
	Temperature float64
	// MaxTokens bounds the completion; zero leaves the default.
	MaxTokens int
	// System is an optional system instruction.
	System string
}

// Generation is the output of a successful generate call.
type Generation struct {
	Content string
	Model   string
	Usage   domain.TokenUsage
}

// Generator is the contract every provider implements. Implementations
// classify failures with errors.NewTransient / errors.NewFatal; unclassified
// errors are treated as transient.
type Generator interface {
	Generate(ctx context.Context, prompt string, params Parameters) (*Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string, params Parameters) (*Generation, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, params Parameters) (*Generation, error) {
	return f(ctx, prompt, params)
}

// Registry maps provider ids to generators. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates an empty generator registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator. An existing generator with the same id is replaced.
func (r *Registry) Register(id string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[id] = g
}

// Get returns the generator registered under id.
func (r *Registry) Get(id string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.generators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", slerrors.ErrNoProvider, id)
	}
	return g, nil
}

// Has reports whether a generator is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.generators[id]
	return ok
}
