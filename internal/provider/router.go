package provider

import (
	"math"
	"time"

	"github.com/mrz1836/storyloom/internal/constants"
)

// RetryPolicy bounds how often and how patiently a provider is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, first call included.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// MaxDelay caps any single delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns five attempts with exponential backoff capped at 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: constants.DefaultProviderAttempts,
		BaseDelay:   constants.DefaultBaseBackoff,
		Multiplier:  constants.DefaultBackoffMultiplier,
		MaxDelay:    constants.MaxBackoff,
	}
}

// normalized fills zero fields with defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay <= 0 || p.MaxDelay > constants.MaxBackoff {
		p.MaxDelay = constants.MaxBackoff
	}
	return p
}

// Backoff returns the delay before retry number retry (1-based):
// BaseDelay * Multiplier^(retry-1), capped at MaxDelay.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	p = p.normalized()
	if retry < 1 {
		retry = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if delay > float64(p.MaxDelay) || math.IsInf(delay, 1) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Route is one provider binding.
type Route struct {
	// ProviderID is the generator id.
	ProviderID string
	// Params are the default parameters for this provider.
	Params Parameters
	// Policy is the provider's retry policy.
	Policy RetryPolicy
	// CostPer1KTokens estimates spend.
	CostPer1KTokens float64
	// RequestsPerSecond limits call rate; zero disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter burst size.
	Burst int
}

// Router maps task categories to providers. It holds no mutable state after
// construction and is safe for concurrent use.
type Router struct {
	categories map[constants.TaskCategory]string
	fallback   string
	providers  map[string]Route
	chains     map[string][]string
}

// RouterConfig describes a Router.
type RouterConfig struct {
	// Default is the provider used for unrouted categories.
	Default string
	// Categories maps categories to provider ids.
	Categories map[constants.TaskCategory]string
	// Providers describes every known provider.
	Providers []Route
	// FallbackOrder lists providers tried, in order, after the routed
	// provider exhausts its retries.
	FallbackOrder []string
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		categories: make(map[constants.TaskCategory]string, len(cfg.Categories)),
		fallback:   cfg.Default,
		providers:  make(map[string]Route, len(cfg.Providers)),
		chains:     make(map[string][]string),
	}
	for _, p := range cfg.Providers {
		p.Policy = p.Policy.normalized()
		r.providers[p.ProviderID] = p
	}
	for cat, id := range cfg.Categories {
		r.categories[cat] = id
	}
	for _, p := range cfg.Providers {
		var chain []string
		for _, id := range cfg.FallbackOrder {
			if id != p.ProviderID {
				chain = append(chain, id)
			}
		}
		r.chains[p.ProviderID] = chain
	}
	return r
}

// Resolve returns the provider id for a category. Categories without a
// route, or routed to an unknown provider, resolve to the default.
func (r *Router) Resolve(category constants.TaskCategory) string {
	if id, ok := r.categories[category]; ok {
		if _, known := r.providers[id]; known {
			return id
		}
	}
	return r.fallback
}

// RetryPolicy returns the retry policy of a provider.
func (r *Router) RetryPolicy(providerID string) RetryPolicy {
	if p, ok := r.providers[providerID]; ok {
		return p.Policy
	}
	return DefaultRetryPolicy()
}

// Route returns the full binding of a provider.
func (r *Router) Route(providerID string) (Route, bool) {
	p, ok := r.providers[providerID]
	return p, ok
}

// FallbackChain returns the providers to try after providerID gives up.
func (r *Router) FallbackChain(providerID string) []string {
	return append([]string(nil), r.chains[providerID]...)
}
