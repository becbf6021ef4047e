package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

// Call outcomes reported to a CallObserver.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
)

// CallObserver receives one notification per provider call.
type CallObserver interface {
	ProviderCall(providerID, outcome string, duration time.Duration)
}

// Outcome describes everything spent on one generation, successful or not.
type Outcome struct {
	Generation *Generation
	ProviderID string
	// Calls counts every provider call, retries and fallbacks included.
	Calls   int
	Usage   domain.TokenUsage
	CostUSD float64
}

// Invoker performs generations through the router.
type Invoker struct {
	registry *Registry
	router   *Router
	logger   zerolog.Logger
	observer CallObserver
	clock    clock.Clock
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout sets the per-call watchdog ceiling.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		i.timeout = d
	}
}

// WithObserver sets the call observer.
func WithObserver(o CallObserver) InvokerOption {
	return func(i *Invoker) {
		i.observer = o
	}
}

// WithClock sets the clock call durations are measured with.
func WithClock(c clock.Clock) InvokerOption {
	return func(i *Invoker) {
		i.clock = c
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) InvokerOption {
	return func(i *Invoker) {
		i.sleep = sleep
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(registry *Registry, router *Router, logger zerolog.Logger, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		registry: registry,
		router:   router,
		logger:   logger,
		clock:    clock.RealClock{},
		timeout:  constants.DefaultProviderTimeout,
		sleep:    sleepContext,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Router returns the router the invoker resolves providers with.
func (i *Invoker) Router() *Router {
	return i.router
}

// Generate produces content for a category. Transient failures are retried
// with the provider's backoff policy; once a provider gives up the fallback
// chain is tried in order. Fatal failures stop immediately. The returned
// Outcome is never nil and accounts for every call made.
//
//nolint:gocognit // retry and fallback loops are inherently nested
func (i *Invoker) Generate(ctx context.Context, category constants.TaskCategory, prompt string, params Parameters) (*Outcome, error) {
	primary := i.router.Resolve(category)
	chain := append([]string{primary}, i.router.FallbackChain(primary)...)
	out := &Outcome{}

	var lastErr error
	for idx, id := range chain {
		gen, err := i.registry.Get(id)
		if err != nil {
			lastErr = err
			i.logger.Warn().Err(err).Str("provider", id).Msg("provider not registered, skipping")
			continue
		}
		route, _ := i.router.Route(id)
		callParams := mergeParams(route.Params, params)
		policy := i.router.RetryPolicy(id)

		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			if err := i.wait(ctx, id, route); err != nil {
				return out, err
			}

			start := i.clock.Now()
			g, err := i.call(ctx, id, gen, prompt, callParams)
			out.Calls++
			if err == nil {
				i.observe(id, OutcomeSuccess, i.clock.Now().Sub(start))
				out.Generation = g
				out.ProviderID = id
				out.Usage = out.Usage.Add(g.Usage)
				out.CostUSD += float64(g.Usage.TotalTokens) / 1000 * route.CostPer1KTokens
				if idx > 0 || attempt > 1 {
					i.logger.Info().
						Str("provider", id).
						Int("attempt", attempt).
						Int("fallback_index", idx).
						Msg("generation succeeded after retry")
				}
				return out, nil
			}

			if ctx.Err() != nil {
				i.observe(id, OutcomeTransient, i.clock.Now().Sub(start))
				return out, ctx.Err()
			}
			if slerrors.IsFatal(err) {
				i.observe(id, OutcomeFatal, i.clock.Now().Sub(start))
				i.logger.Warn().Err(err).Str("provider", id).Msg("fatal provider error, not retrying")
				return out, err
			}
			i.observe(id, OutcomeTransient, i.clock.Now().Sub(start))
			lastErr = err

			if attempt < policy.MaxAttempts {
				delay := policy.Backoff(attempt)
				i.logger.Debug().Err(err).
					Str("provider", id).
					Int("attempt", attempt).
					Int("max_attempts", policy.MaxAttempts).
					Dur("backoff", delay).
					Msg("transient provider error, retrying")
				if err := i.sleep(ctx, delay); err != nil {
					return out, err
				}
			}
		}
		i.logger.Warn().Err(lastErr).Str("provider", id).Int("attempts", policy.MaxAttempts).
			Msg("provider retries exhausted")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: category %s", slerrors.ErrNoProvider, category)
	}
	if errors.Is(lastErr, slerrors.ErrNoProvider) {
		return out, slerrors.NewFatal(primary, lastErr)
	}
	return out, fmt.Errorf("%w: %w", slerrors.ErrProviderExhausted, lastErr)
}

// Complete returns just the generated text for a category.
func (i *Invoker) Complete(ctx context.Context, category constants.TaskCategory, prompt string) (string, error) {
	out, err := i.Generate(ctx, category, prompt, Parameters{})
	if err != nil {
		return "", err
	}
	return out.Generation.Content, nil
}

// call runs one generate call under the watchdog and classifies the result.
func (i *Invoker) call(ctx context.Context, id string, gen Generator, prompt string, params Parameters) (*Generation, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	g, err := gen.Generate(callCtx, prompt, params)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, slerrors.NewTransient(id, fmt.Errorf("call exceeded %s: %w", i.timeout, err))
		}
		return nil, classify(id, err)
	}
	if g == nil || strings.TrimSpace(g.Content) == "" {
		return nil, slerrors.NewTransient(id, slerrors.ErrEmptyGeneration)
	}
	return g, nil
}

func (i *Invoker) wait(ctx context.Context, id string, route Route) error {
	if route.RequestsPerSecond <= 0 {
		return nil
	}
	i.mu.Lock()
	lim, ok := i.limiters[id]
	if !ok {
		burst := route.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(route.RequestsPerSecond), burst)
		i.limiters[id] = lim
	}
	i.mu.Unlock()
	return lim.Wait(ctx)
}

func (i *Invoker) observe(id, outcome string, d time.Duration) {
	if i.observer != nil {
		i.observer.ProviderCall(id, outcome, d)
	}
}

// classify leaves classified errors alone and treats everything else as
// transient, except context cancellation which is fatal for the call.
func classify(id string, err error) error {
	var pe *slerrors.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return slerrors.NewFatal(id, err)
	}
	return slerrors.NewTransient(id, err)
}

func mergeParams(base, override Parameters) Parameters {
	out := base
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != 0 {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		out.MaxTokens = override.MaxTokens
	}
	if override.System != "" {
		out.System = override.System
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
