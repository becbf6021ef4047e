package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/clock"
	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/engine"
	"github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/evaluation"
	"github.com/mrz1836/storyloom/internal/events"
	"github.com/mrz1836/storyloom/internal/memory"
	"github.com/mrz1836/storyloom/internal/metrics"
	"github.com/mrz1836/storyloom/internal/provider"
	"github.com/mrz1836/storyloom/internal/session"
	"github.com/mrz1836/storyloom/internal/store"
)

// defaultOpenAIKeyEnv is read when an openai endpoint names no api_key_env.
const defaultOpenAIKeyEnv = "OPENAI_API_KEY"

// runtime holds every collaborator a command needs, built from config.
type runtime struct {
	cfg          *config.Config
	logger       zerolog.Logger
	store        store.Store
	memory       *memory.Store
	hub          *events.Hub
	invoker      *provider.Invoker
	capabilities *capability.Registry
	metrics      *metrics.Prometheus
	registry     *session.Registry
	closers      []func() error
}

type runtimeOptions struct {
	publishers []events.Publisher
	clock      clock.Clock
}

// runtimeOption customizes newRuntime.
type runtimeOption func(*runtimeOptions)

// withPublisher forwards every event to p in addition to the local hub.
func withPublisher(p events.Publisher) runtimeOption {
	return func(o *runtimeOptions) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// withClock replaces the wall clock.
func withClock(c clock.Clock) runtimeOption {
	return func(o *runtimeOptions) {
		o.clock = c
	}
}

// newRuntime wires storage, memory, providers, evaluation, capabilities and
// the session registry. Close releases what it opened.
func newRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...runtimeOption) (*runtime, error) {
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.RealClock{}
	}

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		hub:     events.NewHub(logger),
	}

	st, closeStore, err := openStore(ctx, &cfg.Storage)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = st
	if closeStore != nil {
		rt.closers = append(rt.closers, closeStore)
	}

	mem, err := openMemory(cfg.Memory, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.memory = mem

	providers, router, err := buildProviders(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.invoker = provider.NewInvoker(providers, router, logger,
		provider.WithTimeout(cfg.Engine.ProviderTimeout),
		provider.WithObserver(rt.metrics),
		provider.WithClock(o.clock),
	)

	rt.capabilities, err = buildCapabilities(cfg.Capabilities, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	publisher := events.Multi(append([]events.Publisher{rt.hub}, o.publishers...))
	rt.registry = session.NewRegistry(sessionConfig(cfg), session.Deps{
		Generator:    rt.invoker,
		Evaluator:    buildEvaluator(cfg.Evaluation, rt.invoker, o.clock, logger),
		Store:        rt.store,
		Memory:       rt.memory,
		Events:       publisher,
		Capabilities: rt.capabilities,
		Metrics:      rt.metrics,
		Clock:        o.clock,
		Logger:       logger,
	})

	return rt, nil
}

// Close releases the event hub and any open connections.
func (rt *runtime) Close() {
	rt.hub.Close()
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn().Err(err).Msg("closing runtime resource")
		}
	}
	rt.closers = nil
}

// openStore returns the configured persistence backend and its closer.
func openStore(ctx context.Context, cfg *config.StorageConfig) (store.Store, func() error, error) {
	switch constants.StorageBackend(cfg.Backend) {
	case constants.StorageRedis:
		var opts []store.RedisOption
		if cfg.KeyPrefix != "" {
			opts = append(opts, store.WithKeyPrefix(cfg.KeyPrefix))
		}
		rs := store.NewRedisStore(cfg.RedisURL, opts...)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("failed to reach redis storage: %w", err)
		}
		return rs, rs.Close, nil
	case constants.StorageFile, "":
		dir, err := cfg.DataDir()
		if err != nil {
			return nil, nil, err
		}
		fs, err := store.NewFileStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create file storage: %w", err)
		}
		return fs, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown storage backend %q", errors.ErrConfigInvalidStorage, cfg.Backend)
	}
}

func openMemory(cfg config.MemoryConfig, logger zerolog.Logger) (*memory.Store, error) {
	if cfg.Dir == "" {
		return memory.New(logger), nil
	}
	return memory.Open(cfg.Dir, logger)
}

// buildProviders creates a generator per endpoint and the router over them.
func buildProviders(cfg *config.Config) (*provider.Registry, *provider.Router, error) {
	ids := make([]string, 0, len(cfg.Providers.Endpoints))
	for id := range cfg.Providers.Endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	registry := provider.NewRegistry()
	routes := make([]provider.Route, 0, len(ids))
	for _, id := range ids {
		ep := cfg.Providers.Endpoints[id]
		gen, err := newGenerator(id, ep)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(id, gen)
		routes = append(routes, provider.Route{
			ProviderID: id,
			Params: provider.Parameters{
				Model:       ep.Model,
				Temperature: ep.Temperature,
				MaxTokens:   ep.MaxTokens,
			},
			Policy: provider.RetryPolicy{
				MaxAttempts: ep.Retry.MaxAttempts,
				BaseDelay:   ep.Retry.BaseDelay,
				Multiplier:  ep.Retry.Multiplier,
				MaxDelay:    ep.Retry.MaxDelay,
			},
			CostPer1KTokens:   ep.CostPer1KTokens,
			RequestsPerSecond: ep.RateLimit,
			Burst:             ep.Burst,
		})
	}

	categories := make(map[constants.TaskCategory]string, len(cfg.Providers.Routes)+1)
	for category, id := range cfg.Providers.Routes {
		categories[constants.TaskCategory(category)] = id
	}
	// A provider judge asks its endpoint through the evaluation route.
	if constants.JudgeKind(cfg.Evaluation.Judge) == constants.JudgeProvider && cfg.Evaluation.JudgeProvider != "" {
		if _, routed := categories[constants.CategoryEvaluation]; !routed {
			categories[constants.CategoryEvaluation] = cfg.Evaluation.JudgeProvider
		}
	}

	router := provider.NewRouter(provider.RouterConfig{
		Default:       cfg.Providers.Default,
		Categories:    categories,
		Providers:     routes,
		FallbackOrder: cfg.Providers.FallbackOrder,
	})
	return registry, router, nil
}

func newGenerator(id string, ep config.EndpointConfig) (provider.Generator, error) {
	switch constants.ProviderType(ep.Type) {
	case constants.ProviderOpenAI:
		keyEnv := ep.APIKeyEnv
		if keyEnv == "" {
			keyEnv = defaultOpenAIKeyEnv
		}
		return provider.NewOpenAI(id, provider.OpenAIConfig{
			APIKey:  os.Getenv(keyEnv),
			BaseURL: ep.BaseURL,
			Model:   ep.Model,
		}), nil
	case constants.ProviderOllama:
		gen, err := provider.NewOllama(id, provider.OllamaConfig{
			BaseURL: ep.BaseURL,
			Model:   ep.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		return gen, nil
	case constants.ProviderScripted:
		return provider.NewScripted(), nil
	default:
		return nil, fmt.Errorf("%w: endpoint %s has unknown type %q", errors.ErrConfigInvalidProvider, id, ep.Type)
	}
}

// buildEvaluator returns the configured judge with the heuristic judge as
// fallback when a provider judge answers badly.
func buildEvaluator(cfg config.EvaluationConfig, completer evaluation.Completer, clk clock.Clock, logger zerolog.Logger) *evaluation.Engine {
	heuristic := evaluation.HeuristicJudge{}
	if constants.JudgeKind(cfg.Judge) == constants.JudgeProvider {
		return evaluation.NewEngine(evaluation.NewProviderJudge(completer), logger,
			evaluation.WithFallback(heuristic),
			evaluation.WithClock(clk),
		)
	}
	return evaluation.NewEngine(heuristic, logger, evaluation.WithClock(clk))
}

// buildCapabilities registers the built-ins and applies config overrides.
func buildCapabilities(cfg config.CapabilitiesConfig, logger zerolog.Logger) (*capability.Registry, error) {
	registry := capability.NewRegistry(logger)
	if err := capability.RegisterBuiltins(registry, capability.WithTimelineGaps(cfg.TimelineAllowGaps)); err != nil {
		return nil, err
	}
	for _, name := range cfg.Disabled {
		if err := registry.Disable(name); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrConfigInvalidCapability, err)
		}
	}

	names := make([]string, 0, len(cfg.Priorities))
	for name := range cfg.Priorities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := registry.SetPriority(name, cfg.Priorities[name]); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrConfigInvalidCapability, err)
		}
	}
	return registry, nil
}

// sessionConfig maps the engine and registry sections onto the registry config.
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Engine: engine.Config{
			FeedbackAttempts:   constants.FeedbackAttempts(cfg.Engine.FeedbackAttempts),
			ApprovalPrecedence: constants.ApprovalPrecedence(cfg.Engine.ApprovalPrecedence),
			PollInterval:       cfg.Engine.PollInterval,
			MemoryTopK:         cfg.Memory.TopK,
		},
		MaxAttempts:   cfg.Engine.MaxAttempts,
		PassThreshold: cfg.Engine.PassThreshold,
		ApprovalMode:  cfg.Engine.ApprovalMode,
		SweepInterval: cfg.Registry.SweepInterval,
		GracePeriod:   cfg.Registry.GracePeriod,
	}
}
