package config

import (
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/errors"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns an error describing the first validation failure found.
//
// Validation rules:
//   - engine.max_attempts must be at least 1 and pass_threshold within [0,1]
//   - every route, fallback and the default must name a defined endpoint
//   - endpoint types must be openai, ollama or scripted
//   - capability priorities must be within [0,100]
//   - the redis backend needs a redis_url
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ErrConfigNil
	}

	if err := validateEngineConfig(&cfg.Engine); err != nil {
		return err
	}
	if err := validateProvidersConfig(&cfg.Providers); err != nil {
		return err
	}
	if err := validateEvaluationConfig(&cfg.Evaluation, &cfg.Providers); err != nil {
		return err
	}
	if err := validateRegistryConfig(&cfg.Registry); err != nil {
		return err
	}
	if err := validateStorageConfig(&cfg.Storage); err != nil {
		return err
	}
	if cfg.Memory.TopK < 0 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"memory.top_k cannot be negative, got %d", cfg.Memory.TopK)
	}
	return validateCapabilitiesConfig(&cfg.Capabilities)
}

func validateEngineConfig(cfg *EngineConfig) error {
	if cfg.MaxAttempts < 1 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.max_attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.PassThreshold < 0 || cfg.PassThreshold > 1 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.pass_threshold must be between 0 and 1, got %g", cfg.PassThreshold)
	}
	switch constants.FeedbackAttempts(cfg.FeedbackAttempts) {
	case constants.FeedbackIncrement, constants.FeedbackPreserve:
	default:
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.feedback_attempts must be increment or preserve, got %q", cfg.FeedbackAttempts)
	}
	switch constants.ApprovalPrecedence(cfg.ApprovalPrecedence) {
	case constants.PrecedenceApproval, constants.PrecedenceCap:
	default:
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.approval_precedence must be approval or cap, got %q", cfg.ApprovalPrecedence)
	}
	if cfg.PollInterval <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.poll_interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.ProviderTimeout <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"engine.provider_timeout must be positive, got %s", cfg.ProviderTimeout)
	}
	return nil
}

func validateProvidersConfig(cfg *ProvidersConfig) error {
	if len(cfg.Endpoints) == 0 {
		return errors.Wrap(errors.ErrConfigInvalidProvider, "providers.endpoints must define at least one endpoint")
	}
	for id, ep := range cfg.Endpoints {
		switch constants.ProviderType(ep.Type) {
		case constants.ProviderOpenAI, constants.ProviderOllama, constants.ProviderScripted:
		default:
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.endpoints.%s.type %q is not openai, ollama or scripted", id, ep.Type)
		}
		if ep.RateLimit < 0 || ep.Burst < 0 {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.endpoints.%s rate_limit and burst cannot be negative", id)
		}
		if ep.CostPer1KTokens < 0 {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.endpoints.%s.cost_per_1k_tokens cannot be negative", id)
		}
		if ep.Retry.MaxAttempts < 1 {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.endpoints.%s.retry.max_attempts must be at least 1, got %d", id, ep.Retry.MaxAttempts)
		}
		if ep.Retry.Multiplier < 1 {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.endpoints.%s.retry.multiplier must be at least 1, got %g", id, ep.Retry.Multiplier)
		}
	}

	if _, ok := cfg.Endpoints[cfg.Default]; !ok {
		return errors.Wrapf(errors.ErrConfigInvalidProvider,
			"providers.default %q is not a defined endpoint", cfg.Default)
	}
	for category, id := range cfg.Routes {
		if !constants.TaskCategory(category).IsValid() {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.routes has unknown category %q", category)
		}
		if _, ok := cfg.Endpoints[id]; !ok {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.routes.%s routes to undefined endpoint %q", category, id)
		}
	}
	for _, id := range cfg.FallbackOrder {
		if _, ok := cfg.Endpoints[id]; !ok {
			return errors.Wrapf(errors.ErrConfigInvalidProvider,
				"providers.fallback_order names undefined endpoint %q", id)
		}
	}
	return nil
}

func validateEvaluationConfig(cfg *EvaluationConfig, providers *ProvidersConfig) error {
	switch constants.JudgeKind(cfg.Judge) {
	case constants.JudgeHeuristic:
		return nil
	case constants.JudgeProvider:
	default:
		return errors.Wrapf(errors.ErrConfigInvalidEngine,
			"evaluation.judge must be heuristic or provider, got %q", cfg.Judge)
	}
	if cfg.JudgeProvider == "" {
		return nil
	}
	if _, ok := providers.Endpoints[cfg.JudgeProvider]; !ok {
		return errors.Wrapf(errors.ErrConfigInvalidProvider,
			"evaluation.judge_provider %q is not a defined endpoint", cfg.JudgeProvider)
	}
	return nil
}

func validateRegistryConfig(cfg *RegistryConfig) error {
	if cfg.SweepInterval <= 0 {
		return errors.Wrapf(errors.ErrConfigInvalidRegistry,
			"registry.sweep_interval must be positive, got %s", cfg.SweepInterval)
	}
	if cfg.GracePeriod < 0 {
		return errors.Wrapf(errors.ErrConfigInvalidRegistry,
			"registry.grace_period cannot be negative, got %s", cfg.GracePeriod)
	}
	return nil
}

func validateStorageConfig(cfg *StorageConfig) error {
	switch constants.StorageBackend(cfg.Backend) {
	case constants.StorageFile:
		return nil
	case constants.StorageRedis:
		if cfg.RedisURL == "" {
			return errors.Wrap(errors.ErrConfigInvalidStorage,
				"storage.redis_url is required for the redis backend")
		}
		return nil
	default:
		return errors.Wrapf(errors.ErrConfigInvalidStorage,
			"storage.backend must be file or redis, got %q", cfg.Backend)
	}
}

func validateCapabilitiesConfig(cfg *CapabilitiesConfig) error {
	for name, priority := range cfg.Priorities {
		if priority < constants.MinPriority || priority > constants.MaxPriority {
			return errors.Wrapf(errors.ErrConfigInvalidCapability,
				"capabilities.priorities.%s must be between %d and %d, got %d",
				name, constants.MinPriority, constants.MaxPriority, priority)
		}
	}
	return nil
}
