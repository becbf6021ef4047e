package config

import (
	"github.com/mrz1836/storyloom/internal/constants"
)

// DefaultConfig returns a new Config with default values. These are the base
// layer that config files, environment variables and CLI flags override.
//
// The default provider is the scripted generator so a fresh install can run
// a dry session without any credentials.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxAttempts:        constants.DefaultMaxAttempts,
			PassThreshold:      constants.DefaultPassThreshold,
			FeedbackAttempts:   string(constants.FeedbackIncrement),
			ApprovalPrecedence: string(constants.PrecedenceApproval),
			PollInterval:       constants.DefaultPollInterval,
			ProviderTimeout:    constants.DefaultProviderTimeout,
		},
		Providers: ProvidersConfig{
			Default: string(constants.ProviderScripted),
			Endpoints: map[string]EndpointConfig{
				string(constants.ProviderScripted): {
					Type:  string(constants.ProviderScripted),
					Retry: DefaultRetry(),
				},
			},
		},
		Evaluation: EvaluationConfig{
			Judge: string(constants.JudgeHeuristic),
		},
		Registry: RegistryConfig{
			SweepInterval: constants.DefaultSweepInterval,
			GracePeriod:   constants.DefaultGracePeriod,
		},
		Storage: StorageConfig{
			Backend:   string(constants.StorageFile),
			KeyPrefix: constants.DefaultRedisKeyPrefix,
		},
		Memory: MemoryConfig{
			TopK: constants.DefaultMemoryTopK,
		},
		Events: EventsConfig{
			SubjectPrefix: constants.DefaultSubjectPrefix,
		},
	}
}

// DefaultRetry returns the default provider retry policy.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: constants.DefaultProviderAttempts,
		BaseDelay:   constants.DefaultBaseBackoff,
		Multiplier:  constants.DefaultBackoffMultiplier,
		MaxDelay:    constants.MaxBackoff,
	}
}
