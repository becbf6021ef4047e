// Package config provides configuration management for storyloom with layered precedence.
//
// Configuration sources are loaded in the following order (highest precedence first):
//  1. CLI flags (passed via LoadWithOverrides)
//  2. Environment variables (STORYLOOM_* prefix)
//  3. Project config (.storyloom/config.yaml)
//  4. Global config (~/.storyloom/config.yaml)
//  5. Built-in defaults
//
// Each higher level completely overrides the lower level for the same key.
//
// IMPORTANT: This package may import internal/constants and internal/errors,
// but MUST NOT import internal/domain or other internal packages.
package config

import "time"

// Config is the root configuration structure for storyloom.
type Config struct {
	// Engine tunes the execution loop and per-session defaults.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Providers describes the content generators and how categories route to them.
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`

	// Evaluation selects the judge that scores generated content.
	Evaluation EvaluationConfig `yaml:"evaluation" mapstructure:"evaluation"`

	// Registry controls how long finished sessions stay registered.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// Storage selects where sessions and task results are persisted.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Memory tunes semantic context lookup.
	Memory MemoryConfig `yaml:"memory" mapstructure:"memory"`

	// Events configures the NATS event bus used by serve.
	Events EventsConfig `yaml:"events" mapstructure:"events"`

	// Capabilities enables, disables and reprioritizes capabilities.
	Capabilities CapabilitiesConfig `yaml:"capabilities" mapstructure:"capabilities"`
}

// EngineConfig contains execution loop settings.
type EngineConfig struct {
	// MaxAttempts is the default attempt budget of each task.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// PassThreshold is the evaluation score a result needs to pass, in [0,1].
	// Default: 0.7
	PassThreshold float64 `yaml:"pass_threshold" mapstructure:"pass_threshold"`

	// ApprovalMode requires a human decision before a task counts as completed.
	ApprovalMode bool `yaml:"approval_mode" mapstructure:"approval_mode"`

	// FeedbackAttempts is "increment" or "preserve".
	FeedbackAttempts string `yaml:"feedback_attempts" mapstructure:"feedback_attempts"`

	// ApprovalPrecedence is "approval" or "cap".
	ApprovalPrecedence string `yaml:"approval_precedence" mapstructure:"approval_precedence"`

	// PollInterval bounds how long an idle loop waits before re-checking control flags.
	// Default: 2 seconds
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// ProviderTimeout is the watchdog for a single provider call.
	// Default: 120 seconds
	ProviderTimeout time.Duration `yaml:"provider_timeout" mapstructure:"provider_timeout"`
}

// ProvidersConfig describes generators and routing.
type ProvidersConfig struct {
	// Default is the provider used for categories without a route.
	Default string `yaml:"default" mapstructure:"default"`

	// Routes maps task categories to provider ids.
	Routes map[string]string `yaml:"routes,omitempty" mapstructure:"routes"`

	// FallbackOrder lists providers tried after the routed one exhausts its retries.
	FallbackOrder []string `yaml:"fallback_order,omitempty" mapstructure:"fallback_order"`

	// Endpoints maps provider ids to their connection settings.
	Endpoints map[string]EndpointConfig `yaml:"endpoints" mapstructure:"endpoints"`
}

// EndpointConfig describes one provider endpoint.
type EndpointConfig struct {
	// Type is "openai", "ollama" or "scripted".
	Type string `yaml:"type" mapstructure:"type"`

	Model   string `yaml:"model,omitempty" mapstructure:"model"`
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`

	// APIKeyEnv names the environment variable that holds the API key.
	// Keys are never stored in config files.
	APIKeyEnv string `yaml:"api_key_env,omitempty" mapstructure:"api_key_env"`

	Temperature float64 `yaml:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" mapstructure:"max_tokens"`

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Burst     int     `yaml:"burst,omitempty" mapstructure:"burst"`

	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens,omitempty" mapstructure:"cost_per_1k_tokens"`

	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig is a provider's retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

// EvaluationConfig selects the judge.
type EvaluationConfig struct {
	// Judge is "heuristic" or "provider".
	Judge string `yaml:"judge" mapstructure:"judge"`

	// JudgeProvider is the endpoint a provider judge asks. Empty uses the default provider.
	JudgeProvider string `yaml:"judge_provider,omitempty" mapstructure:"judge_provider"`
}

// RegistryConfig contains session registry settings.
type RegistryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	GracePeriod   time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "file" or "redis".
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Dir is the file store root. Empty uses ~/.storyloom.
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`

	RedisURL string `yaml:"redis_url,omitempty" mapstructure:"redis_url"`

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
}

// MemoryConfig tunes semantic memory.
type MemoryConfig struct {
	// TopK is how many related facts are pulled into a prompt.
	TopK int `yaml:"top_k" mapstructure:"top_k"`

	// Dir persists memory collections to disk; empty keeps them in memory.
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`
}

// EventsConfig configures the NATS bus.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url,omitempty" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// CapabilitiesConfig adjusts the built-in capability set.
type CapabilitiesConfig struct {
	// Disabled lists capability names to turn off.
	Disabled []string `yaml:"disabled,omitempty" mapstructure:"disabled"`

	// Priorities overrides capability priorities, in [0,100].
	Priorities map[string]int `yaml:"priorities,omitempty" mapstructure:"priorities"`

	// TimelineAllowGaps lets a chapter follow a skipped chapter.
	TimelineAllowGaps bool `yaml:"timeline_allow_gaps" mapstructure:"timeline_allow_gaps"`
}
