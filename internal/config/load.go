package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/errors"
)

// newViperInstance creates a Viper instance with the STORYLOOM_ environment
// prefix, the key replacer and every default registered.
func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// isConfigNotFoundError returns true if the error is a viper config file not found error.
func isConfigNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var configNotFoundErr viper.ConfigFileNotFoundError
	return stderrors.As(err, &configNotFoundErr)
}

// unmarshalAndValidate unmarshals viper config into Config and validates it.
func unmarshalAndValidate(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	fillEndpointDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}

// Load reads configuration from all available sources with proper precedence.
// Configuration is loaded in the following order (highest precedence first):
//  1. Environment variables (STORYLOOM_* prefix)
//  2. Project config (.storyloom/config.yaml)
//  3. Global config (~/.storyloom/config.yaml)
//  4. Built-in defaults
//
// Missing config files are not an error. For CLI flag overrides use
// LoadWithOverrides.
func Load(ctx context.Context) (*Config, error) {
	v := newViperInstance()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(v); err != nil {
		return nil, err
	}

	cfg, err := unmarshalAndValidate(v)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().Str("component", "config").Logger()
	logger.Debug().
		Str("providers.default", cfg.Providers.Default).
		Str("storage.backend", cfg.Storage.Backend).
		Str("evaluation.judge", cfg.Evaluation.Judge).
		Float64("engine.pass_threshold", cfg.Engine.PassThreshold).
		Msg("configuration loaded")

	return cfg, nil
}

// loadGlobalConfig loads ~/.storyloom/config.yaml when it exists.
func loadGlobalConfig(v *viper.Viper) error {
	globalConfigPath, ok := getGlobalConfigPathIfExists()
	if !ok {
		return nil
	}

	v.SetConfigFile(globalConfigPath)
	if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrap(err, "failed to read global config file")
	}
	return nil
}

func getGlobalConfigPathIfExists() (string, bool) {
	globalDir, err := GlobalConfigDir()
	if err != nil {
		return "", false
	}

	globalConfigPath := filepath.Join(globalDir, constants.GlobalConfigName)
	if !fileExists(globalConfigPath) {
		return "", false
	}
	return globalConfigPath, true
}

// loadProjectConfig merges .storyloom/config.yaml over the global layer.
func loadProjectConfig(v *viper.Viper) error {
	projectConfigPath := ProjectConfigPath()
	if !fileExists(projectConfigPath) {
		return nil
	}

	v.SetConfigFile(projectConfigPath)
	if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) {
		return errors.Wrap(err, "failed to read project config file")
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadWithOverrides loads configuration and applies CLI flag overrides,
// which have the highest precedence. Only non-zero override values are
// applied.
func LoadWithOverrides(ctx context.Context, overrides *Config) (*Config, error) {
	cfg, err := Load(ctx)
	if err != nil {
		return nil, err
	}

	if overrides != nil {
		applyOverrides(cfg, overrides)
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration after overrides")
	}
	return cfg, nil
}

// LoadFromPaths loads configuration from specific files. Either path can be
// empty to skip that layer.
func LoadFromPaths(_ context.Context, projectConfigPath, globalConfigPath string) (*Config, error) {
	v := newViperInstance()

	if globalConfigPath != "" {
		v.SetConfigFile(globalConfigPath)
		if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read global config: %s", globalConfigPath)
		}
	}

	if projectConfigPath != "" {
		v.SetConfigFile(projectConfigPath)
		if err := v.MergeInConfig(); err != nil && !isConfigNotFoundError(err) && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read project config: %s", projectConfigPath)
		}
	}

	return unmarshalAndValidate(v)
}

// setDefaults registers every default on the Viper instance. Keys must match
// the mapstructure tags exactly.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("engine.max_attempts", def.Engine.MaxAttempts)
	v.SetDefault("engine.pass_threshold", def.Engine.PassThreshold)
	v.SetDefault("engine.approval_mode", def.Engine.ApprovalMode)
	v.SetDefault("engine.feedback_attempts", def.Engine.FeedbackAttempts)
	v.SetDefault("engine.approval_precedence", def.Engine.ApprovalPrecedence)
	v.SetDefault("engine.poll_interval", def.Engine.PollInterval.String())
	v.SetDefault("engine.provider_timeout", def.Engine.ProviderTimeout.String())

	v.SetDefault("providers.default", def.Providers.Default)
	v.SetDefault("providers.routes", map[string]string{})
	v.SetDefault("providers.fallback_order", []string{})
	v.SetDefault("providers.endpoints", map[string]any{
		string(constants.ProviderScripted): map[string]any{"type": string(constants.ProviderScripted)},
	})

	v.SetDefault("evaluation.judge", def.Evaluation.Judge)
	v.SetDefault("evaluation.judge_provider", "")

	v.SetDefault("registry.sweep_interval", def.Registry.SweepInterval.String())
	v.SetDefault("registry.grace_period", def.Registry.GracePeriod.String())

	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.dir", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.key_prefix", def.Storage.KeyPrefix)

	v.SetDefault("memory.top_k", def.Memory.TopK)
	v.SetDefault("memory.dir", "")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", def.Events.SubjectPrefix)

	v.SetDefault("capabilities.disabled", []string{})
	v.SetDefault("capabilities.priorities", map[string]int{})
	v.SetDefault("capabilities.timeline_allow_gaps", false)
}

// fillEndpointDefaults completes retry policies the files left partial.
func fillEndpointDefaults(cfg *Config) {
	def := DefaultRetry()
	for id, ep := range cfg.Providers.Endpoints {
		if ep.Type == "" {
			ep.Type = id
		}
		if ep.Retry.MaxAttempts == 0 {
			ep.Retry.MaxAttempts = def.MaxAttempts
		}
		if ep.Retry.BaseDelay == 0 {
			ep.Retry.BaseDelay = def.BaseDelay
		}
		if ep.Retry.Multiplier == 0 {
			ep.Retry.Multiplier = def.Multiplier
		}
		if ep.Retry.MaxDelay == 0 {
			ep.Retry.MaxDelay = def.MaxDelay
		}
		cfg.Providers.Endpoints[id] = ep
	}
}

// applyOverrides merges non-zero override values into the config.
//
// ApprovalMode is a bool and cannot be overridden to false here because the
// zero value is indistinguishable from "not set". CLI commands handle it with
// cmd.Flags().Changed.
func applyOverrides(cfg, overrides *Config) {
	applyEngineOverrides(cfg, overrides)

	if overrides.Providers.Default != "" {
		cfg.Providers.Default = overrides.Providers.Default
	}
	if overrides.Evaluation.Judge != "" {
		cfg.Evaluation.Judge = overrides.Evaluation.Judge
	}
	if overrides.Storage.Backend != "" {
		cfg.Storage.Backend = overrides.Storage.Backend
	}
	if overrides.Storage.Dir != "" {
		cfg.Storage.Dir = overrides.Storage.Dir
	}
	if overrides.Storage.RedisURL != "" {
		cfg.Storage.RedisURL = overrides.Storage.RedisURL
	}
	if overrides.Events.NATSURL != "" {
		cfg.Events.NATSURL = overrides.Events.NATSURL
	}
	if len(overrides.Capabilities.Disabled) > 0 {
		cfg.Capabilities.Disabled = overrides.Capabilities.Disabled
	}
}

func applyEngineOverrides(cfg, overrides *Config) {
	if overrides.Engine.MaxAttempts != 0 {
		cfg.Engine.MaxAttempts = overrides.Engine.MaxAttempts
	}
	if overrides.Engine.PassThreshold != 0 {
		cfg.Engine.PassThreshold = overrides.Engine.PassThreshold
	}
	if overrides.Engine.ApprovalMode {
		cfg.Engine.ApprovalMode = true
	}
	if overrides.Engine.FeedbackAttempts != "" {
		cfg.Engine.FeedbackAttempts = overrides.Engine.FeedbackAttempts
	}
	if overrides.Engine.ApprovalPrecedence != "" {
		cfg.Engine.ApprovalPrecedence = overrides.Engine.ApprovalPrecedence
	}
	if overrides.Engine.PollInterval != 0 {
		cfg.Engine.PollInterval = overrides.Engine.PollInterval
	}
	if overrides.Engine.ProviderTimeout != 0 {
		cfg.Engine.ProviderTimeout = overrides.Engine.ProviderTimeout
	}
}

// viperDecoderOption converts duration strings and comma-separated lists.
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)
}
