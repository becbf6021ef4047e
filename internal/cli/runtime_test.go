package cli

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/capability"
	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
	"github.com/mrz1836/storyloom/internal/errors"
	"github.com/mrz1836/storyloom/internal/store"
)

func TestNewRuntime_Defaults(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t, testConfig(t))

	require.NotNil(t, rt.registry)
	require.NotNil(t, rt.invoker)
	require.NotNil(t, rt.memory)
	assert.IsType(t, &store.FileStore{}, rt.store)
	assert.Len(t, rt.capabilities.List(), len(capability.Builtins()))
	assert.Equal(t, 0, rt.registry.Len())
}

func TestNewRuntime_RedisBackend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Backend = string(constants.StorageRedis)
	cfg.Storage.RedisURL = "redis://" + mr.Addr()

	rt := newTestRuntime(t, cfg)
	assert.IsType(t, &store.RedisStore{}, rt.store)
	assert.Len(t, rt.closers, 1)
}

func TestNewRuntime_RedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Storage.Backend = string(constants.StorageRedis)
	cfg.Storage.RedisURL = "redis://" + addr

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := newRuntime(ctx, cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach redis storage")
}

func TestNewRuntime_ConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "unknown storage backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "s3" },
			wantErr: errors.ErrConfigInvalidStorage,
		},
		{
			name: "unknown endpoint type",
			mutate: func(c *config.Config) {
				c.Providers.Endpoints["mystery"] = config.EndpointConfig{Type: "carrier-pigeon"}
			},
			wantErr: errors.ErrConfigInvalidProvider,
		},
		{
			name:    "disabling an unknown capability",
			mutate:  func(c *config.Config) { c.Capabilities.Disabled = []string{"telepathy"} },
			wantErr: errors.ErrConfigInvalidCapability,
		},
		{
			name: "priority for an unknown capability",
			mutate: func(c *config.Config) {
				c.Capabilities.Priorities = map[string]int{"telepathy": 10}
			},
			wantErr: errors.ErrConfigInvalidCapability,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			tc.mutate(cfg)
			_, err := newRuntime(context.Background(), cfg, zerolog.Nop())
			require.Error(t, err)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestBuildCapabilities_Overrides(t *testing.T) {
	t.Parallel()

	registry, err := buildCapabilities(config.CapabilitiesConfig{
		Disabled:   []string{capability.NameDialogueVoice},
		Priorities: map[string]int{capability.NameTimeline: 99},
	}, zerolog.Nop())
	require.NoError(t, err)

	infos := make(map[string]capability.Info)
	for _, info := range registry.List() {
		infos[info.Name] = info
	}
	assert.False(t, infos[capability.NameDialogueVoice].Enabled)
	assert.True(t, infos[capability.NameTimeline].Enabled)
	assert.Equal(t, 99, infos[capability.NameTimeline].Priority)
	assert.Equal(t, capability.NameTimeline, registry.List()[0].Name)
}

func TestBuildProviders_JudgeRoute(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.Endpoints["critic"] = config.EndpointConfig{Type: string(constants.ProviderScripted)}
	cfg.Evaluation.Judge = string(constants.JudgeProvider)
	cfg.Evaluation.JudgeProvider = "critic"

	registry, router, err := buildProviders(cfg)
	require.NoError(t, err)
	assert.True(t, registry.Has("critic"))
	assert.True(t, registry.Has(string(constants.ProviderScripted)))
	assert.Equal(t, "critic", router.Resolve(constants.CategoryEvaluation))
	assert.Equal(t, string(constants.ProviderScripted), router.Resolve(constants.CategoryChapterContent))
}

func TestBuildProviders_ExplicitEvaluationRouteWins(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Providers.Endpoints["critic"] = config.EndpointConfig{Type: string(constants.ProviderScripted)}
	cfg.Providers.Routes = map[string]string{string(constants.CategoryEvaluation): string(constants.ProviderScripted)}
	cfg.Evaluation.Judge = string(constants.JudgeProvider)
	cfg.Evaluation.JudgeProvider = "critic"

	_, router, err := buildProviders(cfg)
	require.NoError(t, err)
	assert.Equal(t, string(constants.ProviderScripted), router.Resolve(constants.CategoryEvaluation))
}

func TestNewGenerator_OpenAIKeyFallback(t *testing.T) {
	t.Setenv(defaultOpenAIKeyEnv, "test-key")

	gen, err := newGenerator("gpt", config.EndpointConfig{Type: string(constants.ProviderOpenAI), Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.NotNil(t, gen)
}

func TestSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Engine.MaxAttempts = 4
	cfg.Engine.PassThreshold = 0.6
	cfg.Engine.ApprovalMode = true
	cfg.Engine.FeedbackAttempts = string(constants.FeedbackPreserve)
	cfg.Engine.ApprovalPrecedence = string(constants.PrecedenceCap)
	cfg.Memory.TopK = 7
	cfg.Registry.GracePeriod = time.Minute

	sc := sessionConfig(cfg)
	assert.Equal(t, 4, sc.MaxAttempts)
	assert.InDelta(t, 0.6, sc.PassThreshold, 1e-9)
	assert.True(t, sc.ApprovalMode)
	assert.Equal(t, constants.FeedbackPreserve, sc.Engine.FeedbackAttempts)
	assert.Equal(t, constants.PrecedenceCap, sc.Engine.ApprovalPrecedence)
	assert.Equal(t, 7, sc.Engine.MemoryTopK)
	assert.Equal(t, 20*time.Millisecond, sc.Engine.PollInterval)
	assert.Equal(t, time.Minute, sc.GracePeriod)
}

func TestBuildCapabilities_TimelineAllowGaps(t *testing.T) {
	t.Parallel()

	others := []string{
		capability.NameCharacterContinuity, capability.NameWorldRules, capability.NameForeshadow,
		capability.NameSceneAtmosphere, capability.NameDialogueVoice,
	}
	in := capability.TaskInput{
		SessionID: "s1",
		Goal:      testGoal(3),
		Task:      &domain.Task{ID: "chapter-003-outline", Category: constants.CategoryChapterOutline, ChapterIndex: 3},
		Skipped:   map[string]bool{"chapter-002-polish": true},
	}

	tests := []struct {
		name      string
		allowGaps bool
		wantVeto  bool
	}{
		{name: "gaps vetoed by default", wantVeto: true},
		{name: "gaps allowed", allowGaps: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			registry, err := buildCapabilities(config.CapabilitiesConfig{
				Disabled:          others,
				TimelineAllowGaps: tc.allowGaps,
			}, zerolog.Nop())
			require.NoError(t, err)

			_, err = registry.Snapshot().BeforeTask(context.Background(), in)
			if tc.wantVeto {
				require.ErrorIs(t, err, errors.ErrCapabilityVeto)
				return
			}
			require.NoError(t, err)
		})
	}
}
