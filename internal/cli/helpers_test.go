package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/config"
	"github.com/mrz1836/storyloom/internal/constants"
	"github.com/mrz1836/storyloom/internal/domain"
)

// testConfig returns defaults pointed at a temp data dir. A zero pass
// threshold lets every scripted draft through on the first attempt.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Engine.PassThreshold = 0
	cfg.Engine.PollInterval = 20 * time.Millisecond
	return cfg
}

func newTestRuntime(t *testing.T, cfg *config.Config, opts ...runtimeOption) *runtime {
	t.Helper()
	rt, err := newRuntime(context.Background(), cfg, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func testGoal(chapters int) domain.Goal {
	return domain.Goal{
		Title:           "The Lighthouse Keeper",
		Genre:           "gothic mystery",
		Mode:            constants.ModeNovel,
		Chapters:        chapters,
		WordsPerChapter: 200,
	}
}

func writeGoalFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// isolateHome points HOME and the working directory at empty temp dirs so
// config loading only sees defaults. Tests using it cannot run in parallel.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(homeEnvVar, filepath.Join(home, constants.StoryloomHome))
	t.Chdir(t.TempDir())
	return home
}

const lighthouseGoal = `title: The Lighthouse Keeper
genre: gothic mystery
chapters: 2
words_per_chapter: 200
requirements:
  - an unreliable narrator
`
