package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/storyloom/internal/constants"
)

func TestGlobalConfigDir_UsesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := GlobalConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, constants.StoryloomHome), dir)

	path, err := GlobalConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, constants.StoryloomHome, "config.yaml"), path)
}

func TestProjectConfigPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join(".storyloom", "config.yaml"), ProjectConfigPath())
}

func TestStorageConfig_DataDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	explicit := StorageConfig{Dir: "/srv/stories"}
	dir, err := explicit.DataDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/stories", dir)

	var implicit StorageConfig
	dir, err = implicit.DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, constants.StoryloomHome), dir)
}
