package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultUsesXDGCacheHomeWhenSet(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/xdg-cache")

	cfg, err := Default("5.1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/xdg-cache", "lux"), cfg.CacheDir)
	assert.Equal(t, DefaultRegistryURL, cfg.RegistryURL)
	assert.Equal(t, "lux_modules", cfg.TreeRoot)
	assert.Equal(t, "5.1", cfg.LuaVersion)
	assert.NotNil(t, cfg.HTTPClient)
	assert.NotNil(t, cfg.Logger)
	assert.False(t, cfg.Logger.Verbose)
	assert.NotNil(t, cfg.Sink)
}

func TestDefaultFallsBackToHomeCacheDirWithoutXDG(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Default("5.4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache", "lux"), cfg.CacheDir)
}
