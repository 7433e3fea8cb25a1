package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "./data", config.DataDir)
	assert.Equal(t, "games.heap", config.DBFile)
	assert.Equal(t, 100, config.BTreeOrder)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestSaveAndLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbaidx.yaml")

	original := DefaultConfig()
	original.DataDir = "/var/lib/nbaidx"
	original.BTreeOrder = 64
	original.Logging.Level = "debug"

	require.NoError(t, SaveConfig(original, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, original.DataDir, loaded.DataDir)
	assert.Equal(t, original.BTreeOrder, loaded.BTreeOrder)
	assert.Equal(t, original.Logging.Level, loaded.Logging.Level)
}

func TestSaveConfigUsesSecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbaidx.yaml")

	require.NoError(t, SaveConfig(DefaultConfig(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbaidx.yaml")

	assert.False(t, ConfigExists(path))
	require.NoError(t, SaveConfig(DefaultConfig(), path))
	assert.True(t, ConfigExists(path))
}
