package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket_path: /tmp/custom.sock\nworker_pool_max: 16\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, 16, cfg.WorkerPoolMax)
	assert.Equal(t, Default().WorkerPoolMin, cfg.WorkerPoolMin)
}

func TestValidateRejectsInvertedPoolBounds(t *testing.T) {
	cfg := Default()
	cfg.WorkerPoolMin = 10
	cfg.WorkerPoolMax = 2
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := Default()
	cfg.SocketPath = ""
	assert.Error(t, cfg.Validate())
}
