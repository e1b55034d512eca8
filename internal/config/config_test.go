package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PStryder/SEGFAULT/internal/config"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 20, cfg.GridSize)
	require.Equal(t, 80, cfg.WallCount)
	require.Equal(t, 16, cfg.ShardPopulationCap)
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segfault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid_size: 30\nwall_count: 50\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.GridSize)
	require.Equal(t, 50, cfg.WallCount)
}

func TestNormalizeClampsInvalidValuesToSafeDefaults(t *testing.T) {
	cfg := config.Config{GridSize: -5, TickCadence: config.TickCadence{MinSeconds: 10, MaxSeconds: 5}}
	cfg.Normalize()
	require.Equal(t, 20, cfg.GridSize)
	require.Equal(t, 10, cfg.TickCadence.MaxSeconds)
}

func TestValidateRejectsImplausibleWallCount(t *testing.T) {
	cfg := config.Config{GridSize: 5, WallCount: 1000}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := config.Config{GridSize: 20, WallCount: 80}
	require.NoError(t, cfg.Validate())
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
