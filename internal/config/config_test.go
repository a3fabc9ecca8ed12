package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/test"
)

func TestApplyDefaultAndFile(t *testing.T) {
	config.Use(config.Default())
	t.Cleanup(func() { config.Use(config.Default()) })

	assert.InDelta(t, 30.0, config.Active().Analysis.MostConsumingPercent, 1e-9)

	root := test.RootPath(t)
	require.NoError(t, config.Apply(filepath.Join(root, "samples", "config.example.yaml")))

	cfg := config.Active()
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Server.CacheTTL)
	assert.InDelta(t, 40.0, cfg.Analysis.MostConsumingPercent, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Hotspots.LongRunning)
	assert.Equal(t, 5*time.Second, cfg.Hotspots.NodeHighLatency)
	assert.Equal(t, uint64(512<<20), cfg.Hotspots.SpillBytes)
	assert.Equal(t, 12, cfg.Diff.MaxItems)

	// untouched keys keep their defaults
	assert.Equal(t, int64(50<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, time.Minute, cfg.Hotspots.NodeSevereLatency)

	require.NoError(t, config.Apply(""))
	assert.Equal(t, config.Default().Diff.MaxItems, config.Active().Diff.MaxItems)
}

func TestApplyMissingFile(t *testing.T) {
	err := config.Apply(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROCKSCOPE_SERVER_PORT", "9191")
	t.Setenv("ROCKSCOPE_HOTSPOTS_SCAN_CRITICAL", "2h")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Hotspots.ScanCritical)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Analysis.SecondConsumingPercent = 90
	cfg.Render.BarWidth = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "second_consuming_percent")
	assert.Contains(t, err.Error(), "render.bar_width")

	assert.NoError(t, config.Default().Validate())
}

func TestWriteRoundTripsThroughLoad(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, config.Write(&buf, config.Default()))
	assert.Contains(t, buf.String(), "most_consuming_percent: 30")
	assert.Contains(t, buf.String(), "long_running: 1h0m0s")

	path := filepath.Join(t.TempDir(), "rockscope.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
