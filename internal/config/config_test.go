package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 50051, cfg.Server.GRPCPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, 20.0, cfg.Display.MaxFPS)

	filter, ok := cfg.Microscope.Parameters["filter"]
	require.True(t, ok)
	assert.Equal(t, "enum", filter.Type)
	assert.Contains(t, filter.Options, "515LP")

	intensity := cfg.Microscope.Parameters["intensity"]
	require.NotNil(t, intensity.Max)
	assert.Equal(t, 100.0, *intensity.Max)
}

func TestLoadOverridesParameters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  http_port: 9090
hardware:
  sim:
    stage_speed: 500
    capture_time: 5ms
  shutters:
    coils:
      Left: 0
      Right: 1
microscope:
  unload_position: 12000
  parameters:
    filter:
      type: enum
      default: Empty
      options: [Empty, 525/50]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 500.0, cfg.Hardware.Sim.StageSpeed)
	assert.Equal(t, 5*time.Millisecond, cfg.Hardware.Sim.CaptureTime)
	assert.Equal(t, 12000.0, cfg.Microscope.UnloadPosition)
	assert.Equal(t, []string{"Empty", "525/50"}, cfg.Microscope.Parameters["filter"].Options)
	assert.Len(t, cfg.Hardware.Shutters.Coils, 2)

	// untouched parameters keep their defaults
	_, ok := cfg.Microscope.Parameters["zoom"]
	assert.True(t, ok)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
