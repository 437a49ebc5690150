package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	body := `
device:
  blockSize: 512
  async: true
queue:
  workers: 4
streams:
  - id: 9
    priority: 30
    ops: 10
    depth: 2
    mix: read
    blocks: 1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Device.BlockSize)
	assert.True(t, cfg.Device.Async)
	assert.Equal(t, Default().Device.SizeBytes, cfg.Device.SizeBytes)
	assert.Equal(t, 4, cfg.Queue.Workers)
	assert.Equal(t, Default().Queue.MaxIssues, cfg.Queue.MaxIssues)
	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, StreamConfig{ID: 9, Priority: 30, Ops: 10, Depth: 2, Mix: MixRead, Blocks: 1}, cfg.Streams[0])
	require.NoError(t, cfg.Validate())
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"queue":{"maxIssues":8}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Queue.MaxIssues)
	assert.Len(t, cfg.Streams, len(Default().Streams))
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: [1, 2"), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":    func(c *Config) { c.Queue.Workers = 9 },
		"block size": func(c *Config) { c.Device.BlockSize = 1000 },
		"priority":   func(c *Config) { c.Streams[0].Priority = 32 },
		"duplicate":  func(c *Config) { c.Streams[1].ID = c.Streams[0].ID },
		"mix":        func(c *Config) { c.Streams[0].Mix = "random" },
		"depth":      func(c *Config) { c.Streams[0].Depth = 0 },
		"no streams": func(c *Config) { c.Streams = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("IOQ_DEVICE_PATH", "/tmp/dev.img")
	t.Setenv("IOQ_DEVICE_SIZE_BYTES", "1048576")
	t.Setenv("IOQ_ASYNC", "true")
	t.Setenv("IOQ_WORKERS", "3")
	t.Setenv("IOQ_MAX_ISSUES", "not-a-number")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, "/tmp/dev.img", cfg.Device.Path)
	assert.Equal(t, int64(1<<20), cfg.Device.SizeBytes)
	assert.True(t, cfg.Device.Async)
	assert.Equal(t, 3, cfg.Queue.Workers)
	assert.Equal(t, Default().Queue.MaxIssues, cfg.Queue.MaxIssues)
}
