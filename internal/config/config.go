// Package config loads the workload description used by the ioqueue bench
// command: the backing device, queue sizing, retry policy and the set of
// client streams to drive.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ioq "github.com/Andrej220/go-utils/ioqueue"
)

// Mix names the kind of ops a stream issues.
type Mix string

const (
	MixRead  Mix = "read"
	MixWrite Mix = "write"
	MixMixed Mix = "mixed"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Device  DeviceConfig   `yaml:"device" json:"device"`
	Queue   QueueConfig    `yaml:"queue" json:"queue"`
	Retry   RetryConfig    `yaml:"retry" json:"retry"`
	Streams []StreamConfig `yaml:"streams" json:"streams"`
}

// DeviceConfig describes the backing file. An empty Path means a
// temporary file that is removed after the run.
type DeviceConfig struct {
	Path      string `yaml:"path" json:"path"`
	SizeBytes int64  `yaml:"sizeBytes" json:"sizeBytes"`
	BlockSize int    `yaml:"blockSize" json:"blockSize"`
	Async     bool   `yaml:"async" json:"async"`
}

// QueueConfig sizes the scheduling engine.
type QueueConfig struct {
	Workers    int  `yaml:"workers" json:"workers"`
	MaxIssues  int  `yaml:"maxIssues" json:"maxIssues"`
	BatchSize  int  `yaml:"batchSize" json:"batchSize"`
	PinWorkers bool `yaml:"pinWorkers" json:"pinWorkers"`
}

// RetryConfig bounds retries of transient I/O errors.
type RetryConfig struct {
	Attempts  int `yaml:"attempts" json:"attempts"`
	InitialMs int `yaml:"initialMs" json:"initialMs"`
	MaxMs     int `yaml:"maxMs" json:"maxMs"`
}

// StreamConfig describes one client stream.
type StreamConfig struct {
	ID       uint32 `yaml:"id" json:"id"`
	Priority uint8  `yaml:"priority" json:"priority"`
	Ops      int    `yaml:"ops" json:"ops"`

	// Depth is how many ops the client keeps outstanding.
	Depth int `yaml:"depth" json:"depth"`

	Mix Mix `yaml:"mix" json:"mix"`

	// Blocks is the size of each read or write, in blocks.
	Blocks int `yaml:"blocks" json:"blocks"`

	// FlushEvery issues a flush after every n-th op; 0 disables it.
	FlushEvery int `yaml:"flushEvery" json:"flushEvery"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			SizeBytes: 64 << 20,
			BlockSize: 4096,
		},
		Queue: QueueConfig{
			Workers:   2,
			MaxIssues: 4,
			BatchSize: ioq.DefaultBatchSize,
		},
		Retry: RetryConfig{
			Attempts:  3,
			InitialMs: 1,
			MaxMs:     50,
		},
		Streams: []StreamConfig{
			{ID: 1, Priority: 1, Ops: 2000, Depth: 4, Mix: MixMixed, Blocks: 1},
			{ID: 2, Priority: 16, Ops: 2000, Depth: 4, Mix: MixWrite, Blocks: 4, FlushEvery: 100},
			{ID: 3, Priority: 31, Ops: 2000, Depth: 4, Mix: MixRead, Blocks: 1},
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults. Fields absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks cfg against the engine's limits.
func (c Config) Validate() error {
	var errs []error
	if c.Device.BlockSize <= 0 || c.Device.BlockSize&(c.Device.BlockSize-1) != 0 {
		errs = append(errs, fmt.Errorf("device.blockSize %d must be a power of two", c.Device.BlockSize))
	}
	if c.Device.SizeBytes < int64(c.Device.BlockSize) {
		errs = append(errs, fmt.Errorf("device.sizeBytes %d smaller than one block", c.Device.SizeBytes))
	}
	if c.Queue.Workers < 1 || c.Queue.Workers > ioq.MaxWorkers {
		errs = append(errs, fmt.Errorf("queue.workers %d out of range 1..%d", c.Queue.Workers, ioq.MaxWorkers))
	}
	if c.Queue.MaxIssues < 0 {
		errs = append(errs, fmt.Errorf("queue.maxIssues %d is negative", c.Queue.MaxIssues))
	}
	if len(c.Streams) == 0 {
		errs = append(errs, errors.New("no streams configured"))
	}

	seen := make(map[uint32]bool, len(c.Streams))
	for i, s := range c.Streams {
		if seen[s.ID] {
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate id %d", i, s.ID))
		}
		seen[s.ID] = true
		if ioq.Priority(s.Priority) > ioq.MaxPriority {
			errs = append(errs, fmt.Errorf("streams[%d]: priority %d exceeds %d", i, s.Priority, ioq.MaxPriority))
		}
		if s.Ops <= 0 || s.Depth <= 0 || s.Blocks <= 0 {
			errs = append(errs, fmt.Errorf("streams[%d]: ops, depth and blocks must be positive", i))
		}
		if s.FlushEvery < 0 {
			errs = append(errs, fmt.Errorf("streams[%d]: flushEvery %d is negative", i, s.FlushEvery))
		}
		if int64(s.Blocks*c.Device.BlockSize) > c.Device.SizeBytes {
			errs = append(errs, fmt.Errorf("streams[%d]: %d blocks exceed the device", i, s.Blocks))
		}
		switch s.Mix {
		case MixRead, MixWrite, MixMixed:
		default:
			errs = append(errs, fmt.Errorf("streams[%d]: unknown mix %q", i, s.Mix))
		}
	}
	return errors.Join(errs...)
}
