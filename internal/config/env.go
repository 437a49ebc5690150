package config

import (
	"os"
	"strconv"
)

// FromEnv overlays IOQ_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("IOQ_DEVICE_PATH"); v != "" {
		cfg.Device.Path = v
	}
	if v := os.Getenv("IOQ_DEVICE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Device.SizeBytes = n
		}
	}
	if v := os.Getenv("IOQ_BLOCK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Device.BlockSize = n
		}
	}
	if v := os.Getenv("IOQ_ASYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Device.Async = b
		}
	}
	if v := os.Getenv("IOQ_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Workers = n
		}
	}
	if v := os.Getenv("IOQ_MAX_ISSUES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxIssues = n
		}
	}
	if v := os.Getenv("IOQ_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.BatchSize = n
		}
	}
	if v := os.Getenv("IOQ_PIN_WORKERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Queue.PinWorkers = b
		}
	}
}
