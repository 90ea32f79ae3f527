package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	logpkg "github.com/veilmsg/inboxq/pkg/log"
)

// Config is the top-level configuration loaded from file and env.
type Config struct {
	Storage StorageConfig `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Queue   QueueConfig   `json:"queue" yaml:"queue" envPrefix:"QUEUE_"`
	Retry   RetryConfig   `json:"retry" yaml:"retry" envPrefix:"RETRY_"`
	Log     logpkg.Config `json:"log" yaml:"log" envPrefix:"LOG_"`
}

// StorageConfig selects the data directory and durability policy.
type StorageConfig struct {
	DataDir string `json:"dataDir" yaml:"dataDir" env:"DATA_DIR"`
	// Fsync is "always", "interval", or "never".
	Fsync           string `json:"fsync" yaml:"fsync" env:"FSYNC"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs" env:"FSYNC_INTERVAL_MS"`
}

// QueueConfig tunes the drain loop.
type QueueConfig struct {
	Name             string `json:"name" yaml:"name" env:"NAME"`
	BatchSize        int    `json:"batchSize" yaml:"batchSize" env:"BATCH_SIZE"`
	MaxDomainWorkers int    `json:"maxDomainWorkers" yaml:"maxDomainWorkers" env:"MAX_DOMAIN_WORKERS"`
	IdleWaitMs       int    `json:"idleWaitMs" yaml:"idleWaitMs" env:"IDLE_WAIT_MS"`
}

// RetryConfig bounds transient-failure retries. The budget is a policy
// choice, so it is configuration rather than a constant.
type RetryConfig struct {
	MaxAttempts  int `json:"maxAttempts" yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
	BackoffMinMs int `json:"backoffMinMs" yaml:"backoffMinMs" env:"BACKOFF_MIN_MS"`
	BackoffMaxMs int `json:"backoffMaxMs" yaml:"backoffMaxMs" env:"BACKOFF_MAX_MS"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Fsync:           "always",
			FsyncIntervalMs: 5,
		},
		Queue: QueueConfig{
			Name:             "incoming",
			BatchSize:        64,
			MaxDomainWorkers: 8,
			IdleWaitMs:       5000,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			BackoffMinMs: 100,
			BackoffMaxMs: 5000,
		},
		Log: logpkg.Config{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file, selected by extension.
// An empty path returns defaults.
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

// FromEnv overlays INBOXQ_* environment variables onto cfg, e.g.
// INBOXQ_STORAGE_DATA_DIR or INBOXQ_RETRY_MAX_ATTEMPTS.
func FromEnv(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: "INBOXQ_"})
}
