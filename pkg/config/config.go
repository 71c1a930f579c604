package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SyncImmediate = "immediate"
	SyncInterval  = "interval"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // HTTP Listen Address (e.g. :8080)
}

type StorageConfig struct {
	Path               string `yaml:"path"`
	TreeOrder          int    `yaml:"tree_order"`
	BucketCapacity     int    `yaml:"bucket_capacity"`
	SyncMode           string `yaml:"sync_mode"`
	FlushIntervalMs    int    `yaml:"flush_interval_ms"`
	LogCompactionBytes int64  `yaml:"log_compaction_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (s StorageConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			Path:               "ledger_data",
			TreeOrder:          32,
			BucketCapacity:     16,
			SyncMode:           SyncImmediate,
			FlushIntervalMs:    200,
			LogCompactionBytes: 8 << 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/ledger.yaml", "ledger.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if cfg.Storage.TreeOrder < 3 {
		cfg.Storage.TreeOrder = def.Storage.TreeOrder
	}
	if cfg.Storage.BucketCapacity <= 0 {
		cfg.Storage.BucketCapacity = def.Storage.BucketCapacity
	}
	if cfg.Storage.SyncMode != SyncImmediate && cfg.Storage.SyncMode != SyncInterval {
		cfg.Storage.SyncMode = def.Storage.SyncMode
	}
	if cfg.Storage.FlushIntervalMs <= 0 {
		cfg.Storage.FlushIntervalMs = def.Storage.FlushIntervalMs
	}
	if cfg.Storage.LogCompactionBytes <= 0 {
		cfg.Storage.LogCompactionBytes = def.Storage.LogCompactionBytes
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format != "json" {
		cfg.Log.Format = "text"
	}
}
