package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/gymflow/internal/bridge"
	"github.com/ChuLiYu/gymflow/internal/storage/journal"
)

// DefaultConfigPath is where the CLI looks for its configuration.
const DefaultConfigPath = "configs/default.yaml"

// Config represents the complete system configuration structure.
// Maps config file fields through YAML tags.
type Config struct {
	Simulation struct {
		Algorithm string `yaml:"algorithm"`
		Dataset   string `yaml:"dataset"` // empty: stdin
	} `yaml:"simulation"`

	Bridge struct {
		Port           int           `yaml:"port"`
		ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
		CollectTimeout time.Duration `yaml:"collect_timeout"` // wait for the agent to read the final result
	} `yaml:"bridge"`

	Journal struct {
		Path            string `yaml:"path"` // empty: disabled
		BufferSize      int    `yaml:"buffer_size"`
		FlushIntervalMs int    `yaml:"flush_interval_ms"`
		SyncOnFlush     bool   `yaml:"sync_on_flush"`
	} `yaml:"journal"`

	Solution struct {
		Path string `yaml:"path"` // empty: stdout only
	} `yaml:"solution"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Simulation.Algorithm = "static:round-robin"
	cfg.Bridge.Port = 25333
	cfg.Bridge.ShutdownGrace = bridge.DefaultShutdownGrace
	cfg.Bridge.CollectTimeout = bridge.DefaultCollectTimeout
	cfg.Journal.BufferSize = journal.DefaultBufferSize
	cfg.Journal.FlushIntervalMs = int(journal.DefaultFlushInterval / time.Millisecond)
	cfg.Metrics.Port = 9090
	return &cfg
}

// JournalOptions converts the journal section.
func (c *Config) JournalOptions() journal.Options {
	return journal.Options{
		BufferSize:    c.Journal.BufferSize,
		FlushInterval: time.Duration(c.Journal.FlushIntervalMs) * time.Millisecond,
		SyncOnFlush:   c.Journal.SyncOnFlush,
	}
}

// loadConfig reads path over the defaults. A missing file at the default
// location is not an error, so the binary runs without a configs directory.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}
