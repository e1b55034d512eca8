// Package config loads segfaultd's YAML configuration: defaults supplied
// unconditionally, overridden by whatever the file provides, then
// normalized and validated.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TickCadence is the randomized per-tick scheduling window, in seconds.
type TickCadence struct {
	MinSeconds int `yaml:"min_seconds"`
	MaxSeconds int `yaml:"max_seconds"`
}

// Config holds the engine's tunable parameters.
type Config struct {
	GridSize                      int         `yaml:"grid_size"`
	WallCount                     int         `yaml:"wall_count"`
	TickCadence                   TickCadence `yaml:"tick_cadence"`
	MinimumActiveProcessesPerShard int        `yaml:"minimum_active_processes_per_shard"`
	ShardTerminationQuietThreshold int        `yaml:"shard_termination_quiet_threshold"`
	ReplayLoggingEnabled          bool        `yaml:"replay_logging_enabled"`
	ShardPopulationCap            int         `yaml:"shard_population_cap"`
	ReplayQueueCapacity           int         `yaml:"replay_queue_capacity"`
}

// Load reads path (if non-empty), applying it over the defaults, then
// normalizes and validates the result. An empty path yields defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("segfault config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("segfault config: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		GridSize:                       20,
		WallCount:                      80,
		TickCadence:                    TickCadence{MinSeconds: 30, MaxSeconds: 60},
		MinimumActiveProcessesPerShard: 1,
		ShardTerminationQuietThreshold: 20,
		ReplayLoggingEnabled:           true,
		ShardPopulationCap:             16,
		ReplayQueueCapacity:            512,
	}
}

// Normalize clamps out-of-range values to safe defaults rather than
// rejecting them outright.
func (c *Config) Normalize() {
	if c.GridSize <= 0 {
		c.GridSize = 20
	}
	if c.WallCount < 0 {
		c.WallCount = 80
	}
	if c.TickCadence.MinSeconds <= 0 {
		c.TickCadence.MinSeconds = 30
	}
	if c.TickCadence.MaxSeconds < c.TickCadence.MinSeconds {
		c.TickCadence.MaxSeconds = c.TickCadence.MinSeconds
	}
	if c.MinimumActiveProcessesPerShard < 0 {
		c.MinimumActiveProcessesPerShard = 0
	}
	if c.ShardTerminationQuietThreshold < 0 {
		c.ShardTerminationQuietThreshold = 0
	}
	if c.ShardPopulationCap <= 0 {
		c.ShardPopulationCap = 16
	}
	if c.ReplayQueueCapacity <= 0 {
		c.ReplayQueueCapacity = 512
	}
}

// Validate reports a structural problem Normalize can't silently repair.
func (c Config) Validate() error {
	if c.WallCount > c.GridSize*c.GridSize*2 {
		return fmt.Errorf("wall_count %d is implausibly large for a %dx%d grid", c.WallCount, c.GridSize, c.GridSize)
	}
	return nil
}
