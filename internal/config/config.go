// Package config loads the engine's toml configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/thread"
)

// EngineConfig is everything a binderctl process needs before it opens the
// driver.
type EngineConfig struct {
	Driver          driver.Config
	CallRestriction thread.CallRestriction
	// MaxLoopers caps the loopers spawned on BR_SPAWN_LOOPER. Zero leaves
	// spawning to the caller.
	MaxLoopers     int
	TranscriptPath string
	MetricsAddr    string
	LogLevel       string
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Driver:          driver.DefaultConfig(),
		CallRestriction: thread.RestrictNone,
	}
}

type fileConfig struct {
	DriverPath      string `toml:"driver_path"`
	MaxThreads      int64  `toml:"max_threads"`
	VMSize          int64  `toml:"vm_size"`
	MaxLoopers      int    `toml:"max_loopers"`
	CallRestriction string `toml:"call_restriction"`
	TranscriptPath  string `toml:"transcript_path"`
	MetricsAddr     string `toml:"metrics_addr"`
	LogLevel        string `toml:"log_level"`
}

// LoadEngineConfig overlays the keys present in path onto the defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logging.Warnf("config %s: ignoring unknown keys %v", path, undecoded)
	}

	if meta.IsDefined("driver_path") {
		cfg.Driver.Path = strings.TrimSpace(raw.DriverPath)
	}

	if meta.IsDefined("max_threads") {
		if raw.MaxThreads < 0 || raw.MaxThreads > int64(^uint32(0)) {
			return EngineConfig{}, fmt.Errorf("max_threads out of range: %d", raw.MaxThreads)
		}
		cfg.Driver.MaxThreads = uint32(raw.MaxThreads)
	}

	if meta.IsDefined("vm_size") {
		cfg.Driver.VMSize = int(raw.VMSize)
	}

	if meta.IsDefined("max_loopers") {
		cfg.MaxLoopers = raw.MaxLoopers
	}

	if meta.IsDefined("call_restriction") {
		r, err := thread.ParseCallRestriction(raw.CallRestriction)
		if err != nil {
			return EngineConfig{}, fmt.Errorf("parse call_restriction: %w", err)
		}
		cfg.CallRestriction = r
	}

	if meta.IsDefined("transcript_path") {
		cfg.TranscriptPath = strings.TrimSpace(raw.TranscriptPath)
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := ValidateEngineConfig(cfg); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if strings.TrimSpace(cfg.Driver.Path) == "" {
		return fmt.Errorf("engine config missing driver_path")
	}
	if cfg.Driver.VMSize <= 0 {
		return fmt.Errorf("vm_size must be positive, got %d", cfg.Driver.VMSize)
	}
	if cfg.MaxLoopers < 0 {
		return fmt.Errorf("max_loopers must not be negative, got %d", cfg.MaxLoopers)
	}
	if cfg.LogLevel != "" && !logging.ValidLevel(cfg.LogLevel) {
		return fmt.Errorf("unknown log_level: %s", cfg.LogLevel)
	}
	return nil
}
