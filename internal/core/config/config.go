package config

import (
	"github.com/vuxmai/sweeper/internal/infra/artifact"
	"github.com/vuxmai/sweeper/internal/infra/session"
	"github.com/vuxmai/sweeper/internal/infra/storage/postgres"
	"github.com/vuxmai/sweeper/internal/pipeline/behavior"
	"github.com/vuxmai/sweeper/internal/pipeline/heal"
	"github.com/vuxmai/sweeper/internal/pipeline/orchestrator"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Database  postgres.Config     `yaml:"database"`
	Artifacts ArtifactsConfig     `yaml:"artifacts"`
	Driver    session.Config      `yaml:"driver"`
	Pipeline  orchestrator.Config `yaml:"pipeline"`
	Behavior  BehaviorConfig      `yaml:"behavior"`
	Heal      HealConfig          `yaml:"heal"`
	Logging   LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ArtifactsConfig selects and configures the artifact store backend.
type ArtifactsConfig struct {
	// Backend is one of "file", "redis", "s3".
	Backend string               `yaml:"backend"`
	Dir     string               `yaml:"dir"`
	Redis   artifact.RedisConfig `yaml:"redis"`
	S3      artifact.S3Config    `yaml:"s3"`
}

// BehaviorConfig holds the behavior engine cadence thresholds.
type BehaviorConfig struct {
	ActionsPerMinute   int     `yaml:"actions_per_minute"`
	ActionsPerHour     int     `yaml:"actions_per_hour"`
	NaturalBreakChance float64 `yaml:"natural_break_chance"`
}

// Engine converts the YAML shape into the behavior package's config.
func (c BehaviorConfig) Engine() behavior.Config {
	cfg := behavior.DefaultConfig()
	if c.ActionsPerMinute > 0 {
		cfg.ActionsPerMinute = c.ActionsPerMinute
	}
	if c.ActionsPerHour > 0 {
		cfg.ActionsPerHour = c.ActionsPerHour
	}
	if c.NaturalBreakChance > 0 {
		cfg.NaturalBreakChance = c.NaturalBreakChance
	}
	return cfg
}

// HealConfig holds healing limits and the successor binary.
type HealConfig struct {
	MaxRestarts int `yaml:"max_restarts"`
	// Binary is the worker executable to respawn; empty re-execs self.
	Binary string `yaml:"binary"`
}

// Heal converts the YAML shape into the heal package's config.
func (c HealConfig) Heal() heal.Config {
	return heal.Config{MaxRestarts: c.MaxRestarts}
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
