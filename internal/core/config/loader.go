package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vuxmai/sweeper/internal/pipeline/orchestrator"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config usable without any file: file-backed artifacts
// under ./data and an in-memory outcome store.
func Default() *AppConfig {
	cfg := &AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Artifacts.Backend == "" {
		cfg.Artifacts.Backend = "file"
	}
	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = "data/artifacts"
	}
	if cfg.Driver.Endpoint == "" {
		cfg.Driver.Endpoint = "http://localhost:9515"
	}
	if cfg.Driver.Timeout == 0 {
		cfg.Driver.Timeout = 120 * time.Second
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline = orchestrator.DefaultConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations that cannot possibly run.
func (c *AppConfig) Validate() error {
	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("artifacts.dir is required for the file backend")
		}
	case "redis":
		if c.Artifacts.Redis.URL == "" {
			return fmt.Errorf("artifacts.redis.url is required for the redis backend")
		}
	case "s3":
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q", c.Artifacts.Backend)
	}

	if c.Driver.Endpoint == "" {
		return fmt.Errorf("driver.endpoint is required")
	}
	return nil
}

// Revalidate re-checks a loaded configuration on demand. A supervising
// scheduler calls this explicitly; the config layer never re-checks
// itself on an internal timer.
func (c *AppConfig) Revalidate() error {
	return c.Validate()
}
