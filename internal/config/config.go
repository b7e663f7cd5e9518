// Package config loads runtime settings from GENOMEFORGE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the engine's runtime settings. Zero-configuration runs get
// the defaults below; every field can be overridden through its
// GENOMEFORGE_* variable.
type Config struct {
	// DataDir holds the bundled reference dataset and on-disk stores.
	DataDir string `envconfig:"DATA_DIR"`

	// Batch processing.
	Concurrency int           `envconfig:"CONCURRENCY" default:"3"`
	MaxRetries  int           `envconfig:"MAX_RETRIES" default:"2"`
	JobTimeout  time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`
	RetryDelay  time.Duration `envconfig:"RETRY_DELAY" default:"2s"`

	// Matching.
	PValueThreshold float64 `envconfig:"P_VALUE_THRESHOLD" default:"5e-8"`
	MaxResults      int     `envconfig:"MAX_RESULTS" default:"1000"`

	// Elasticsearch storage adapter.
	ElasticURL      string `envconfig:"ELASTIC_URL"`
	ElasticUser     string `envconfig:"ELASTIC_USER"`
	ElasticPassword string `envconfig:"ELASTIC_PASSWORD"`

	Debug bool `envconfig:"DEBUG"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("GENOMEFORGE", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".genomeforge")
	}

	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("GENOMEFORGE_CONCURRENCY must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("GENOMEFORGE_MAX_RETRIES cannot be negative, got %d", cfg.MaxRetries)
	}

	return &cfg, nil
}

// RefDataPath is where the bundled reference dataset lives under DataDir.
func (c *Config) RefDataPath() string {
	return filepath.Join(c.DataDir, "refdata.sqlite")
}
