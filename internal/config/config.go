// Package config loads indexd configuration from a YAML file overridden
// by INDEXD_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/indexd/internal/logging"
)

// Config is the full indexd configuration.
type Config struct {
	// IndexVersion pins the pipeline layout. Usually left at the
	// built-in default.
	IndexVersion string `koanf:"index_version"`

	Logging    logging.Config   `koanf:"logging"`
	Budget     BudgetConfig     `koanf:"budget"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Providers  ProvidersConfig  `koanf:"providers"`
	Sources    SourcesConfig    `koanf:"sources"`
}

// BudgetConfig is the per-phase budget. Zero values mean unlimited;
// zero workers means one per CPU.
type BudgetConfig struct {
	MaxWallTime       time.Duration `koanf:"max_wall_time"`
	MaxFilesPerPhase  int           `koanf:"max_files_per_phase"`
	MaxTokensPerPhase int64         `koanf:"max_tokens_per_phase"`
	MaxRetries        int           `koanf:"max_retries"`
	Workers           int           `koanf:"workers"`
}

// CheckpointConfig tunes durable-write throttling.
type CheckpointConfig struct {
	// FileInterval is the completed-item count between durable writes.
	// 0 persists on every update; nil (unset) uses the writer's built-in
	// default.
	FileInterval *int `koanf:"file_interval"`

	TimeInterval time.Duration `koanf:"time_interval"`
}

// DiscoveryConfig filters which files are indexed and fingerprinted.
type DiscoveryConfig struct {
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`
}

// ProvidersConfig selects collaborator implementations.
type ProvidersConfig struct {
	Extractor         string  `koanf:"extractor"`
	Embedder          string  `koanf:"embedder"`
	EmbedderDimension int     `koanf:"embedder_dimension"`
	EmbedderRateLimit float64 `koanf:"embedder_rate_limit"`
	Synthesizer       string  `koanf:"synthesizer"`
}

// SourcesConfig tunes the ingestion sources.
type SourcesConfig struct {
	MaxCommits int `koanf:"max_commits"`
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Budget.MaxWallTime < 0 {
		return fmt.Errorf("budget.max_wall_time must not be negative")
	}
	if c.Checkpoint.FileInterval != nil && *c.Checkpoint.FileInterval < 0 {
		return fmt.Errorf("checkpoint.file_interval must not be negative")
	}
	if c.Checkpoint.TimeInterval < 0 {
		return fmt.Errorf("checkpoint.time_interval must not be negative")
	}
	if c.Budget.MaxFilesPerPhase < 0 || c.Budget.MaxTokensPerPhase < 0 ||
		c.Budget.MaxRetries < 0 || c.Budget.Workers < 0 {
		return fmt.Errorf("budget limits must not be negative")
	}
	if c.Providers.EmbedderDimension < 0 {
		return fmt.Errorf("providers.embedder_dimension must not be negative")
	}
	if c.Providers.EmbedderRateLimit < 0 {
		return fmt.Errorf("providers.embedder_rate_limit must not be negative")
	}
	if c.Sources.MaxCommits < 0 {
		return fmt.Errorf("sources.max_commits must not be negative")
	}
	return nil
}
