package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// envPrefix namespaces indexd environment overrides.
	envPrefix = "INDEXD_"

	maxConfigFileSize = 1 << 20
)

// Load reads configuration with the precedence env > file > defaults.
//
// When path is empty the default location
// ~/.config/indexd/config.yaml is used; a missing file is fine, an
// unreadable or oversized one is not.
//
// Environment variables map by stripping the INDEXD_ prefix,
// lowercasing, and splitting on the first underscore:
//
//	INDEXD_LOGGING_LEVEL        -> logging.level
//	INDEXD_BUDGET_MAX_RETRIES   -> budget.max_retries
//	INDEXD_PROVIDERS_EMBEDDER   -> providers.embedder
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "indexd", "config.yaml")
	}

	if info, err := os.Stat(path); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
