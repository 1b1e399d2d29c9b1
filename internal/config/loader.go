package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Path of the sqlite file backing the model registry.
	StorePath string `json:"store_path" yaml:"store_path" toml:"store_path"`
	// Fraction of the memory budget reserved for runtime overhead and KV cache.
	HeadroomFraction float64 `json:"headroom_fraction" yaml:"headroom_fraction" toml:"headroom_fraction"`
	// Maximum concurrent pull transfers across model ids (0 = unbounded).
	MaxConcurrentPulls int `json:"max_concurrent_pulls" yaml:"max_concurrent_pulls" toml:"max_concurrent_pulls"`
	// Download chunk size in bytes.
	PullChunkBytes int `json:"pull_chunk_bytes" yaml:"pull_chunk_bytes" toml:"pull_chunk_bytes"`
	// Download bandwidth cap in bytes/sec (0 = unlimited).
	PullRateLimitBytes int `json:"pull_rate_limit_bytes" yaml:"pull_rate_limit_bytes" toml:"pull_rate_limit_bytes"`
	// Base URL of the local llama.cpp server used for chat pass-through.
	LlamaServerURL string `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url"`
	// Model id protected from deletion and used for onboarding tasks.
	BaseModel string `json:"base_model" yaml:"base_model" toml:"base_model"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
