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

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir" toml:"checkpoint_dir"`
	OutputDir     string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`
	DefaultTask   string `json:"default_task" yaml:"default_task" toml:"default_task"`
	Devices       []int  `json:"devices" yaml:"devices" toml:"devices"`
	MaxResident   int    `json:"max_resident" yaml:"max_resident" toml:"max_resident"`
	MemBudgetMB   int    `json:"mem_budget_mb" yaml:"mem_budget_mb" toml:"mem_budget_mb"`
	MemMarginMB   int    `json:"mem_margin_mb" yaml:"mem_margin_mb" toml:"mem_margin_mb"`
	QueueDepth    int    `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	JobTimeoutSec int    `json:"job_timeout_sec" yaml:"job_timeout_sec" toml:"job_timeout_sec"`
	RetentionSec  int    `json:"retention_sec" yaml:"retention_sec" toml:"retention_sec"`
	RunnerCommand string `json:"runner_command" yaml:"runner_command" toml:"runner_command"`
	FFmpegBin     string `json:"ffmpeg_bin" yaml:"ffmpeg_bin" toml:"ffmpeg_bin"`
	MaxBodyMB     int    `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb"`
	LogLevel      string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`
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
