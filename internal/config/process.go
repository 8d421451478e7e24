// Package config implements two configuration surfaces: the ambient
// process config (ProcessConfig, YAML, default+override) and the
// Parameter Store (C11, grouped JSON parameter maps with per-group
// subscribers). The layering mirrors the teacher's config.Load()
// default-then-override shape, generalized from env vars to YAML files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProcessConfig holds the knobs needed before any session exists: how
// verbose to log, whether hardware timestamp absence is
// tolerated, and where sessions/shared-memory files live.
type ProcessConfig struct {
	DevelopmentMode  bool   `yaml:"development_mode"`
	LogLevel         string `yaml:"log_level"`
	SessionRoot      string `yaml:"session_root"`
	StimulusShmPath  string `yaml:"stimulus_shm_path"`
	CameraShmPath    string `yaml:"camera_shm_path"`
	StimulusShmBytes int    `yaml:"stimulus_shm_bytes"`
	CameraShmBytes   int    `yaml:"camera_shm_bytes"`
}

// defaultProcessConfig mirrors the teacher's hard-coded struct tag
// defaults (envconfig `default:"..."` tags), expressed as a literal here
// since YAML has no per-field default annotation.
func defaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		DevelopmentMode:  false,
		LogLevel:         "info",
		SessionRoot:      "./sessions",
		StimulusShmPath:  "/dev/shm/isi-stimulus",
		CameraShmPath:    "/dev/shm/isi-camera",
		StimulusShmBytes: 64 << 20,
		CameraShmBytes:   64 << 20,
	}
}

// LoadProcessConfig reads defaultPath, then overridePath if present,
// decoding each onto the same struct: every key present in overridePath
// replaces the earlier value, explicit zero values included — the teacher's
// default+override layering, with YAML files in place of .env+environ.
func LoadProcessConfig(defaultPath, overridePath string) (ProcessConfig, error) {
	cfg := defaultProcessConfig()

	if defaultPath != "" {
		if err := mergeYAMLFile(defaultPath, &cfg); err != nil {
			return ProcessConfig{}, fmt.Errorf("config: load default process config: %w", err)
		}
	}
	if overridePath != "" {
		if _, err := os.Stat(overridePath); err == nil {
			if err := mergeYAMLFile(overridePath, &cfg); err != nil {
				return ProcessConfig{}, fmt.Errorf("config: load override process config: %w", err)
			}
		}
	}
	return cfg, nil
}

func mergeYAMLFile(path string, cfg *ProcessConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
