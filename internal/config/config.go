// Copyright 2025 Joshua Marcus
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config handles percell CLI configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the percell configuration.
type Config struct {
	// Version of config format
	Version string `mapstructure:"version" yaml:"version"`

	// Experiment defaults
	Experiment ExperimentConfig `mapstructure:"experiment" yaml:"experiment"`

	// Segmentation defaults
	Segmentation SegmentationConfig `mapstructure:"segmentation" yaml:"segmentation"`

	// Export defaults
	Export ExportConfig `mapstructure:"export" yaml:"export"`

	// Global settings
	Settings SettingsConfig `mapstructure:"settings" yaml:"settings"`
}

// ExperimentConfig holds experiment defaults.
type ExperimentConfig struct {
	// Root directory where new experiments are created
	Root string `mapstructure:"root" yaml:"root"`

	// DirSuffix appended to experiment directory names
	DirSuffix string `mapstructure:"dir_suffix" yaml:"dir_suffix"`
}

// SegmentationConfig holds segmentation defaults.
type SegmentationConfig struct {
	// Default model identifier recorded on segmentation runs
	DefaultModel string `mapstructure:"default_model" yaml:"default_model"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	// Directory for exports relative to the experiment; stored only,
	// the export command writes to the output path it is given
	Directory string `mapstructure:"directory" yaml:"directory"`

	// Overwrite preference for export files; stored only, the export
	// command does not read it and still requires --force
	Overwrite bool `mapstructure:"overwrite" yaml:"overwrite"`
}

// SettingsConfig holds global settings.
type SettingsConfig struct {
	// Verbose logging
	Verbose bool `mapstructure:"verbose" yaml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Experiment: ExperimentConfig{
			Root:      ".",
			DirSuffix: ".percell",
		},
		Segmentation: SegmentationConfig{
			DefaultModel: "cyto3",
		},
		Export: ExportConfig{
			Overwrite: false,
		},
		Settings: SettingsConfig{
			Verbose: false,
		},
	}
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}

	return filepath.Join(home, ".percell", "config.yaml"), nil
}

// Load reads configuration from file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads config from default path or returns default config.
func LoadOrDefault() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	// If config doesn't exist, return default
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Save writes configuration to file.
func Save(config *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Create config directory if needed
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Marshal config to viper
	if err := v.MergeConfigMap(configToMap(config)); err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Write to file
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// configToMap converts Config to map for viper.
func configToMap(c *Config) map[string]interface{} {
	return map[string]interface{}{
		"version": c.Version,
		"experiment": map[string]interface{}{
			"root":       c.Experiment.Root,
			"dir_suffix": c.Experiment.DirSuffix,
		},
		"segmentation": map[string]interface{}{
			"default_model": c.Segmentation.DefaultModel,
		},
		"export": map[string]interface{}{
			"directory": c.Export.Directory,
			"overwrite": c.Export.Overwrite,
		},
		"settings": map[string]interface{}{
			"verbose": c.Settings.Verbose,
		},
	}
}
