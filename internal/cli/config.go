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

package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcusjoshm/percell/internal/config"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage percell configuration",
		Long:  "Manage percell configuration file and settings",
	}

	cmd.AddCommand(
		NewConfigInitCmd(),
		NewConfigSetCmd(),
		NewConfigGetCmd(),
		NewConfigListCmd(),
	)

	return cmd
}

// NewConfigInitCmd creates the config init command.
func NewConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file",
		Long:  "Create a new configuration file with default values at ~/.percell/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("get config path: %w", err)
			}

			// Check if config already exists
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}

			// Create default config
			cfg := config.DefaultConfig()

			// Save config
			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("✓ Configuration initialized at %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")

	return cmd
}

// NewConfigSetCmd creates the config set command.
func NewConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value using dot notation.

Examples:
  percell config set experiment.root /data/experiments
  percell config set segmentation.default_model nuclei
  percell config set export.overwrite true
  percell config set settings.verbose true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			// Load or create config
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Set the value
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}

			// Save config
			path, err := config.ConfigPath()
			if err != nil {
				return fmt.Errorf("get config path: %w", err)
			}

			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("✓ Set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}

// NewConfigGetCmd creates the config get command.
func NewConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value using dot notation.

Examples:
  percell config get experiment.root
  percell config get segmentation.default_model
  percell config get settings.verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			// Load config
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Get the value
			value, err := getConfigValue(cfg, key)
			if err != nil {
				return err
			}

			fmt.Println(value)
			return nil
		},
	}

	return cmd
}

// NewConfigListCmd creates the config list command.
func NewConfigListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration",
		Long:  "Display the current configuration in YAML format",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config
			cfg, err := config.LoadOrDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Marshal to YAML
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Print(string(data))
			return nil
		},
	}

	return cmd
}

// setConfigValue sets a configuration value using dot notation.
func setConfigValue(cfg *config.Config, key, value string) error {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return fmt.Errorf("invalid key format, expected section.field (e.g., experiment.root)")
	}

	section, field := parts[0], parts[1]

	switch section {
	case "experiment":
		return setExperimentValue(&cfg.Experiment, field, value)
	case "segmentation":
		return setSegmentationValue(&cfg.Segmentation, field, value)
	case "export":
		return setExportValue(&cfg.Export, field, value)
	case "settings":
		return setSettingsValue(&cfg.Settings, field, value)
	default:
		return fmt.Errorf("unknown section: %s (valid: experiment, segmentation, export, settings)", section)
	}
}

// setExperimentValue sets an experiment configuration value.
func setExperimentValue(exp *config.ExperimentConfig, field, value string) error {
	switch field {
	case "root":
		exp.Root = value
	case "dir_suffix":
		exp.DirSuffix = value
	default:
		return fmt.Errorf("unknown experiment field: %s (valid: root, dir_suffix)", field)
	}
	return nil
}

// setSegmentationValue sets a segmentation configuration value.
func setSegmentationValue(seg *config.SegmentationConfig, field, value string) error {
	switch field {
	case "default_model":
		seg.DefaultModel = value
	default:
		return fmt.Errorf("unknown segmentation field: %s (valid: default_model)", field)
	}
	return nil
}

// setExportValue sets an export configuration value.
func setExportValue(exp *config.ExportConfig, field, value string) error {
	switch field {
	case "directory":
		exp.Directory = value
	case "overwrite":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("overwrite must be a boolean: %w", err)
		}
		exp.Overwrite = b
	default:
		return fmt.Errorf("unknown export field: %s (valid: directory, overwrite)", field)
	}
	return nil
}

// setSettingsValue sets a settings configuration value.
func setSettingsValue(settings *config.SettingsConfig, field, value string) error {
	switch field {
	case "verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("verbose must be a boolean: %w", err)
		}
		settings.Verbose = b
	default:
		return fmt.Errorf("unknown settings field: %s (valid: verbose)", field)
	}
	return nil
}

// getConfigValue gets a configuration value using dot notation.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "experiment.root":
		return cfg.Experiment.Root, nil
	case "experiment.dir_suffix":
		return cfg.Experiment.DirSuffix, nil
	case "segmentation.default_model":
		return cfg.Segmentation.DefaultModel, nil
	case "export.directory":
		return cfg.Export.Directory, nil
	case "export.overwrite":
		return strconv.FormatBool(cfg.Export.Overwrite), nil
	case "settings.verbose":
		return strconv.FormatBool(cfg.Settings.Verbose), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}
