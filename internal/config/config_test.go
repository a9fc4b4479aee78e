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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != "1" {
		t.Errorf("Version = %s, want 1", cfg.Version)
	}

	if cfg.Experiment.DirSuffix != ".percell" {
		t.Errorf("Experiment.DirSuffix = %s, want .percell", cfg.Experiment.DirSuffix)
	}

	if cfg.Segmentation.DefaultModel != "cyto3" {
		t.Errorf("Segmentation.DefaultModel = %s, want cyto3", cfg.Segmentation.DefaultModel)
	}

	if cfg.Export.Overwrite {
		t.Error("Export.Overwrite = true, want false")
	}

	if cfg.Settings.Verbose {
		t.Error("Settings.Verbose = true, want false")
	}
}

func TestSaveAndLoad(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Create test config
	cfg := DefaultConfig()
	cfg.Experiment.Root = "/data/experiments"
	cfg.Segmentation.DefaultModel = "nuclei"
	cfg.Export.Overwrite = true
	cfg.Settings.Verbose = true

	// Save config
	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Verify file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	// Load config
	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Verify loaded config matches
	if loaded.Version != cfg.Version {
		t.Errorf("Version = %s, want %s", loaded.Version, cfg.Version)
	}

	if loaded.Experiment.Root != cfg.Experiment.Root {
		t.Errorf("Experiment.Root = %s, want %s", loaded.Experiment.Root, cfg.Experiment.Root)
	}

	if loaded.Segmentation.DefaultModel != cfg.Segmentation.DefaultModel {
		t.Errorf("Segmentation.DefaultModel = %s, want %s", loaded.Segmentation.DefaultModel, cfg.Segmentation.DefaultModel)
	}

	if !loaded.Export.Overwrite {
		t.Error("Export.Overwrite = false after load, want true")
	}

	if !loaded.Settings.Verbose {
		t.Error("Settings.Verbose = false after load, want true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() on missing file should fail")
	}
}
