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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcusjoshm/percell/internal/errs"
)

// SchemaVersion is the pinned on-disk schema version. Experiments whose
// stored tag differs are refused on open; there is no in-place
// migration.
const SchemaVersion = "1.0"

// pragmas are applied on every connection open, for create and open
// alike. WAL permits concurrent readers alongside the single writer.
var pragmas = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA foreign_keys=ON;`,
	`PRAGMA busy_timeout=5000;`,
}

var schema = []string{
	`CREATE TABLE experiment (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE channels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT '',
		excitation_nm REAL NOT NULL DEFAULT 0,
		emission_nm REAL NOT NULL DEFAULT 0,
		color TEXT NOT NULL DEFAULT 'FFFFFF',
		display_order INTEGER NOT NULL DEFAULT 0,
		is_segmentation INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE conditions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE bio_reps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		condition_id INTEGER NOT NULL REFERENCES conditions(id),
		name TEXT NOT NULL,
		UNIQUE(condition_id, name)
	);`,
	`CREATE TABLE timepoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		seconds REAL NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE fovs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bio_rep_id INTEGER NOT NULL REFERENCES bio_reps(id),
		timepoint_id INTEGER REFERENCES timepoints(id),
		name TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		pixel_size_um REAL NOT NULL DEFAULT 0,
		source_file TEXT NOT NULL DEFAULT ''
	);`,
	// NULL timepoints compare distinct under UNIQUE, so identity is
	// enforced through an expression index instead.
	`CREATE UNIQUE INDEX idx_fovs_identity ON fovs(name, bio_rep_id, IFNULL(timepoint_id, 0));`,
	`CREATE TABLE segmentation_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		model TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		cell_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE cells (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fov_id INTEGER NOT NULL REFERENCES fovs(id),
		segmentation_id INTEGER NOT NULL REFERENCES segmentation_runs(id),
		label_value INTEGER NOT NULL,
		centroid_x REAL NOT NULL DEFAULT 0,
		centroid_y REAL NOT NULL DEFAULT 0,
		bbox_x INTEGER NOT NULL DEFAULT 0,
		bbox_y INTEGER NOT NULL DEFAULT 0,
		bbox_w INTEGER NOT NULL DEFAULT 0,
		bbox_h INTEGER NOT NULL DEFAULT 0,
		area_px REAL NOT NULL DEFAULT 0,
		area_um2 REAL NOT NULL DEFAULT 0,
		perimeter REAL NOT NULL DEFAULT 0,
		circularity REAL NOT NULL DEFAULT 0,
		is_valid INTEGER NOT NULL DEFAULT 1,
		UNIQUE(fov_id, segmentation_id, label_value)
	);`,
	`CREATE TABLE measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cell_id INTEGER NOT NULL REFERENCES cells(id),
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		metric TEXT NOT NULL,
		value REAL NOT NULL DEFAULT 0,
		UNIQUE(cell_id, channel_id, metric)
	);`,
	`CREATE TABLE threshold_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id INTEGER NOT NULL REFERENCES channels(id),
		method TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		threshold REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);`,
	`CREATE TABLE particles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cell_id INTEGER NOT NULL REFERENCES cells(id),
		threshold_id INTEGER NOT NULL REFERENCES threshold_runs(id),
		label_value INTEGER NOT NULL,
		centroid_x REAL NOT NULL DEFAULT 0,
		centroid_y REAL NOT NULL DEFAULT 0,
		bbox_x INTEGER NOT NULL DEFAULT 0,
		bbox_y INTEGER NOT NULL DEFAULT 0,
		bbox_w INTEGER NOT NULL DEFAULT 0,
		bbox_h INTEGER NOT NULL DEFAULT 0,
		area_px REAL NOT NULL DEFAULT 0,
		area_um2 REAL NOT NULL DEFAULT 0,
		perimeter REAL NOT NULL DEFAULT 0,
		circularity REAL NOT NULL DEFAULT 0,
		eccentricity REAL NOT NULL DEFAULT 0,
		solidity REAL NOT NULL DEFAULT 0,
		major_axis REAL NOT NULL DEFAULT 0,
		minor_axis REAL NOT NULL DEFAULT 0,
		mean_intensity REAL NOT NULL DEFAULT 0,
		min_intensity REAL NOT NULL DEFAULT 0,
		max_intensity REAL NOT NULL DEFAULT 0,
		integrated_intensity REAL NOT NULL DEFAULT 0,
		UNIQUE(cell_id, threshold_id, label_value)
	);`,
	`CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE cell_tags (
		cell_id INTEGER NOT NULL REFERENCES cells(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (cell_id, tag_id)
	);`,
	`CREATE TABLE analysis_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		cell_count INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);`,
	`CREATE INDEX idx_fovs_bio_rep ON fovs(bio_rep_id);`,
	`CREATE INDEX idx_cells_fov ON cells(fov_id);`,
	`CREATE INDEX idx_cells_segmentation ON cells(segmentation_id);`,
	`CREATE INDEX idx_measurements_cell ON measurements(cell_id);`,
	`CREATE INDEX idx_measurements_channel_metric ON measurements(channel_id, metric);`,
	`CREATE INDEX idx_particles_cell ON particles(cell_id);`,
}

// applyPragmas sets the durability pragmas on a fresh connection.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply pragma: %w", err)
		}
	}
	return nil
}

// createSchema executes the full schema and inserts the experiment row
// at the pinned version.
func createSchema(ctx context.Context, db *sql.DB, name, description string) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO experiment (id, name, description, version, created_at) VALUES (1, ?, ?, ?, ?)`,
		name, description, SchemaVersion, timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("insert experiment row: %w", err)
	}
	return nil
}

// checkVersion reads the stored version tag and rejects anything other
// than the pinned value.
func checkVersion(ctx context.Context, db *sql.DB) error {
	var stored string
	err := db.QueryRowContext(ctx, `SELECT version FROM experiment WHERE id = 1`).Scan(&stored)
	if err != nil {
		return fmt.Errorf("read experiment version: %w", err)
	}
	if stored != SchemaVersion {
		return errs.NewVersionIncompatible(stored, SchemaVersion)
	}
	return nil
}

// timestamp renders a UTC time in the stored text format.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp reads a stored text timestamp; malformed values return
// the zero time rather than failing a whole row scan.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
