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

import "time"

// Experiment is the singleton metadata row of an experiment directory.
type Experiment struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// Channel describes a named imaging channel. Channels are global to the
// experiment and form the first axis of image arrays.
type Channel struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Role           string  `json:"role,omitempty"` // e.g. "nucleus", "signal"
	ExcitationNM   float64 `json:"excitation_nm,omitempty"`
	EmissionNM     float64 `json:"emission_nm,omitempty"`
	Color          string  `json:"color"` // 6-hex-digit display color
	DisplayOrder   int     `json:"display_order"`
	IsSegmentation bool    `json:"is_segmentation"`
}

// ChannelSpec carries the caller-supplied fields of a new channel.
type ChannelSpec struct {
	Name           string
	Role           string
	ExcitationNM   float64
	EmissionNM     float64
	Color          string
	DisplayOrder   int
	IsSegmentation bool
}

// Condition is a named experimental condition grouping FOVs.
type Condition struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// BioRep is a biological replicate: a named group of FOVs under one
// condition and the unit of big-N statistics.
type BioRep struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Condition string `json:"condition"`
}

// Timepoint is an optional named time index applied as an extra path
// level between bio-rep and FOV.
type Timepoint struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Seconds      float64 `json:"seconds,omitempty"`
	DisplayOrder int     `json:"display_order"`
}

// FOV is one imaging site. Its array-store group path is computed from
// the hierarchy, never persisted.
type FOV struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Condition   string  `json:"condition"`
	BioRep      string  `json:"bio_rep"`
	Timepoint   string  `json:"timepoint,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	PixelSizeUM float64 `json:"pixel_size_um,omitempty"`
	SourceFile  string  `json:"source_file,omitempty"`
}

// FOVSpec carries the caller-supplied fields of a new FOV. An empty
// BioRep resolves to the default replicate, creating it on first use.
type FOVSpec struct {
	Name        string
	Condition   string
	BioRep      string
	Timepoint   string
	Width       int
	Height      int
	PixelSizeUM float64
	SourceFile  string
}

// FOVRef addresses an existing FOV by logical tuple. BioRep may be
// empty when exactly one replicate exists under the condition.
type FOVRef struct {
	Name      string
	Condition string
	BioRep    string
	Timepoint string
}

// FOVFilter narrows FOV listings. A BioRep filter requires a Condition.
type FOVFilter struct {
	Condition string
	BioRep    string
	Timepoint string
}

// SegmentationRun records one execution of a segmenter. Runs are
// immutable history except for the cell-count update at run end.
type SegmentationRun struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Model     string    `json:"model"`
	Params    string    `json:"params"` // JSON parameter blob
	CellCount int       `json:"cell_count"`
	CreatedAt time.Time `json:"created_at"`
}

// Cell is one labelled object in one FOV produced by one segmentation
// run.
type Cell struct {
	ID             int64   `json:"id"`
	FOVID          int64   `json:"fov_id"`
	SegmentationID int64   `json:"segmentation_id"`
	LabelValue     int     `json:"label_value"`
	CentroidX      float64 `json:"centroid_x"`
	CentroidY      float64 `json:"centroid_y"`
	BBoxX          int     `json:"bbox_x"`
	BBoxY          int     `json:"bbox_y"`
	BBoxW          int     `json:"bbox_w"`
	BBoxH          int     `json:"bbox_h"`
	AreaPx         float64 `json:"area_px"`
	AreaUM2        float64 `json:"area_um2,omitempty"`
	Perimeter      float64 `json:"perimeter,omitempty"`
	Circularity    float64 `json:"circularity,omitempty"`
	IsValid        bool    `json:"is_valid"`
}

// CellFilter narrows cell listings. A BioRep (region) filter requires a
// Condition.
type CellFilter struct {
	Condition string
	FOV       string
	BioRep    string
	Timepoint string
	IsValid   *bool
	MinArea   *float64
	MaxArea   *float64
	Tags      []string
}

// Measurement is one scalar value per (cell, channel, metric).
type Measurement struct {
	ID      int64   `json:"id"`
	CellID  int64   `json:"cell_id"`
	Channel string  `json:"channel"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
}

// MeasurementFilter narrows measurement listings. An empty slice means
// no filtering on that axis.
type MeasurementFilter struct {
	CellIDs  []int64
	Channels []string
	Metrics  []string
}

// ThresholdRun records one thresholding execution.
type ThresholdRun struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Method    string    `json:"method"`
	Params    string    `json:"params"` // JSON parameter blob
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// Particle is one connected component found inside a cell under a
// threshold run.
type Particle struct {
	ID                  int64   `json:"id"`
	CellID              int64   `json:"cell_id"`
	ThresholdID         int64   `json:"threshold_id"`
	LabelValue          int     `json:"label_value"`
	CentroidX           float64 `json:"centroid_x"`
	CentroidY           float64 `json:"centroid_y"`
	BBoxX               int     `json:"bbox_x"`
	BBoxY               int     `json:"bbox_y"`
	BBoxW               int     `json:"bbox_w"`
	BBoxH               int     `json:"bbox_h"`
	AreaPx              float64 `json:"area_px"`
	AreaUM2             float64 `json:"area_um2,omitempty"`
	Perimeter           float64 `json:"perimeter,omitempty"`
	Circularity         float64 `json:"circularity,omitempty"`
	Eccentricity        float64 `json:"eccentricity,omitempty"`
	Solidity            float64 `json:"solidity,omitempty"`
	MajorAxis           float64 `json:"major_axis,omitempty"`
	MinorAxis           float64 `json:"minor_axis,omitempty"`
	MeanIntensity       float64 `json:"mean_intensity,omitempty"`
	MinIntensity        float64 `json:"min_intensity,omitempty"`
	MaxIntensity        float64 `json:"max_intensity,omitempty"`
	IntegratedIntensity float64 `json:"integrated_intensity,omitempty"`
}

// ParticleFilter narrows particle listings.
type ParticleFilter struct {
	CellIDs     []int64
	ThresholdID int64
}

// Tag is a named classification label applied to cells.
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Analysis-run states. The only transition is running to completed or
// failed; there are no back-transitions.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AnalysisRun records one plugin execution.
type AnalysisRun struct {
	ID          int64      `json:"id"`
	Plugin      string     `json:"plugin"`
	Params      string     `json:"params"` // JSON parameter blob
	Status      string     `json:"status"`
	CellCount   int        `json:"cell_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FOVSegmentationSummary reports per-FOV segmentation state.
type FOVSegmentationSummary struct {
	FOV       string    `json:"fov"`
	Condition string    `json:"condition"`
	BioRep    string    `json:"bio_rep"`
	Timepoint string    `json:"timepoint,omitempty"`
	CellCount int       `json:"cell_count"`
	Runs      int       `json:"runs"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
}

// Pivot is the measurement table reshaped to one row per cell with one
// column per (channel, metric) pair.
type Pivot struct {
	Columns []string   `json:"columns"` // value column names, "{channel}_{metric}"
	Rows    []PivotRow `json:"rows"`
}

// PivotRow is one cell's measurements. Info fields are populated when
// cell descriptors were requested.
type PivotRow struct {
	CellID     int64              `json:"cell_id"`
	FOV        string             `json:"fov,omitempty"`
	Condition  string             `json:"condition,omitempty"`
	BioRep     string             `json:"bio_rep,omitempty"`
	LabelValue int                `json:"label_value,omitempty"`
	AreaPx     float64            `json:"area_px,omitempty"`
	Values     map[string]float64 `json:"values"`
}
