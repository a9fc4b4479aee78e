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
	"encoding/json"

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
)

// normalizeParams checks a JSON parameter blob, defaulting empty input
// to the empty object.
func normalizeParams(params string) (string, error) {
	if params == "" {
		return "{}", nil
	}
	if !json.Valid([]byte(params)) {
		return "", errs.NewInvalidArgument("params is not valid JSON")
	}
	return params, nil
}

// AddSegmentationRun records one execution of a segmenter. The run is
// immutable except for the cell-count update at run end.
func (s *ExperimentStore) AddSegmentationRun(ctx context.Context, channel, model, params string) (int64, error) {
	if err := validate.Names(channel, model); err != nil {
		return 0, err
	}
	params, err := normalizeParams(params)
	if err != nil {
		return 0, err
	}
	ch, err := selectChannelByName(ctx, s.db, channel)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSegmentationRun(ctx, s.db, ch.ID, model, params)
}

// SegmentationRuns lists segmentation runs in creation order.
func (s *ExperimentStore) SegmentationRuns(ctx context.Context) ([]SegmentationRun, error) {
	return selectSegmentationRuns(ctx, s.db)
}

// UpdateSegmentationRunCellCount records the run's final cell count.
func (s *ExperimentStore) UpdateSegmentationRunCellCount(ctx context.Context, id int64, count int) error {
	if count < 0 {
		return errs.NewInvalidArgument("cell count %d is negative", count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSegmentationRunCellCount(ctx, s.db, id, count)
}

// AddThresholdRun records one thresholding execution.
func (s *ExperimentStore) AddThresholdRun(ctx context.Context, channel, method, params string, threshold float64) (int64, error) {
	if err := validate.Names(channel, method); err != nil {
		return 0, err
	}
	params, err := normalizeParams(params)
	if err != nil {
		return 0, err
	}
	ch, err := selectChannelByName(ctx, s.db, channel)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertThresholdRun(ctx, s.db, ch.ID, method, params, threshold)
}

// ThresholdRuns lists threshold runs in creation order.
func (s *ExperimentStore) ThresholdRuns(ctx context.Context) ([]ThresholdRun, error) {
	return selectThresholdRuns(ctx, s.db)
}

// StartAnalysisRun records a plugin execution entering the running
// state.
func (s *ExperimentStore) StartAnalysisRun(ctx context.Context, plugin, params string) (int64, error) {
	if err := validate.Name(plugin); err != nil {
		return 0, err
	}
	params, err := normalizeParams(params)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAnalysisRun(ctx, s.db, plugin, params)
}

// CompleteAnalysisRun moves a running analysis run to completed or
// failed and stamps the completion time. There are no back-transitions.
func (s *ExperimentStore) CompleteAnalysisRun(ctx context.Context, id int64, status string, cellCount int) error {
	if status != StatusCompleted && status != StatusFailed {
		return errs.NewInvalidArgument("status %q must be %q or %q", status, StatusCompleted, StatusFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return finishAnalysisRun(ctx, s.db, id, status, cellCount)
}

// AnalysisRuns lists analysis runs in start order. Stale running rows
// are visible here; reaping them is caller policy.
func (s *ExperimentStore) AnalysisRuns(ctx context.Context) ([]AnalysisRun, error) {
	return selectAnalysisRuns(ctx, s.db)
}
