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
	"sort"

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
)

// AddCells writes the cells of one segmentation of a FOV. Before the
// insert, the FOV's previous measurements, tag bindings, and cells are
// removed, all inside a single transaction; segmentation-run rows are
// preserved as immutable history. An empty batch is a no-op.
func (s *ExperimentStore) AddCells(ctx context.Context, ref FOVRef, segmentationID int64, cells []Cell) ([]int64, error) {
	if len(cells) == 0 {
		return []int64{}, nil
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := segmentationRunExists(ctx, s.db, segmentationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := deleteCellsCascade(ctx, tx, node.fov.ID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	ids, err := insertCells(ctx, tx, node.fov.ID, segmentationID, cells)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.NewIOFailure("commit cells", err)
	}
	return ids, nil
}

// Cells lists cells matching the filter. A bio-rep (region) filter
// without a condition is ambiguous and rejected.
func (s *ExperimentStore) Cells(ctx context.Context, filter CellFilter) ([]Cell, error) {
	if err := s.checkCellFilter(ctx, filter); err != nil {
		return nil, err
	}
	return selectCells(ctx, s.db, filter)
}

// CellCount counts cells matching the filter.
func (s *ExperimentStore) CellCount(ctx context.Context, filter CellFilter) (int, error) {
	if err := s.checkCellFilter(ctx, filter); err != nil {
		return 0, err
	}
	return countCells(ctx, s.db, filter)
}

func (s *ExperimentStore) checkCellFilter(ctx context.Context, filter CellFilter) error {
	if filter.BioRep != "" && filter.Condition == "" {
		return errs.NewInvalidArgument("a bio rep filter requires a condition")
	}
	if filter.Condition != "" {
		if err := validate.Name(filter.Condition); err != nil {
			return err
		}
		cond, err := selectConditionByName(ctx, s.db, filter.Condition)
		if err != nil {
			return err
		}
		if filter.BioRep != "" {
			if err := validate.Name(filter.BioRep); err != nil {
				return err
			}
			if _, err := selectBioRepByName(ctx, s.db, cond.ID, filter.BioRep); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteCellsForFOV removes a FOV's cells together with their
// measurements and tag bindings, in one transaction.
func (s *ExperimentStore) DeleteCellsForFOV(ctx context.Context, ref FOVRef) error {
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if err := deleteCellsCascade(ctx, tx, node.fov.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewIOFailure("commit cell delete", err)
	}
	return nil
}

// AddMeasurements writes scalar values in one all-or-nothing batch.
// Each measurement names its channel; a duplicate (cell, channel,
// metric) triple rolls back the whole batch. An empty batch is a no-op.
func (s *ExperimentStore) AddMeasurements(ctx context.Context, ms []Measurement) ([]int64, error) {
	if len(ms) == 0 {
		return []int64{}, nil
	}
	channels, err := selectChannels(ctx, s.db)
	if err != nil {
		return nil, err
	}
	channelIDs := make(map[string]int64, len(channels))
	for _, c := range channels {
		channelIDs[c.Name] = c.ID
	}
	for _, m := range ms {
		if m.Metric == "" {
			return nil, errs.NewInvalidArgument("measurement for cell %d has an empty metric", m.CellID)
		}
		if _, ok := channelIDs[m.Channel]; !ok {
			return nil, errs.NewNotFound(errs.EntityChannel, m.Channel)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := insertMeasurements(ctx, tx, ms, channelIDs)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.NewIOFailure("commit measurements", err)
	}
	return ids, nil
}

// Measurements lists measurements matching the filter. Empty filter
// slices mean no restriction on that axis.
func (s *ExperimentStore) Measurements(ctx context.Context, filter MeasurementFilter) ([]Measurement, error) {
	return selectMeasurements(ctx, s.db, filter)
}

// MeasurementPivot reshapes measurements to one row per cell with one
// "{channel}_{metric}" column per pair, optionally joined with cell
// descriptors.
func (s *ExperimentStore) MeasurementPivot(ctx context.Context, channels, metrics []string, includeCellInfo bool) (*Pivot, error) {
	ms, err := selectMeasurements(ctx, s.db, MeasurementFilter{Channels: channels, Metrics: metrics})
	if err != nil {
		return nil, err
	}

	columnSet := make(map[string]bool)
	byCell := make(map[int64]map[string]float64)
	var order []int64
	for _, m := range ms {
		column := m.Channel + "_" + m.Metric
		columnSet[column] = true
		if _, ok := byCell[m.CellID]; !ok {
			byCell[m.CellID] = make(map[string]float64)
			order = append(order, m.CellID)
		}
		byCell[m.CellID][column] = m.Value
	}
	columns := make([]string, 0, len(columnSet))
	for column := range columnSet {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var cellInfo map[int64]pivotInfo
	if includeCellInfo {
		cellInfo, err = s.pivotInfo(ctx)
		if err != nil {
			return nil, err
		}
	}

	pivot := &Pivot{Columns: columns, Rows: make([]PivotRow, 0, len(order))}
	for _, cellID := range order {
		row := PivotRow{CellID: cellID, Values: byCell[cellID]}
		if info, ok := cellInfo[cellID]; ok {
			row.FOV = info.fov
			row.Condition = info.condition
			row.BioRep = info.bioRep
			row.LabelValue = info.labelValue
			row.AreaPx = info.areaPx
		}
		pivot.Rows = append(pivot.Rows, row)
	}
	return pivot, nil
}

type pivotInfo struct {
	fov        string
	condition  string
	bioRep     string
	labelValue int
	areaPx     float64
}

func (s *ExperimentStore) pivotInfo(ctx context.Context) (map[int64]pivotInfo, error) {
	cells, err := selectCells(ctx, s.db, CellFilter{})
	if err != nil {
		return nil, err
	}
	fovs, err := selectFOVs(ctx, s.db, FOVFilter{})
	if err != nil {
		return nil, err
	}
	byFOV := make(map[int64]FOV, len(fovs))
	for _, f := range fovs {
		byFOV[f.ID] = f
	}
	info := make(map[int64]pivotInfo, len(cells))
	for _, c := range cells {
		f := byFOV[c.FOVID]
		info[c.ID] = pivotInfo{
			fov:        f.Name,
			condition:  f.Condition,
			bioRep:     f.BioRep,
			labelValue: c.LabelValue,
			areaPx:     c.AreaPx,
		}
	}
	return info, nil
}

// AddParticles writes the particles of one thresholding of a FOV.
// Before the insert, the FOV's particles from earlier runs on the same
// channel and the channel's threshold-group tags are removed, in one
// transaction; threshold-run rows are preserved. An empty batch is a
// no-op.
func (s *ExperimentStore) AddParticles(ctx context.Context, ref FOVRef, thresholdID int64, particles []Particle) ([]int64, error) {
	if len(particles) == 0 {
		return []int64{}, nil
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	run, err := selectThresholdRunByID(ctx, s.db, thresholdID)
	if err != nil {
		return nil, err
	}
	ch, err := selectChannelByName(ctx, s.db, run.Channel)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := deleteParticlesForFOV(ctx, tx, node.fov.ID, ch.ID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if _, err := deleteTagsByPrefix(ctx, tx, "group:"+run.Channel+":"); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	ids, err := insertParticles(ctx, tx, thresholdID, particles)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errs.NewIOFailure("commit particles", err)
	}
	return ids, nil
}

// Particles lists particles matching the filter.
func (s *ExperimentStore) Particles(ctx context.Context, filter ParticleFilter) ([]Particle, error) {
	return selectParticles(ctx, s.db, filter)
}

// DeleteParticlesForFOV removes all particles of a FOV's cells across
// every threshold run.
func (s *ExperimentStore) DeleteParticlesForFOV(ctx context.Context, ref FOVRef) error {
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteParticlesForFOV(ctx, s.db, node.fov.ID, 0)
}

// AddTag registers a classification tag.
func (s *ExperimentStore) AddTag(ctx context.Context, name, color string) (int64, error) {
	if err := validate.TagName(name); err != nil {
		return 0, err
	}
	if color != "" && !isHexColor(color) {
		return 0, errs.NewInvalidArgument("tag color %q is not a 6-hex-digit color", color)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTag(ctx, s.db, name, color)
}

// Tags lists tags by name.
func (s *ExperimentStore) Tags(ctx context.Context) ([]Tag, error) {
	return selectTags(ctx, s.db)
}

// TagCells attaches a tag to cells. Re-tagging a cell is idempotent.
func (s *ExperimentStore) TagCells(ctx context.Context, tagName string, cellIDs []int64) error {
	if err := validate.TagName(tagName); err != nil {
		return err
	}
	if len(cellIDs) == 0 {
		return nil
	}
	tag, err := selectTagByName(ctx, s.db, tagName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if err := bindCellTags(ctx, tx, tag.ID, cellIDs); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.NewIOFailure("commit tag bindings", err)
	}
	return nil
}

// UntagCells detaches a tag from cells.
func (s *ExperimentStore) UntagCells(ctx context.Context, tagName string, cellIDs []int64) error {
	if err := validate.TagName(tagName); err != nil {
		return err
	}
	if len(cellIDs) == 0 {
		return nil
	}
	tag, err := selectTagByName(ctx, s.db, tagName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return unbindCellTags(ctx, s.db, tag.ID, cellIDs)
}

// DeleteTagsByPrefix removes tags whose names start with prefix along
// with their bindings, returning the number of tags removed.
func (s *ExperimentStore) DeleteTagsByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errs.NewInvalidArgument("tag prefix is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	n, err := deleteTagsByPrefix(ctx, tx, prefix)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, errs.NewIOFailure("commit tag delete", err)
	}
	return n, nil
}
