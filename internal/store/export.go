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
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/marcusjoshm/percell/internal/errs"
)

// ExportCSV streams the pivoted measurement table to a
// comma-separated file, one row per cell with cell descriptors joined.
// The file is written unconditionally; overwrite protection is caller
// policy.
func (s *ExperimentStore) ExportCSV(ctx context.Context, path string, channels, metrics []string) error {
	pivot, err := s.MeasurementPivot(ctx, channels, metrics, true)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.NewIOFailure("create export directory", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errs.NewIOFailure("create export file", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	header := append([]string{"cell_id", "condition", "bio_rep", "fov", "label_value", "area_px"}, pivot.Columns...)
	if err := w.Write(header); err != nil {
		return errs.NewIOFailure("write export header", err)
	}

	for _, row := range pivot.Rows {
		record := []string{
			strconv.FormatInt(row.CellID, 10),
			row.Condition,
			row.BioRep,
			row.FOV,
			strconv.Itoa(row.LabelValue),
			formatValue(row.AreaPx),
		}
		for _, column := range pivot.Columns {
			if v, ok := row.Values[column]; ok {
				record = append(record, formatValue(v))
			} else {
				record = append(record, "")
			}
		}
		if err := w.Write(record); err != nil {
			return errs.NewIOFailure("write export row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errs.NewIOFailure("flush export", err)
	}
	return nil
}

// ExportsDir returns the experiment's conventional export directory.
func (s *ExperimentStore) ExportsDir() string {
	return filepath.Join(s.dir, exportsDirName)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
