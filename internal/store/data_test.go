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
	"testing"

	"github.com/marcusjoshm/percell/internal/errs"
)

// seedCells inserts a segmentation run with n cells and returns the
// run and cell ids.
func seedCells(t *testing.T, s *ExperimentStore, ctx context.Context, ref FOVRef, n int) (int64, []int64) {
	t.Helper()
	runID, err := s.AddSegmentationRun(ctx, "DAPI", "cyto3", `{"diameter": 30}`)
	if err != nil {
		t.Fatalf("AddSegmentationRun() error: %v", err)
	}
	cells := make([]Cell, n)
	for i := range cells {
		cells[i] = Cell{
			LabelValue: i + 1,
			CentroidX:  float64(i), CentroidY: float64(i),
			AreaPx:  float64(100 + i),
			IsValid: true,
		}
	}
	ids, err := s.AddCells(ctx, ref, runID, cells)
	if err != nil {
		t.Fatalf("AddCells() error: %v", err)
	}
	if err := s.UpdateSegmentationRunCellCount(ctx, runID, len(ids)); err != nil {
		t.Fatalf("UpdateSegmentationRunCellCount() error: %v", err)
	}
	return runID, ids
}

func TestSegmentAndMeasure(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 50)

	count, err := s.CellCount(ctx, CellFilter{Condition: "control"})
	if err != nil {
		t.Fatalf("CellCount() error: %v", err)
	}
	if count != 50 {
		t.Errorf("CellCount() = %d, want 50", count)
	}

	ms := make([]Measurement, len(ids))
	for i, id := range ids {
		ms[i] = Measurement{CellID: id, Channel: "DAPI", Metric: "mean_intensity", Value: float64(i) * 1.5}
	}
	if _, err := s.AddMeasurements(ctx, ms); err != nil {
		t.Fatalf("AddMeasurements() error: %v", err)
	}

	pivot, err := s.MeasurementPivot(ctx, nil, nil, true)
	if err != nil {
		t.Fatalf("MeasurementPivot() error: %v", err)
	}
	if len(pivot.Rows) != 50 {
		t.Errorf("pivot rows = %d, want 50", len(pivot.Rows))
	}
	if len(pivot.Columns) != 1 || pivot.Columns[0] != "DAPI_mean_intensity" {
		t.Errorf("pivot columns = %v, want [DAPI_mean_intensity]", pivot.Columns)
	}
	if pivot.Rows[0].FOV != "fov_1" || pivot.Rows[0].Condition != "control" {
		t.Errorf("pivot cell info = %+v", pivot.Rows[0])
	}
}

func TestSegmentationRunCellCountInvariant(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	runID, _ := seedCells(t, s, ctx, ref, 7)

	runs, err := s.SegmentationRuns(ctx)
	if err != nil {
		t.Fatalf("SegmentationRuns() error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Fatalf("runs = %+v", runs)
	}
	valid := true
	count, err := s.CellCount(ctx, CellFilter{IsValid: &valid})
	if err != nil {
		t.Fatalf("CellCount() error: %v", err)
	}
	if runs[0].CellCount != count {
		t.Errorf("run cell count %d != valid cells %d", runs[0].CellCount, count)
	}
	if runs[0].Model != "cyto3" || runs[0].Channel != "DAPI" {
		t.Errorf("run = %+v", runs[0])
	}
}

func TestResegmentCascade(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	oldRun, ids := seedCells(t, s, ctx, ref, 5)

	// Measurements and tags on the old cells.
	if _, err := s.AddMeasurements(ctx, []Measurement{
		{CellID: ids[0], Channel: "DAPI", Metric: "mean_intensity", Value: 1},
	}); err != nil {
		t.Fatalf("AddMeasurements() error: %v", err)
	}
	if _, err := s.AddTag(ctx, "mitotic", "FF0000"); err != nil {
		t.Fatalf("AddTag() error: %v", err)
	}
	if err := s.TagCells(ctx, "mitotic", ids[:2]); err != nil {
		t.Fatalf("TagCells() error: %v", err)
	}

	// Re-segment with a new run and fewer labels.
	newRun, err := s.AddSegmentationRun(ctx, "DAPI", "cyto3", "")
	if err != nil {
		t.Fatalf("AddSegmentationRun() error: %v", err)
	}
	cells := make([]Cell, 3)
	for i := range cells {
		cells[i] = Cell{LabelValue: i + 1, IsValid: true}
	}
	if _, err := s.AddCells(ctx, ref, newRun, cells); err != nil {
		t.Fatalf("AddCells() (resegment) error: %v", err)
	}

	count, err := s.CellCount(ctx, CellFilter{Condition: "control"})
	if err != nil {
		t.Fatalf("CellCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("cell count after resegment = %d, want 3", count)
	}

	// Old measurements and tag bindings are gone.
	ms, err := s.Measurements(ctx, MeasurementFilter{})
	if err != nil {
		t.Fatalf("Measurements() error: %v", err)
	}
	if len(ms) != 0 {
		t.Errorf("measurements after resegment = %d, want 0", len(ms))
	}
	tagged, err := s.Cells(ctx, CellFilter{Tags: []string{"mitotic"}})
	if err != nil {
		t.Fatalf("Cells(tag filter) error: %v", err)
	}
	if len(tagged) != 0 {
		t.Errorf("tagged cells after resegment = %d, want 0", len(tagged))
	}

	// The old run row is preserved with no cells referencing it.
	runs, err := s.SegmentationRuns(ctx)
	if err != nil {
		t.Fatalf("SegmentationRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	all, err := s.Cells(ctx, CellFilter{})
	if err != nil {
		t.Fatalf("Cells() error: %v", err)
	}
	for _, c := range all {
		if c.SegmentationID == oldRun {
			t.Errorf("cell %d still references old run %d", c.ID, oldRun)
		}
	}
}

func TestAddCells_DuplicateLabelRollsBackBatch(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}

	runID, err := s.AddSegmentationRun(ctx, "DAPI", "cyto3", "")
	if err != nil {
		t.Fatalf("AddSegmentationRun() error: %v", err)
	}
	cells := []Cell{
		{LabelValue: 1, IsValid: true},
		{LabelValue: 2, IsValid: true},
		{LabelValue: 1, IsValid: true}, // duplicate within the run
	}
	if _, err := s.AddCells(ctx, ref, runID, cells); !errs.IsDuplicate(err) {
		t.Fatalf("AddCells() kind = %s, want duplicate", errs.KindOf(err))
	}

	count, err := s.CellCount(ctx, CellFilter{})
	if err != nil {
		t.Fatalf("CellCount() error: %v", err)
	}
	if count != 0 {
		t.Errorf("cells after rolled-back batch = %d, want 0", count)
	}
}

func TestAddMeasurements_DuplicateTripleRollsBack(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 2)

	ms := []Measurement{
		{CellID: ids[0], Channel: "DAPI", Metric: "mean_intensity", Value: 1},
		{CellID: ids[0], Channel: "DAPI", Metric: "mean_intensity", Value: 2},
	}
	if _, err := s.AddMeasurements(ctx, ms); !errs.IsDuplicate(err) {
		t.Fatalf("AddMeasurements() kind = %s, want duplicate", errs.KindOf(err))
	}

	left, err := s.Measurements(ctx, MeasurementFilter{})
	if err != nil {
		t.Fatalf("Measurements() error: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("measurements after rollback = %d, want 0", len(left))
	}
}

func TestEmptyBulkInsertsAreNoOps(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}

	ids, err := s.AddCells(ctx, ref, 999, nil)
	if err != nil {
		t.Fatalf("AddCells(empty) error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("AddCells(empty) ids = %v, want empty", ids)
	}

	ids, err = s.AddMeasurements(ctx, nil)
	if err != nil {
		t.Fatalf("AddMeasurements(empty) error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("AddMeasurements(empty) ids = %v, want empty", ids)
	}

	ids, err = s.AddParticles(ctx, ref, 999, nil)
	if err != nil {
		t.Fatalf("AddParticles(empty) error: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("AddParticles(empty) ids = %v, want empty", ids)
	}
}

func TestCells_RegionFilterRequiresCondition(t *testing.T) {
	s, ctx := newTestStore(t)

	if _, err := s.Cells(ctx, CellFilter{BioRep: "N1"}); !errs.IsInvalidArgument(err) {
		t.Errorf("Cells() kind = %s, want invalid-argument", errs.KindOf(err))
	}
	if _, err := s.FOVs(ctx, FOVFilter{BioRep: "N1"}); !errs.IsInvalidArgument(err) {
		t.Errorf("FOVs() kind = %s, want invalid-argument", errs.KindOf(err))
	}
}

func TestCells_AreaAndValidityFilters(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}

	runID, err := s.AddSegmentationRun(ctx, "DAPI", "cyto3", "")
	if err != nil {
		t.Fatalf("AddSegmentationRun() error: %v", err)
	}
	cells := []Cell{
		{LabelValue: 1, AreaPx: 50, IsValid: true},
		{LabelValue: 2, AreaPx: 150, IsValid: true},
		{LabelValue: 3, AreaPx: 250, IsValid: false},
	}
	if _, err := s.AddCells(ctx, ref, runID, cells); err != nil {
		t.Fatalf("AddCells() error: %v", err)
	}

	minArea := 100.0
	got, err := s.Cells(ctx, CellFilter{MinArea: &minArea})
	if err != nil {
		t.Fatalf("Cells(min area) error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("min area filter = %d cells, want 2", len(got))
	}

	valid := true
	got, err = s.Cells(ctx, CellFilter{IsValid: &valid})
	if err != nil {
		t.Fatalf("Cells(valid) error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("valid filter = %d cells, want 2", len(got))
	}

	maxArea := 100.0
	got, err = s.Cells(ctx, CellFilter{MinArea: &minArea, MaxArea: &maxArea})
	if err != nil {
		t.Fatalf("Cells(range) error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty range = %d cells, want 0", len(got))
	}
}

func TestTags_BindFilterUnbindDelete(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 4)

	if _, err := s.AddTag(ctx, "mitotic", "FF0000"); err != nil {
		t.Fatalf("AddTag() error: %v", err)
	}
	if _, err := s.AddTag(ctx, "mitotic", ""); !errs.IsDuplicate(err) {
		t.Errorf("duplicate tag kind = %s, want duplicate", errs.KindOf(err))
	}
	if err := s.TagCells(ctx, "mitotic", ids[:2]); err != nil {
		t.Fatalf("TagCells() error: %v", err)
	}
	// Re-tagging is idempotent.
	if err := s.TagCells(ctx, "mitotic", ids[:2]); err != nil {
		t.Fatalf("repeat TagCells() error: %v", err)
	}

	tagged, err := s.Cells(ctx, CellFilter{Tags: []string{"mitotic"}})
	if err != nil {
		t.Fatalf("Cells(tag) error: %v", err)
	}
	if len(tagged) != 2 {
		t.Errorf("tagged cells = %d, want 2", len(tagged))
	}

	if err := s.UntagCells(ctx, "mitotic", ids[:1]); err != nil {
		t.Fatalf("UntagCells() error: %v", err)
	}
	tagged, err = s.Cells(ctx, CellFilter{Tags: []string{"mitotic"}})
	if err != nil {
		t.Fatalf("Cells(tag) error: %v", err)
	}
	if len(tagged) != 1 {
		t.Errorf("tagged cells after untag = %d, want 1", len(tagged))
	}

	// Group tags come and go by prefix.
	for _, name := range []string{"group:DAPI:mean:high", "group:DAPI:mean:low", "group:GFP:mean:high"} {
		if _, err := s.AddTag(ctx, name, ""); err != nil {
			t.Fatalf("AddTag(%q) error: %v", name, err)
		}
	}
	n, err := s.DeleteTagsByPrefix(ctx, "group:DAPI:")
	if err != nil {
		t.Fatalf("DeleteTagsByPrefix() error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d tags, want 2", n)
	}
	tags, err := s.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags() error: %v", err)
	}
	if len(tags) != 2 { // mitotic + group:GFP:mean:high
		t.Errorf("remaining tags = %+v, want 2", tags)
	}

	if err := s.TagCells(ctx, "absent", ids); !errs.IsNotFound(err, errs.EntityTag) {
		t.Errorf("unknown tag kind = %s, want not-found:tag", errs.KindOf(err))
	}
}

func TestParticles_CascadeOnRethreshold(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 2)

	runID, err := s.AddThresholdRun(ctx, "DAPI", "otsu", `{"bins": 256}`, 117.5)
	if err != nil {
		t.Fatalf("AddThresholdRun() error: %v", err)
	}
	particles := []Particle{
		{CellID: ids[0], LabelValue: 1, AreaPx: 4, MeanIntensity: 200},
		{CellID: ids[0], LabelValue: 2, AreaPx: 9, MeanIntensity: 180},
		{CellID: ids[1], LabelValue: 1, AreaPx: 2, MeanIntensity: 150},
	}
	if _, err := s.AddParticles(ctx, ref, runID, particles); err != nil {
		t.Fatalf("AddParticles() error: %v", err)
	}
	// A grouping tag that the re-threshold cascade must clear.
	if _, err := s.AddTag(ctx, "group:DAPI:area:high", ""); err != nil {
		t.Fatalf("AddTag() error: %v", err)
	}

	got, err := s.Particles(ctx, ParticleFilter{ThresholdID: runID})
	if err != nil {
		t.Fatalf("Particles() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("particles = %d, want 3", len(got))
	}

	// Re-threshold: old particles and group tags go, run rows stay.
	runID2, err := s.AddThresholdRun(ctx, "DAPI", "otsu", "", 120)
	if err != nil {
		t.Fatalf("second AddThresholdRun() error: %v", err)
	}
	if _, err := s.AddParticles(ctx, ref, runID2, particles[:1]); err != nil {
		t.Fatalf("AddParticles() (rethreshold) error: %v", err)
	}

	got, err = s.Particles(ctx, ParticleFilter{})
	if err != nil {
		t.Fatalf("Particles() error: %v", err)
	}
	if len(got) != 1 || got[0].ThresholdID != runID2 {
		t.Errorf("particles after rethreshold = %+v, want 1 from run %d", got, runID2)
	}
	tags, err := s.Tags(ctx)
	if err != nil {
		t.Fatalf("Tags() error: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("group tags after rethreshold = %+v, want none", tags)
	}
	runs, err := s.ThresholdRuns(ctx)
	if err != nil {
		t.Fatalf("ThresholdRuns() error: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("threshold runs = %d, want 2 (history preserved)", len(runs))
	}

	if err := s.DeleteParticlesForFOV(ctx, ref); err != nil {
		t.Fatalf("DeleteParticlesForFOV() error: %v", err)
	}
	got, err = s.Particles(ctx, ParticleFilter{})
	if err != nil {
		t.Fatalf("Particles() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("particles after delete = %d, want 0", len(got))
	}
}

func TestAnalysisRunLifecycle(t *testing.T) {
	s, ctx := newTestStore(t)

	id, err := s.StartAnalysisRun(ctx, "colocalization", `{"channels": ["DAPI"]}`)
	if err != nil {
		t.Fatalf("StartAnalysisRun() error: %v", err)
	}

	runs, err := s.AnalysisRuns(ctx)
	if err != nil {
		t.Fatalf("AnalysisRuns() error: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusRunning || runs[0].CompletedAt != nil {
		t.Fatalf("runs = %+v, want one running", runs)
	}

	if err := s.CompleteAnalysisRun(ctx, id, "paused", 0); !errs.IsInvalidArgument(err) {
		t.Errorf("bad status kind = %s, want invalid-argument", errs.KindOf(err))
	}
	if err := s.CompleteAnalysisRun(ctx, id, StatusCompleted, 42); err != nil {
		t.Fatalf("CompleteAnalysisRun() error: %v", err)
	}

	runs, err = s.AnalysisRuns(ctx)
	if err != nil {
		t.Fatalf("AnalysisRuns() error: %v", err)
	}
	if runs[0].Status != StatusCompleted || runs[0].CellCount != 42 || runs[0].CompletedAt == nil {
		t.Errorf("completed run = %+v", runs[0])
	}

	// No back-transitions.
	if err := s.CompleteAnalysisRun(ctx, id, StatusFailed, 0); !errs.IsInvalidArgument(err) {
		t.Errorf("re-complete kind = %s, want invalid-argument", errs.KindOf(err))
	}
	if err := s.CompleteAnalysisRun(ctx, 9999, StatusCompleted, 0); !errs.IsNotFound(err, errs.EntityAnalysisRun) {
		t.Errorf("unknown run kind = %s, want not-found:analysis_run", errs.KindOf(err))
	}
}

func TestFOVSegmentationSummary(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	seedCells(t, s, ctx, ref, 6)

	if _, err := s.AddFOV(ctx, FOVSpec{Name: "fov_2", Condition: "control"}); err != nil {
		t.Fatalf("AddFOV() error: %v", err)
	}

	summary, err := s.FOVSegmentationSummary(ctx)
	if err != nil {
		t.Fatalf("FOVSegmentationSummary() error: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(summary))
	}
	if summary[0].FOV != "fov_1" || summary[0].CellCount != 6 || summary[0].Runs != 1 {
		t.Errorf("fov_1 summary = %+v", summary[0])
	}
	if summary[1].FOV != "fov_2" || summary[1].CellCount != 0 || summary[1].Runs != 0 {
		t.Errorf("fov_2 summary = %+v", summary[1])
	}
}

func TestExportCSV(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 3)

	ms := make([]Measurement, len(ids))
	for i, id := range ids {
		ms[i] = Measurement{CellID: id, Channel: "DAPI", Metric: "mean_intensity", Value: float64(10 * i)}
	}
	if _, err := s.AddMeasurements(ctx, ms); err != nil {
		t.Fatalf("AddMeasurements() error: %v", err)
	}

	out := filepath.Join(s.ExportsDir(), "measurements.csv")
	if err := s.ExportCSV(ctx, out, nil, nil); err != nil {
		t.Fatalf("ExportCSV() error: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(records) != 4 { // header + 3 cells
		t.Fatalf("export rows = %d, want 4", len(records))
	}
	header := records[0]
	if header[len(header)-1] != "DAPI_mean_intensity" {
		t.Errorf("last header column = %q, want DAPI_mean_intensity", header[len(header)-1])
	}
	if records[1][1] != "control" || records[1][3] != "fov_1" {
		t.Errorf("first data row = %v", records[1])
	}
}

func TestMeasurements_FilterByChannelAndMetric(t *testing.T) {
	s, ctx := newTestStore(t)
	ref := FOVRef{Name: "fov_1", Condition: "control"}
	_, ids := seedCells(t, s, ctx, ref, 2)

	if _, err := s.AddChannel(ctx, ChannelSpec{Name: "GFP", DisplayOrder: 1}); err != nil {
		t.Fatalf("AddChannel() error: %v", err)
	}
	ms := []Measurement{
		{CellID: ids[0], Channel: "DAPI", Metric: "mean_intensity", Value: 1},
		{CellID: ids[0], Channel: "GFP", Metric: "mean_intensity", Value: 2},
		{CellID: ids[0], Channel: "GFP", Metric: "total_intensity", Value: 3},
		{CellID: ids[1], Channel: "GFP", Metric: "mean_intensity", Value: 4},
	}
	if _, err := s.AddMeasurements(ctx, ms); err != nil {
		t.Fatalf("AddMeasurements() error: %v", err)
	}

	got, err := s.Measurements(ctx, MeasurementFilter{Channels: []string{"GFP"}, Metrics: []string{"mean_intensity"}})
	if err != nil {
		t.Fatalf("Measurements() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("filtered measurements = %d, want 2", len(got))
	}

	got, err = s.Measurements(ctx, MeasurementFilter{CellIDs: []int64{ids[0]}})
	if err != nil {
		t.Fatalf("Measurements(cell filter) error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("cell-filtered measurements = %d, want 3", len(got))
	}

	unknown := []Measurement{{CellID: ids[0], Channel: "TRITC", Metric: "mean_intensity", Value: 1}}
	if _, err := s.AddMeasurements(ctx, unknown); !errs.IsNotFound(err, errs.EntityChannel) {
		t.Errorf("unknown channel kind = %s, want not-found:channel", errs.KindOf(err))
	}
}
