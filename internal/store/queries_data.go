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
	"strings"
	"time"

	"github.com/marcusjoshm/percell/internal/errs"
)

func insertSegmentationRun(ctx context.Context, q dbtx, channelID int64, model, params string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO segmentation_runs (channel_id, model, params, created_at) VALUES (?, ?, ?, ?)`,
		channelID, model, params, timestamp(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert segmentation run: %w", err)
	}
	return res.LastInsertId()
}

func selectSegmentationRuns(ctx context.Context, q dbtx) ([]SegmentationRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT r.id, ch.name, r.model, r.params, r.cell_count, r.created_at
		 FROM segmentation_runs r JOIN channels ch ON ch.id = r.channel_id
		 ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("select segmentation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []SegmentationRun
	for rows.Next() {
		var r SegmentationRun
		var created string
		if err := rows.Scan(&r.ID, &r.Channel, &r.Model, &r.Params, &r.CellCount, &created); err != nil {
			return nil, fmt.Errorf("scan segmentation run: %w", err)
		}
		r.CreatedAt = parseTimestamp(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func updateSegmentationRunCellCount(ctx context.Context, q dbtx, id int64, count int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE segmentation_runs SET cell_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("update segmentation run cell count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update segmentation run cell count: %w", err)
	}
	if n == 0 {
		return errs.NewNotFound(errs.EntitySegmentationRun, fmt.Sprintf("%d", id))
	}
	return nil
}

func segmentationRunExists(ctx context.Context, q dbtx, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM segmentation_runs WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return errs.NewNotFound(errs.EntitySegmentationRun, fmt.Sprintf("%d", id))
	}
	if err != nil {
		return fmt.Errorf("select segmentation run: %w", err)
	}
	return nil
}

func insertThresholdRun(ctx context.Context, q dbtx, channelID int64, method, params string, threshold float64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO threshold_runs (channel_id, method, params, threshold, created_at) VALUES (?, ?, ?, ?, ?)`,
		channelID, method, params, threshold, timestamp(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert threshold run: %w", err)
	}
	return res.LastInsertId()
}

func selectThresholdRuns(ctx context.Context, q dbtx) ([]ThresholdRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT r.id, ch.name, r.method, r.params, r.threshold, r.created_at
		 FROM threshold_runs r JOIN channels ch ON ch.id = r.channel_id
		 ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("select threshold runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ThresholdRun
	for rows.Next() {
		var r ThresholdRun
		var created string
		if err := rows.Scan(&r.ID, &r.Channel, &r.Method, &r.Params, &r.Threshold, &created); err != nil {
			return nil, fmt.Errorf("scan threshold run: %w", err)
		}
		r.CreatedAt = parseTimestamp(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func selectThresholdRunByID(ctx context.Context, q dbtx, id int64) (*ThresholdRun, error) {
	var r ThresholdRun
	var created string
	err := q.QueryRowContext(ctx,
		`SELECT r.id, ch.name, r.method, r.params, r.threshold, r.created_at
		 FROM threshold_runs r JOIN channels ch ON ch.id = r.channel_id WHERE r.id = ?`, id,
	).Scan(&r.ID, &r.Channel, &r.Method, &r.Params, &r.Threshold, &created)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityThresholdRun, fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("select threshold run: %w", err)
	}
	r.CreatedAt = parseTimestamp(created)
	return &r, nil
}

func insertAnalysisRun(ctx context.Context, q dbtx, plugin, params string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO analysis_runs (plugin, params, status, started_at) VALUES (?, ?, ?, ?)`,
		plugin, params, StatusRunning, timestamp(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert analysis run: %w", err)
	}
	return res.LastInsertId()
}

func finishAnalysisRun(ctx context.Context, q dbtx, id int64, status string, cellCount int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE analysis_runs SET status = ?, cell_count = ?, completed_at = ? WHERE id = ? AND status = ?`,
		status, cellCount, timestamp(time.Now()), id, StatusRunning)
	if err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete analysis run: %w", err)
	}
	if n == 0 {
		// Either the row is missing or it already left the running
		// state; distinguish for the caller.
		var one int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM analysis_runs WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return errs.NewNotFound(errs.EntityAnalysisRun, fmt.Sprintf("%d", id))
		}
		if err != nil {
			return fmt.Errorf("select analysis run: %w", err)
		}
		return errs.NewInvalidArgument("analysis run %d is not running", id)
	}
	return nil
}

func selectAnalysisRuns(ctx context.Context, q dbtx) ([]AnalysisRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, plugin, params, status, cell_count, started_at, IFNULL(completed_at, '')
		 FROM analysis_runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select analysis runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []AnalysisRun
	for rows.Next() {
		var r AnalysisRun
		var started, completed string
		if err := rows.Scan(&r.ID, &r.Plugin, &r.Params, &r.Status, &r.CellCount, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan analysis run: %w", err)
		}
		r.StartedAt = parseTimestamp(started)
		if completed != "" {
			t := parseTimestamp(completed)
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// deleteCellsCascade removes, in order, the measurements, tag bindings,
// and cells of one FOV. It runs inside the caller's transaction.
func deleteCellsCascade(ctx context.Context, tx *sql.Tx, fovID int64) error {
	steps := []string{
		`DELETE FROM measurements WHERE cell_id IN (SELECT id FROM cells WHERE fov_id = ?)`,
		`DELETE FROM cell_tags WHERE cell_id IN (SELECT id FROM cells WHERE fov_id = ?)`,
		`DELETE FROM cells WHERE fov_id = ?`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt, fovID); err != nil {
			return fmt.Errorf("cascade delete cells: %w", err)
		}
	}
	return nil
}

func insertCells(ctx context.Context, tx *sql.Tx, fovID, segmentationID int64, cells []Cell) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cells (fov_id, segmentation_id, label_value, centroid_x, centroid_y,
			bbox_x, bbox_y, bbox_w, bbox_h, area_px, area_um2, perimeter, circularity, is_valid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert cell: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, 0, len(cells))
	for _, c := range cells {
		res, err := stmt.ExecContext(ctx, fovID, segmentationID, c.LabelValue,
			c.CentroidX, c.CentroidY, c.BBoxX, c.BBoxY, c.BBoxW, c.BBoxH,
			c.AreaPx, c.AreaUM2, c.Perimeter, c.Circularity, c.IsValid)
		if err != nil {
			return nil, mapUnique(err, errs.EntityCell, fmt.Sprintf("label %d", c.LabelValue), "insert cell")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert cell: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

const cellColumns = `cl.id, cl.fov_id, cl.segmentation_id, cl.label_value, cl.centroid_x, cl.centroid_y,
	cl.bbox_x, cl.bbox_y, cl.bbox_w, cl.bbox_h, cl.area_px, cl.area_um2, cl.perimeter, cl.circularity, cl.is_valid`

func scanCells(rows *sql.Rows) ([]Cell, error) {
	defer func() { _ = rows.Close() }()
	var out []Cell
	for rows.Next() {
		var c Cell
		if err := rows.Scan(&c.ID, &c.FOVID, &c.SegmentationID, &c.LabelValue,
			&c.CentroidX, &c.CentroidY, &c.BBoxX, &c.BBoxY, &c.BBoxW, &c.BBoxH,
			&c.AreaPx, &c.AreaUM2, &c.Perimeter, &c.Circularity, &c.IsValid); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// cellFilterClauses builds WHERE clauses for a cell filter. The tags
// clause is guarded against empty lists.
func cellFilterClauses(filter CellFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if filter.Condition != "" {
		clauses = append(clauses, `c.name = ?`)
		args = append(args, filter.Condition)
	}
	if filter.FOV != "" {
		clauses = append(clauses, `f.name = ?`)
		args = append(args, filter.FOV)
	}
	if filter.BioRep != "" {
		clauses = append(clauses, `b.name = ?`)
		args = append(args, filter.BioRep)
	}
	if filter.Timepoint != "" {
		clauses = append(clauses, `t.name = ?`)
		args = append(args, filter.Timepoint)
	}
	if filter.IsValid != nil {
		clauses = append(clauses, `cl.is_valid = ?`)
		args = append(args, *filter.IsValid)
	}
	if filter.MinArea != nil {
		clauses = append(clauses, `cl.area_px >= ?`)
		args = append(args, *filter.MinArea)
	}
	if filter.MaxArea != nil {
		clauses = append(clauses, `cl.area_px <= ?`)
		args = append(args, *filter.MaxArea)
	}
	if len(filter.Tags) > 0 {
		clauses = append(clauses, `EXISTS (
			SELECT 1 FROM cell_tags ct JOIN tags tg ON tg.id = ct.tag_id
			WHERE ct.cell_id = cl.id AND tg.name IN (`+placeholders(len(filter.Tags))+`))`)
		for _, tag := range filter.Tags {
			args = append(args, tag)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(clauses, ` AND `), args
}

const cellJoins = ` FROM cells cl
	JOIN fovs f ON f.id = cl.fov_id
	JOIN bio_reps b ON b.id = f.bio_rep_id
	JOIN conditions c ON c.id = b.condition_id
	LEFT JOIN timepoints t ON t.id = f.timepoint_id`

func selectCells(ctx context.Context, q dbtx, filter CellFilter) ([]Cell, error) {
	where, args := cellFilterClauses(filter)
	rows, err := q.QueryContext(ctx,
		`SELECT `+cellColumns+cellJoins+where+` ORDER BY cl.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select cells: %w", err)
	}
	return scanCells(rows)
}

func countCells(ctx context.Context, q dbtx, filter CellFilter) (int, error) {
	where, args := cellFilterClauses(filter)
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*)`+cellJoins+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cells: %w", err)
	}
	return n, nil
}

func insertMeasurements(ctx context.Context, tx *sql.Tx, ms []Measurement, channelIDs map[string]int64) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO measurements (cell_id, channel_id, metric, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert measurement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, 0, len(ms))
	for _, m := range ms {
		res, err := stmt.ExecContext(ctx, m.CellID, channelIDs[m.Channel], m.Metric, m.Value)
		if err != nil {
			return nil, mapUnique(err, errs.EntityMeasurement,
				fmt.Sprintf("cell %d %s %s", m.CellID, m.Channel, m.Metric), "insert measurement")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert measurement: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func selectMeasurements(ctx context.Context, q dbtx, filter MeasurementFilter) ([]Measurement, error) {
	query := `SELECT m.id, m.cell_id, ch.name, m.metric, m.value
		FROM measurements m JOIN channels ch ON ch.id = m.channel_id`
	var clauses []string
	var args []interface{}
	if len(filter.CellIDs) > 0 {
		clauses = append(clauses, `m.cell_id IN (`+placeholders(len(filter.CellIDs))+`)`)
		for _, id := range filter.CellIDs {
			args = append(args, id)
		}
	}
	if len(filter.Channels) > 0 {
		clauses = append(clauses, `ch.name IN (`+placeholders(len(filter.Channels))+`)`)
		for _, name := range filter.Channels {
			args = append(args, name)
		}
	}
	if len(filter.Metrics) > 0 {
		clauses = append(clauses, `m.metric IN (`+placeholders(len(filter.Metrics))+`)`)
		for _, metric := range filter.Metrics {
			args = append(args, metric)
		}
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY m.cell_id, ch.name, m.metric`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select measurements: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Measurement
	for rows.Next() {
		var m Measurement
		if err := rows.Scan(&m.ID, &m.CellID, &m.Channel, &m.Metric, &m.Value); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertParticles(ctx context.Context, tx *sql.Tx, thresholdID int64, ps []Particle) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO particles (cell_id, threshold_id, label_value, centroid_x, centroid_y,
			bbox_x, bbox_y, bbox_w, bbox_h, area_px, area_um2, perimeter, circularity,
			eccentricity, solidity, major_axis, minor_axis,
			mean_intensity, min_intensity, max_intensity, integrated_intensity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert particle: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ids := make([]int64, 0, len(ps))
	for _, p := range ps {
		res, err := stmt.ExecContext(ctx, p.CellID, thresholdID, p.LabelValue,
			p.CentroidX, p.CentroidY, p.BBoxX, p.BBoxY, p.BBoxW, p.BBoxH,
			p.AreaPx, p.AreaUM2, p.Perimeter, p.Circularity,
			p.Eccentricity, p.Solidity, p.MajorAxis, p.MinorAxis,
			p.MeanIntensity, p.MinIntensity, p.MaxIntensity, p.IntegratedIntensity)
		if err != nil {
			return nil, mapUnique(err, errs.EntityParticle,
				fmt.Sprintf("cell %d label %d", p.CellID, p.LabelValue), "insert particle")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert particle: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func selectParticles(ctx context.Context, q dbtx, filter ParticleFilter) ([]Particle, error) {
	query := `SELECT id, cell_id, threshold_id, label_value, centroid_x, centroid_y,
		bbox_x, bbox_y, bbox_w, bbox_h, area_px, area_um2, perimeter, circularity,
		eccentricity, solidity, major_axis, minor_axis,
		mean_intensity, min_intensity, max_intensity, integrated_intensity
		FROM particles`
	var clauses []string
	var args []interface{}
	if len(filter.CellIDs) > 0 {
		clauses = append(clauses, `cell_id IN (`+placeholders(len(filter.CellIDs))+`)`)
		for _, id := range filter.CellIDs {
			args = append(args, id)
		}
	}
	if filter.ThresholdID != 0 {
		clauses = append(clauses, `threshold_id = ?`)
		args = append(args, filter.ThresholdID)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY id`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select particles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Particle
	for rows.Next() {
		var p Particle
		if err := rows.Scan(&p.ID, &p.CellID, &p.ThresholdID, &p.LabelValue,
			&p.CentroidX, &p.CentroidY, &p.BBoxX, &p.BBoxY, &p.BBoxW, &p.BBoxH,
			&p.AreaPx, &p.AreaUM2, &p.Perimeter, &p.Circularity,
			&p.Eccentricity, &p.Solidity, &p.MajorAxis, &p.MinorAxis,
			&p.MeanIntensity, &p.MinIntensity, &p.MaxIntensity, &p.IntegratedIntensity); err != nil {
			return nil, fmt.Errorf("scan particle: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// deleteParticlesForFOV removes particles of the FOV's cells, limited
// to runs on the given channel when channelID is non-zero.
func deleteParticlesForFOV(ctx context.Context, q dbtx, fovID, channelID int64) error {
	query := `DELETE FROM particles WHERE cell_id IN (SELECT id FROM cells WHERE fov_id = ?)`
	args := []interface{}{fovID}
	if channelID != 0 {
		query += ` AND threshold_id IN (SELECT id FROM threshold_runs WHERE channel_id = ?)`
		args = append(args, channelID)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete particles: %w", err)
	}
	return nil
}

func insertTag(ctx context.Context, q dbtx, name, color string) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO tags (name, color) VALUES (?, ?)`, name, color)
	if err != nil {
		return 0, mapUnique(err, errs.EntityTag, name, "insert tag")
	}
	return res.LastInsertId()
}

func selectTags(ctx context.Context, q dbtx) ([]Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select tags: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func selectTagByName(ctx context.Context, q dbtx, name string) (*Tag, error) {
	var t Tag
	err := q.QueryRowContext(ctx, `SELECT id, name, color FROM tags WHERE name = ?`, name).
		Scan(&t.ID, &t.Name, &t.Color)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityTag, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select tag: %w", err)
	}
	return &t, nil
}

// bindCellTags attaches a tag to cells. Existing bindings are kept;
// re-tagging is idempotent.
func bindCellTags(ctx context.Context, tx *sql.Tx, tagID int64, cellIDs []int64) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO cell_tags (cell_id, tag_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bind tag: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, cellID := range cellIDs {
		if _, err := stmt.ExecContext(ctx, cellID, tagID); err != nil {
			return fmt.Errorf("bind tag: %w", err)
		}
	}
	return nil
}

func unbindCellTags(ctx context.Context, q dbtx, tagID int64, cellIDs []int64) error {
	if len(cellIDs) == 0 {
		return nil
	}
	args := []interface{}{tagID}
	for _, id := range cellIDs {
		args = append(args, id)
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM cell_tags WHERE tag_id = ? AND cell_id IN (`+placeholders(len(cellIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("unbind tag: %w", err)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters so a tag prefix matches
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// deleteTagsByPrefix removes tags whose names start with prefix, along
// with their cell bindings. Returns the number of tags removed.
func deleteTagsByPrefix(ctx context.Context, tx *sql.Tx, prefix string) (int, error) {
	pattern := escapeLike(prefix) + `%`
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cell_tags WHERE tag_id IN (SELECT id FROM tags WHERE name LIKE ? ESCAPE '\')`, pattern); err != nil {
		return 0, fmt.Errorf("delete tag bindings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE name LIKE ? ESCAPE '\'`, pattern)
	if err != nil {
		return 0, fmt.Errorf("delete tags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete tags: %w", err)
	}
	return int(n), nil
}
