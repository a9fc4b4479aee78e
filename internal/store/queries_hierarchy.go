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

// The query layer: one function per logical operation, parameterised
// statements only, row-to-record conversion done here. Consumers never
// see raw rows, and raw database errors never leave the package.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/marcusjoshm/percell/internal/errs"
)

// dbtx abstracts *sql.DB and *sql.Tx so query functions run inside or
// outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// isUniqueViolation detects the engine's uniqueness-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapUnique converts a uniqueness violation into a duplicate error for
// the given entity; other errors pass through wrapped.
func mapUnique(err error, entity, name, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return errs.NewDuplicate(entity, name)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// placeholders builds "?, ?, ?" for an IN clause of n values. Callers
// guard n > 0 before use.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func selectExperiment(ctx context.Context, q dbtx) (*Experiment, error) {
	var e Experiment
	var created string
	err := q.QueryRowContext(ctx,
		`SELECT name, description, version, created_at FROM experiment WHERE id = 1`,
	).Scan(&e.Name, &e.Description, &e.Version, &created)
	if err != nil {
		return nil, fmt.Errorf("select experiment: %w", err)
	}
	e.CreatedAt = parseTimestamp(created)
	return &e, nil
}

func updateExperimentName(ctx context.Context, q dbtx, name string) error {
	if _, err := q.ExecContext(ctx, `UPDATE experiment SET name = ? WHERE id = 1`, name); err != nil {
		return fmt.Errorf("rename experiment: %w", err)
	}
	return nil
}

func insertChannel(ctx context.Context, q dbtx, spec ChannelSpec) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO channels (name, role, excitation_nm, emission_nm, color, display_order, is_segmentation)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		spec.Name, spec.Role, spec.ExcitationNM, spec.EmissionNM, spec.Color, spec.DisplayOrder, spec.IsSegmentation)
	if err != nil {
		return 0, mapUnique(err, errs.EntityChannel, spec.Name, "insert channel")
	}
	return res.LastInsertId()
}

func scanChannels(rows *sql.Rows) ([]Channel, error) {
	defer func() { _ = rows.Close() }()
	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.ExcitationNM, &c.EmissionNM, &c.Color, &c.DisplayOrder, &c.IsSegmentation); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const channelColumns = `id, name, role, excitation_nm, emission_nm, color, display_order, is_segmentation`

func selectChannels(ctx context.Context, q dbtx) ([]Channel, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("select channels: %w", err)
	}
	return scanChannels(rows)
}

func selectChannelByName(ctx context.Context, q dbtx, name string) (*Channel, error) {
	var c Channel
	err := q.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Role, &c.ExcitationNM, &c.EmissionNM, &c.Color, &c.DisplayOrder, &c.IsSegmentation)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityChannel, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select channel: %w", err)
	}
	return &c, nil
}

func updateChannelName(ctx context.Context, q dbtx, id int64, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE channels SET name = ? WHERE id = ?`, name, id)
	return mapUnique(err, errs.EntityChannel, name, "rename channel")
}

func insertCondition(ctx context.Context, q dbtx, name, description string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO conditions (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return 0, mapUnique(err, errs.EntityCondition, name, "insert condition")
	}
	return res.LastInsertId()
}

func selectConditions(ctx context.Context, q dbtx) ([]Condition, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, description FROM conditions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select conditions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Condition
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func selectConditionByName(ctx context.Context, q dbtx, name string) (*Condition, error) {
	var c Condition
	err := q.QueryRowContext(ctx,
		`SELECT id, name, description FROM conditions WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Description)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityCondition, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select condition: %w", err)
	}
	return &c, nil
}

func updateConditionName(ctx context.Context, q dbtx, id int64, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE conditions SET name = ? WHERE id = ?`, name, id)
	return mapUnique(err, errs.EntityCondition, name, "rename condition")
}

func insertBioRep(ctx context.Context, q dbtx, conditionID int64, name string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO bio_reps (condition_id, name) VALUES (?, ?)`, conditionID, name)
	if err != nil {
		return 0, mapUnique(err, errs.EntityBioRep, name, "insert bio rep")
	}
	return res.LastInsertId()
}

func selectBioReps(ctx context.Context, q dbtx, conditionID int64) ([]BioRep, error) {
	query := `SELECT b.id, b.name, c.name FROM bio_reps b JOIN conditions c ON c.id = b.condition_id`
	var args []interface{}
	if conditionID != 0 {
		query += ` WHERE b.condition_id = ?`
		args = append(args, conditionID)
	}
	query += ` ORDER BY c.name, b.name`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bio reps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []BioRep
	for rows.Next() {
		var b BioRep
		if err := rows.Scan(&b.ID, &b.Name, &b.Condition); err != nil {
			return nil, fmt.Errorf("scan bio rep: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func selectBioRepByName(ctx context.Context, q dbtx, conditionID int64, name string) (*BioRep, error) {
	var b BioRep
	err := q.QueryRowContext(ctx,
		`SELECT b.id, b.name, c.name FROM bio_reps b JOIN conditions c ON c.id = b.condition_id
		 WHERE b.condition_id = ? AND b.name = ?`, conditionID, name,
	).Scan(&b.ID, &b.Name, &b.Condition)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityBioRep, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select bio rep: %w", err)
	}
	return &b, nil
}

func updateBioRepName(ctx context.Context, q dbtx, id int64, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE bio_reps SET name = ? WHERE id = ?`, name, id)
	return mapUnique(err, errs.EntityBioRep, name, "rename bio rep")
}

func insertTimepoint(ctx context.Context, q dbtx, name string, seconds float64, order int) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO timepoints (name, seconds, display_order) VALUES (?, ?, ?)`, name, seconds, order)
	if err != nil {
		return 0, mapUnique(err, errs.EntityTimepoint, name, "insert timepoint")
	}
	return res.LastInsertId()
}

func selectTimepoints(ctx context.Context, q dbtx) ([]Timepoint, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, seconds, display_order FROM timepoints ORDER BY display_order, name`)
	if err != nil {
		return nil, fmt.Errorf("select timepoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Timepoint
	for rows.Next() {
		var t Timepoint
		if err := rows.Scan(&t.ID, &t.Name, &t.Seconds, &t.DisplayOrder); err != nil {
			return nil, fmt.Errorf("scan timepoint: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func selectTimepointByName(ctx context.Context, q dbtx, name string) (*Timepoint, error) {
	var t Timepoint
	err := q.QueryRowContext(ctx,
		`SELECT id, name, seconds, display_order FROM timepoints WHERE name = ?`, name,
	).Scan(&t.ID, &t.Name, &t.Seconds, &t.DisplayOrder)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFound(errs.EntityTimepoint, name)
	}
	if err != nil {
		return nil, fmt.Errorf("select timepoint: %w", err)
	}
	return &t, nil
}

func insertFOV(ctx context.Context, q dbtx, bioRepID int64, timepointID sql.NullInt64, spec FOVSpec) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO fovs (bio_rep_id, timepoint_id, name, width, height, pixel_size_um, source_file)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bioRepID, timepointID, spec.Name, spec.Width, spec.Height, spec.PixelSizeUM, spec.SourceFile)
	if err != nil {
		return 0, mapUnique(err, errs.EntityFOV, spec.Name, "insert fov")
	}
	return res.LastInsertId()
}

const fovColumns = `f.id, f.name, c.name, b.name, IFNULL(t.name, ''), f.width, f.height, f.pixel_size_um, f.source_file`

const fovJoins = ` FROM fovs f
	JOIN bio_reps b ON b.id = f.bio_rep_id
	JOIN conditions c ON c.id = b.condition_id
	LEFT JOIN timepoints t ON t.id = f.timepoint_id`

func scanFOVs(rows *sql.Rows) ([]FOV, error) {
	defer func() { _ = rows.Close() }()
	var out []FOV
	for rows.Next() {
		var f FOV
		if err := rows.Scan(&f.ID, &f.Name, &f.Condition, &f.BioRep, &f.Timepoint,
			&f.Width, &f.Height, &f.PixelSizeUM, &f.SourceFile); err != nil {
			return nil, fmt.Errorf("scan fov: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func selectFOVs(ctx context.Context, q dbtx, filter FOVFilter) ([]FOV, error) {
	query := `SELECT ` + fovColumns + fovJoins
	var clauses []string
	var args []interface{}
	if filter.Condition != "" {
		clauses = append(clauses, `c.name = ?`)
		args = append(args, filter.Condition)
	}
	if filter.BioRep != "" {
		clauses = append(clauses, `b.name = ?`)
		args = append(args, filter.BioRep)
	}
	if filter.Timepoint != "" {
		clauses = append(clauses, `t.name = ?`)
		args = append(args, filter.Timepoint)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY c.name, b.name, f.name`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select fovs: %w", err)
	}
	return scanFOVs(rows)
}

// selectFOVByIdentity looks up a FOV by its uniqueness tuple.
func selectFOVByIdentity(ctx context.Context, q dbtx, name string, bioRepID int64, timepointID sql.NullInt64) (*FOV, error) {
	query := `SELECT ` + fovColumns + fovJoins + ` WHERE f.name = ? AND f.bio_rep_id = ?`
	args := []interface{}{name, bioRepID}
	if timepointID.Valid {
		query += ` AND f.timepoint_id = ?`
		args = append(args, timepointID.Int64)
	} else {
		query += ` AND f.timepoint_id IS NULL`
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select fov: %w", err)
	}
	fovs, err := scanFOVs(rows)
	if err != nil {
		return nil, err
	}
	if len(fovs) == 0 {
		return nil, errs.NewNotFound(errs.EntityFOV, name)
	}
	return &fovs[0], nil
}

func updateFOVName(ctx context.Context, q dbtx, id int64, name string) error {
	_, err := q.ExecContext(ctx, `UPDATE fovs SET name = ? WHERE id = ?`, name, id)
	return mapUnique(err, errs.EntityFOV, name, "rename fov")
}

// selectFOVSegmentationSummary reports valid-cell counts per FOV and the
// runs those cells come from.
func selectFOVSegmentationSummary(ctx context.Context, q dbtx) ([]FOVSegmentationSummary, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT f.name, c.name, b.name, IFNULL(t.name, ''),
			COUNT(cl.id),
			COUNT(DISTINCT cl.segmentation_id),
			IFNULL(MAX(sr.created_at), '')
		`+fovJoins+`
		LEFT JOIN cells cl ON cl.fov_id = f.id AND cl.is_valid = 1
		LEFT JOIN segmentation_runs sr ON sr.id = cl.segmentation_id
		GROUP BY f.id
		ORDER BY c.name, b.name, f.name`)
	if err != nil {
		return nil, fmt.Errorf("select segmentation summary: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []FOVSegmentationSummary
	for rows.Next() {
		var s FOVSegmentationSummary
		var last string
		if err := rows.Scan(&s.FOV, &s.Condition, &s.BioRep, &s.Timepoint, &s.CellCount, &s.Runs, &last); err != nil {
			return nil, fmt.Errorf("scan segmentation summary: %w", err)
		}
		if last != "" {
			s.LastRunAt = parseTimestamp(last)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
