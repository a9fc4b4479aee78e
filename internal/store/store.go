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

// Package store implements the ExperimentStore: a self-contained
// on-disk experiment directory that unifies a relational metadata
// database and three chunked array stores behind one facade. The
// facade owns the database connection and is the only entry point for
// every other module; raw connections and rows never leave it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
	"github.com/marcusjoshm/percell/internal/zarr"
)

const (
	dbFileName     = "experiment.db"
	imagesDirName  = "images.zarr"
	labelsDirName  = "labels.zarr"
	masksDirName   = "masks.zarr"
	exportsDirName = "exports"

	// DefaultBioRep is the replicate auto-created the first time a
	// condition receives a FOV without an explicit bio-rep.
	DefaultBioRep = "N1"
)

// ExperimentStore is the public surface of one open experiment
// directory. One instance serialises its own writes; any number of
// concurrent readers are safe under WAL.
type ExperimentStore struct {
	dir    string
	db     *sql.DB
	images *zarr.Store
	labels *zarr.Store
	masks  *zarr.Store
	zstd   *zarr.Zstd

	mu     sync.Mutex // serialises writes from this instance
	closed bool
}

// Create makes a new experiment directory at dir, failing if it
// already exists.
func Create(ctx context.Context, dir, name, description string) (*ExperimentStore, error) {
	if err := validate.Name(name); err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil, errs.NewDuplicate(errs.EntityExperiment, dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return nil, errs.NewIOFailure("create experiment parent directory", err)
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, errs.NewIOFailure("create experiment directory", err)
	}

	s, err := createInDir(ctx, dir, name, description)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return s, nil
}

func createInDir(ctx context.Context, dir, name, description string) (*ExperimentStore, error) {
	db, err := openDB(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := createSchema(ctx, db, name, description); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := attachStores(dir, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, exportsDirName), 0755); err != nil {
		_ = db.Close()
		return nil, errs.NewIOFailure("create exports directory", err)
	}
	return s, nil
}

// Open opens an existing experiment directory. An experiment whose
// stored schema version differs from the pinned version is refused,
// leaving the directory unchanged.
func Open(ctx context.Context, dir string) (*ExperimentStore, error) {
	if _, err := os.Stat(filepath.Join(dir, dbFileName)); err != nil {
		return nil, errs.NewNotFound(errs.EntityExperiment, dir)
	}
	db, err := openDB(ctx, dir)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := attachStores(dir, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// With opens the experiment at dir, runs fn, and closes the store on
// every exit path.
func With(ctx context.Context, dir string, fn func(*ExperimentStore) error) error {
	s, err := Open(ctx, dir)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

func openDB(ctx context.Context, dir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises this instance's writes; readers
	// elsewhere see consistent WAL snapshots.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func attachStores(dir string, db *sql.DB) (*ExperimentStore, error) {
	images, err := zarr.Open(filepath.Join(dir, imagesDirName))
	if err != nil {
		return nil, errs.NewIOFailure("open image store", err)
	}
	labels, err := zarr.Open(filepath.Join(dir, labelsDirName))
	if err != nil {
		return nil, errs.NewIOFailure("open label store", err)
	}
	masks, err := zarr.Open(filepath.Join(dir, masksDirName))
	if err != nil {
		return nil, errs.NewIOFailure("open mask store", err)
	}
	zs, err := zarr.NewZstd()
	if err != nil {
		return nil, errs.NewIOFailure("initialise mask codec", err)
	}
	return &ExperimentStore{
		dir:    dir,
		db:     db,
		images: images,
		labels: labels,
		masks:  masks,
		zstd:   zs,
	}, nil
}

// Close releases the database connection. Closing twice is a no-op.
func (s *ExperimentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Dir returns the experiment directory path.
func (s *ExperimentStore) Dir() string {
	return s.dir
}

// Experiment returns the singleton experiment metadata.
func (s *ExperimentStore) Experiment(ctx context.Context) (*Experiment, error) {
	return selectExperiment(ctx, s.db)
}

// groupPath computes a FOV's logical array-store path from the current
// hierarchy names. Paths are never persisted.
func groupPath(condition, bioRep, timepoint, fov string) string {
	parts := []string{condition, bioRep}
	if timepoint != "" {
		parts = append(parts, timepoint)
	}
	parts = append(parts, fov)
	return strings.Join(parts, "/")
}

// fovNode is a resolved FOV: its record plus its computed group path.
type fovNode struct {
	fov  FOV
	path string
}

// resolveFOV maps a logical (name, condition, bio-rep?, timepoint?)
// tuple to a row and a group path. When BioRep is empty and exactly one
// replicate exists under the condition it is auto-resolved; with two or
// more the call demands an explicit replicate.
func (s *ExperimentStore) resolveFOV(ctx context.Context, ref FOVRef) (*fovNode, error) {
	if err := validate.Names(ref.Name, ref.Condition); err != nil {
		return nil, err
	}
	cond, err := selectConditionByName(ctx, s.db, ref.Condition)
	if err != nil {
		return nil, err
	}

	var rep *BioRep
	if ref.BioRep != "" {
		if err := validate.Name(ref.BioRep); err != nil {
			return nil, err
		}
		rep, err = selectBioRepByName(ctx, s.db, cond.ID, ref.BioRep)
		if err != nil {
			return nil, err
		}
	} else {
		reps, err := selectBioReps(ctx, s.db, cond.ID)
		if err != nil {
			return nil, err
		}
		switch len(reps) {
		case 0:
			return nil, errs.NewNotFound(errs.EntityFOV, ref.Name)
		case 1:
			rep = &reps[0]
		default:
			return nil, errs.NewInvalidArgument(
				"condition %q has %d bio reps; an explicit bio rep is required", ref.Condition, len(reps))
		}
	}

	var tpID sql.NullInt64
	if ref.Timepoint != "" {
		if err := validate.Name(ref.Timepoint); err != nil {
			return nil, err
		}
		tp, err := selectTimepointByName(ctx, s.db, ref.Timepoint)
		if err != nil {
			return nil, err
		}
		tpID = sql.NullInt64{Int64: tp.ID, Valid: true}
	}

	fov, err := selectFOVByIdentity(ctx, s.db, ref.Name, rep.ID, tpID)
	if err != nil {
		return nil, err
	}
	return &fovNode{
		fov:  *fov,
		path: groupPath(cond.Name, rep.Name, ref.Timepoint, fov.Name),
	}, nil
}

// begin starts a write transaction.
func (s *ExperimentStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}

// nullInt64 wraps an id as a nullable column value; zero means NULL.
func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

// isHexColor reports whether c is a 6-hex-digit display color.
func isHexColor(c string) bool {
	if len(c) != 6 {
		return false
	}
	for _, r := range c {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
