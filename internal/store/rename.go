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

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
	"github.com/marcusjoshm/percell/internal/zarr"
)

// subtreeMove is one array-store subtree relocation attached to a
// rename.
type subtreeMove struct {
	store *zarr.Store
	src   string
	dst   string
}

// renameWithMoves runs a rename: the row update happens first inside a
// transaction, then every subtree is copied to its new path, and only
// then does the transaction commit. A failed copy rolls everything
// back and leaves the old subtrees intact. After commit the old
// subtrees are deleted best-effort; a failed delete leaves orphan data
// that a retry cleans up.
func (s *ExperimentStore) renameWithMoves(ctx context.Context, update func(tx *sql.Tx) error, moves []subtreeMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	if err := update(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	var copied []subtreeMove
	undo := func() {
		for _, m := range copied {
			_ = m.store.Remove(m.dst)
		}
	}
	for _, m := range moves {
		if !m.store.GroupExists(m.src) {
			continue
		}
		if err := m.store.Copy(m.src, m.dst); err != nil {
			_ = m.store.Remove(m.dst)
			undo()
			_ = tx.Rollback()
			return errs.NewIOFailure("move array subtree", err)
		}
		copied = append(copied, m)
	}

	if err := tx.Commit(); err != nil {
		undo()
		return errs.NewIOFailure("commit rename", err)
	}
	for _, m := range copied {
		_ = m.store.Remove(m.src)
	}
	return nil
}

// allStores lists the three sibling array stores.
func (s *ExperimentStore) allStores() []*zarr.Store {
	return []*zarr.Store{s.images, s.labels, s.masks}
}

// prefixMoves builds one move per store for a hierarchy-node rename.
func (s *ExperimentStore) prefixMoves(src, dst string) []subtreeMove {
	var moves []subtreeMove
	for _, zs := range s.allStores() {
		moves = append(moves, subtreeMove{store: zs, src: src, dst: dst})
	}
	return moves
}

// RenameExperiment changes the experiment's display name. The
// directory itself never moves while open.
func (s *ExperimentStore) RenameExperiment(ctx context.Context, newName string) error {
	if err := validate.Name(newName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateExperimentName(ctx, s.db, newName)
}

// RenameCondition renames a condition and moves every array group
// under its prefix.
func (s *ExperimentStore) RenameCondition(ctx context.Context, oldName, newName string) error {
	if err := validate.Names(oldName, newName); err != nil {
		return err
	}
	cond, err := selectConditionByName(ctx, s.db, oldName)
	if err != nil {
		return err
	}
	return s.renameWithMoves(ctx,
		func(tx *sql.Tx) error { return updateConditionName(ctx, tx, cond.ID, newName) },
		s.prefixMoves(oldName, newName))
}

// RenameBioRep renames a replicate under a condition and moves its
// array groups.
func (s *ExperimentStore) RenameBioRep(ctx context.Context, oldName, newName, condition string) error {
	if err := validate.Names(oldName, newName, condition); err != nil {
		return err
	}
	cond, err := selectConditionByName(ctx, s.db, condition)
	if err != nil {
		return err
	}
	rep, err := selectBioRepByName(ctx, s.db, cond.ID, oldName)
	if err != nil {
		return err
	}
	return s.renameWithMoves(ctx,
		func(tx *sql.Tx) error { return updateBioRepName(ctx, tx, rep.ID, newName) },
		s.prefixMoves(condition+"/"+oldName, condition+"/"+newName))
}

// RenameFOV renames a field of view and moves its array groups.
func (s *ExperimentStore) RenameFOV(ctx context.Context, ref FOVRef, newName string) error {
	if err := validate.Name(newName); err != nil {
		return err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}
	parent := node.path[:len(node.path)-len(node.fov.Name)]
	return s.renameWithMoves(ctx,
		func(tx *sql.Tx) error { return updateFOVName(ctx, tx, node.fov.ID, newName) },
		s.prefixMoves(node.path, parent+newName))
}

// RenameChannel renames a channel, moves its per-channel mask groups,
// and refreshes the display labels of image groups.
func (s *ExperimentStore) RenameChannel(ctx context.Context, oldName, newName string) error {
	if err := validate.Names(oldName, newName); err != nil {
		return err
	}
	ch, err := selectChannelByName(ctx, s.db, oldName)
	if err != nil {
		return err
	}
	fovs, err := selectFOVs(ctx, s.db, FOVFilter{})
	if err != nil {
		return err
	}

	var moves []subtreeMove
	for _, f := range fovs {
		gp := groupPath(f.Condition, f.BioRep, f.Timepoint, f.Name)
		moves = append(moves,
			subtreeMove{store: s.masks, src: gp + "/" + maskGroup(oldName), dst: gp + "/" + maskGroup(newName)},
			subtreeMove{store: s.masks, src: gp + "/" + particleGroup(oldName), dst: gp + "/" + particleGroup(newName)},
		)
	}
	err = s.renameWithMoves(ctx,
		func(tx *sql.Tx) error { return updateChannelName(ctx, tx, ch.ID, newName) },
		moves)
	if err != nil {
		return err
	}

	// Display metadata refresh is cosmetic and best-effort; the
	// database row is the source of truth for channel names.
	for _, f := range fovs {
		gp := groupPath(f.Condition, f.BioRep, f.Timepoint, f.Name)
		if !s.images.GroupExists(gp) {
			continue
		}
		var attrs zarr.ImageAttrs
		if err := s.images.ReadAttrs(gp, &attrs); err != nil || attrs.Display == nil {
			continue
		}
		changed := false
		for i := range attrs.Display.Channels {
			if attrs.Display.Channels[i].Label == oldName {
				attrs.Display.Channels[i].Label = newName
				changed = true
			}
		}
		if changed {
			_ = s.images.SetAttrs(gp, attrs)
		}
	}
	return nil
}
