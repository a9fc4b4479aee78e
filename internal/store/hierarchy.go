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

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
)

// AddChannel registers an imaging channel. The name must be unique.
func (s *ExperimentStore) AddChannel(ctx context.Context, spec ChannelSpec) (int64, error) {
	if err := validate.Name(spec.Name); err != nil {
		return 0, err
	}
	if spec.Color == "" {
		spec.Color = "FFFFFF"
	}
	if !isHexColor(spec.Color) {
		return 0, errs.NewInvalidArgument("channel color %q is not a 6-hex-digit color", spec.Color)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertChannel(ctx, s.db, spec)
}

// Channels lists channels in display order.
func (s *ExperimentStore) Channels(ctx context.Context) ([]Channel, error) {
	return selectChannels(ctx, s.db)
}

// AddCondition registers an experimental condition.
func (s *ExperimentStore) AddCondition(ctx context.Context, name, description string) (int64, error) {
	if err := validate.Name(name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertCondition(ctx, s.db, name, description)
}

// Conditions lists conditions by name.
func (s *ExperimentStore) Conditions(ctx context.Context) ([]Condition, error) {
	return selectConditions(ctx, s.db)
}

// AddBioRep registers a biological replicate under a condition.
func (s *ExperimentStore) AddBioRep(ctx context.Context, name, condition string) (int64, error) {
	if err := validate.Names(name, condition); err != nil {
		return 0, err
	}
	cond, err := selectConditionByName(ctx, s.db, condition)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBioRep(ctx, s.db, cond.ID, name)
}

// BioReps lists replicates, optionally restricted to one condition.
func (s *ExperimentStore) BioReps(ctx context.Context, condition string) ([]BioRep, error) {
	var conditionID int64
	if condition != "" {
		if err := validate.Name(condition); err != nil {
			return nil, err
		}
		cond, err := selectConditionByName(ctx, s.db, condition)
		if err != nil {
			return nil, err
		}
		conditionID = cond.ID
	}
	return selectBioReps(ctx, s.db, conditionID)
}

// AddTimepoint registers a named time index.
func (s *ExperimentStore) AddTimepoint(ctx context.Context, name string, seconds float64, displayOrder int) (int64, error) {
	if err := validate.Name(name); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return insertTimepoint(ctx, s.db, name, seconds, displayOrder)
}

// Timepoints lists timepoints in display order.
func (s *ExperimentStore) Timepoints(ctx context.Context) ([]Timepoint, error) {
	return selectTimepoints(ctx, s.db)
}

// AddFOV registers a field of view. The condition and any timepoint
// must already exist; the bio-rep is created lazily, defaulting to
// DefaultBioRep when unset.
func (s *ExperimentStore) AddFOV(ctx context.Context, spec FOVSpec) (int64, error) {
	if err := validate.Names(spec.Name, spec.Condition); err != nil {
		return 0, err
	}
	repName := spec.BioRep
	if repName == "" {
		repName = DefaultBioRep
	}
	if err := validate.Name(repName); err != nil {
		return 0, err
	}
	if spec.Timepoint != "" {
		if err := validate.Name(spec.Timepoint); err != nil {
			return 0, err
		}
	}
	if spec.Width < 0 || spec.Height < 0 {
		return 0, errs.NewInvalidArgument("fov dimensions %dx%d are negative", spec.Width, spec.Height)
	}

	cond, err := selectConditionByName(ctx, s.db, spec.Condition)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rep, err := selectBioRepByName(ctx, s.db, cond.ID, repName)
	if errs.IsNotFound(err, errs.EntityBioRep) {
		repID, insErr := insertBioRep(ctx, s.db, cond.ID, repName)
		if insErr != nil {
			return 0, insErr
		}
		rep = &BioRep{ID: repID, Name: repName, Condition: cond.Name}
	} else if err != nil {
		return 0, err
	}

	tpID := nullInt64(0)
	if spec.Timepoint != "" {
		tp, err := selectTimepointByName(ctx, s.db, spec.Timepoint)
		if err != nil {
			return 0, err
		}
		tpID = nullInt64(tp.ID)
	}

	return insertFOV(ctx, s.db, rep.ID, tpID, spec)
}

// FOVs lists fields of view matching the filter. A bio-rep filter
// without a condition is ambiguous and rejected.
func (s *ExperimentStore) FOVs(ctx context.Context, filter FOVFilter) ([]FOV, error) {
	if filter.BioRep != "" && filter.Condition == "" {
		return nil, errs.NewInvalidArgument("a bio rep filter requires a condition")
	}
	if filter.Condition != "" {
		if err := validate.Name(filter.Condition); err != nil {
			return nil, err
		}
		if _, err := selectConditionByName(ctx, s.db, filter.Condition); err != nil {
			return nil, err
		}
	}
	if filter.Timepoint != "" {
		if err := validate.Name(filter.Timepoint); err != nil {
			return nil, err
		}
		if _, err := selectTimepointByName(ctx, s.db, filter.Timepoint); err != nil {
			return nil, err
		}
	}
	return selectFOVs(ctx, s.db, filter)
}

// FOVSegmentationSummary reports, for every FOV, its valid-cell count,
// the number of segmentation runs those cells come from, and the newest
// such run's time.
func (s *ExperimentStore) FOVSegmentationSummary(ctx context.Context) ([]FOVSegmentationSummary, error) {
	return selectFOVSegmentationSummary(ctx, s.db)
}

// GroupPath resolves a FOV reference to its computed array-store path.
func (s *ExperimentStore) GroupPath(ctx context.Context, ref FOVRef) (string, error) {
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return "", err
	}
	return node.path, nil
}
