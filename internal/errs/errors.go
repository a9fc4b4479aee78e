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

// Package errs defines the closed set of error kinds surfaced by the
// experiment store. Callers branch on kind, never on error message text.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the category of a store error.
type Kind string

const (
	// KindInvalidArgument covers bad ranks, dtypes, and ambiguous or
	// contradictory call arguments.
	KindInvalidArgument Kind = "invalid-argument"
	// KindInvalidName covers identifiers that fail the path-safety rule.
	KindInvalidName Kind = "invalid-name"
	// KindNotFound covers lookups of entities that do not exist. The
	// error carries the entity so mismatches never masquerade as another
	// entity's miss.
	KindNotFound Kind = "not-found"
	// KindDuplicate covers uniqueness violations.
	KindDuplicate Kind = "duplicate"
	// KindVersionIncompatible covers opening an experiment whose stored
	// schema version differs from the pinned one.
	KindVersionIncompatible Kind = "version-incompatible"
	// KindIOFailure covers array-store and disk failures.
	KindIOFailure Kind = "io-failure"
)

// Entity names used with KindNotFound and KindDuplicate.
const (
	EntityExperiment      = "experiment"
	EntityChannel         = "channel"
	EntityCondition       = "condition"
	EntityBioRep          = "bio_rep"
	EntityTimepoint       = "timepoint"
	EntityFOV             = "fov"
	EntityCell            = "cell"
	EntityMeasurement     = "measurement"
	EntitySegmentationRun = "segmentation_run"
	EntityThresholdRun    = "threshold_run"
	EntityParticle        = "particle"
	EntityTag             = "tag"
	EntityAnalysisRun     = "analysis_run"
)

// Error is a store error with a kind and optional entity.
type Error struct {
	Kind       Kind
	Entity     string
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("%s:%s: %s", e.Kind, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewInvalidArgument creates an invalid-argument error.
func NewInvalidArgument(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewInvalidName creates an invalid-name error for a rejected identifier.
func NewInvalidName(name, reason string) *Error {
	return &Error{
		Kind:    KindInvalidName,
		Message: fmt.Sprintf("name %q %s", name, reason),
	}
}

// NewNotFound creates a not-found error for the given entity.
func NewNotFound(entity, name string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Entity:  entity,
		Message: fmt.Sprintf("%s %q does not exist", entity, name),
	}
}

// NewDuplicate creates a duplicate error for the given entity.
func NewDuplicate(entity, name string) *Error {
	return &Error{
		Kind:    KindDuplicate,
		Entity:  entity,
		Message: fmt.Sprintf("%s %q already exists", entity, name),
	}
}

// NewVersionIncompatible creates a version-incompatible error.
func NewVersionIncompatible(stored, expected string) *Error {
	return &Error{
		Kind:    KindVersionIncompatible,
		Message: fmt.Sprintf("experiment version %q, expected %q", stored, expected),
	}
}

// NewIOFailure wraps an array-store or disk failure.
func NewIOFailure(message string, underlying error) *Error {
	return &Error{
		Kind:       KindIOFailure,
		Message:    message,
		Underlying: underlying,
	}
}

// KindOf returns the kind of err, or the empty string if err is not a
// store error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a store error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found error for the given
// entity. An empty entity matches any entity.
func IsNotFound(err error, entity string) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNotFound {
		return false
	}
	return entity == "" || e.Entity == entity
}

// IsDuplicate reports whether err is a duplicate error.
func IsDuplicate(err error) bool {
	return IsKind(err, KindDuplicate)
}

// IsInvalidName reports whether err is an invalid-name error.
func IsInvalidName(err error) bool {
	return IsKind(err, KindInvalidName)
}

// IsInvalidArgument reports whether err is an invalid-argument error.
func IsInvalidArgument(err error) bool {
	return IsKind(err, KindInvalidArgument)
}
