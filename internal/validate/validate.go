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

// Package validate enforces the path-safety policy for every
// user-supplied identifier that becomes a database row or an array-store
// path segment. Validation is always the first operation of any method
// that accepts a name.
package validate

import (
	"strings"

	"github.com/marcusjoshm/percell/internal/errs"
)

// MaxNameLength is the maximum byte length of a path-facing name.
const MaxNameLength = 255

// Name checks a user-supplied identifier against the path-safety rule:
// it must match ^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$ and contain no ".."
// sequence. A violation is reported as an invalid-name error.
func Name(name string) error {
	if name == "" {
		return errs.NewInvalidName(name, "is empty")
	}
	if len(name) > MaxNameLength {
		return errs.NewInvalidName(name, "exceeds 255 bytes")
	}
	if !isAlphanumeric(rune(name[0])) {
		return errs.NewInvalidName(name, "must start with a letter or digit")
	}
	for _, r := range name {
		if !isNameRune(r) {
			return errs.NewInvalidName(name, "contains characters outside [A-Za-z0-9._-]")
		}
	}
	if strings.Contains(name, "..") {
		return errs.NewInvalidName(name, "contains \"..\"")
	}
	return nil
}

// TagName checks a tag name. Tags follow the same policy as path
// names except ':' is also permitted: tags never become path segments,
// and threshold-group tags carry "group:{channel}:{metric}:" prefixes.
func TagName(name string) error {
	if name == "" {
		return errs.NewInvalidName(name, "is empty")
	}
	if len(name) > MaxNameLength {
		return errs.NewInvalidName(name, "exceeds 255 bytes")
	}
	if !isAlphanumeric(rune(name[0])) {
		return errs.NewInvalidName(name, "must start with a letter or digit")
	}
	for _, r := range name {
		if !isNameRune(r) && r != ':' {
			return errs.NewInvalidName(name, "contains characters outside [A-Za-z0-9._:-]")
		}
	}
	if strings.Contains(name, "..") {
		return errs.NewInvalidName(name, "contains \"..\"")
	}
	return nil
}

// Names validates each name in order and returns the first violation.
func Names(names ...string) error {
	for _, name := range names {
		if err := Name(name); err != nil {
			return err
		}
	}
	return nil
}

// Sanitize coerces a scanner-derived token into a candidate name: spaces
// become underscores, characters outside the safe set are stripped,
// leading non-alphanumerics are dropped, and ".." runs collapse to ".".
// If nothing survives, fallback is returned. Sanitize is not a substitute
// for validation; callers still pass the result through Name.
func Sanitize(raw, fallback string) string {
	token := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")

	var b strings.Builder
	for _, r := range token {
		if isNameRune(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()

	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	for out != "" && !isAlphanumeric(rune(out[0])) {
		out = out[1:]
	}
	if len(out) > MaxNameLength {
		out = out[:MaxNameLength]
	}
	if out == "" {
		return fallback
	}
	return out
}

func isAlphanumeric(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func isNameRune(r rune) bool {
	return isAlphanumeric(r) || r == '.' || r == '_' || r == '-'
}
