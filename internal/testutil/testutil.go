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

// Package testutil stages on-disk experiment fixtures for percell
// tests: reserved experiment directory locations, cloned closed
// experiments, and deterministic pixel data.
package testutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcusjoshm/percell/internal/zarr"
)

// tempRoot creates a scratch directory that is removed when the test
// finishes.
func tempRoot(t *testing.T) string {
	t.Helper()

	root, err := os.MkdirTemp("", "percell-test-*")
	if err != nil {
		t.Fatalf("failed to create temp root: %v", err)
	}

	t.Cleanup(func() {
		_ = os.RemoveAll(root)
	})

	return root
}

// ExperimentPath reserves a location for an experiment directory named
// <name>.percell under a fresh scratch root. The directory itself is
// not created; store.Create owns that lifecycle, and tests that probe
// missing experiments use the path as-is.
func ExperimentPath(t *testing.T, name string) string {
	t.Helper()

	return filepath.Join(tempRoot(t), name+".percell")
}

// CloneExperiment copies a closed experiment directory into a fresh
// scratch root, the way a user archives or ships one, and returns the
// copy's path. The source store must be closed first so the copy sees
// a consistent snapshot.
func CloneExperiment(t *testing.T, src string) string {
	t.Helper()

	dst := ExperimentPath(t, "clone")
	if err := copyFS(dst, os.DirFS(src)); err != nil {
		t.Fatalf("failed to copy experiment directory: %v", err)
	}

	return dst
}

// copyFS copies the contents of srcFS into dir, mirroring the standard
// library's os.CopyFS (added in Go 1.23) for toolchains that predate it.
func copyFS(dir string, srcFS fs.FS) error {
	return fs.WalkDir(srcFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		targ := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(targ, 0777)
		}

		r, err := srcFS.Open(path)
		if err != nil {
			return err
		}
		defer r.Close()

		info, err := d.Info()
		if err != nil {
			return err
		}

		w, err := os.OpenFile(targ, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, info.Mode()&0777|0200)
		if err != nil {
			return err
		}
		defer w.Close()

		if _, err := io.Copy(w, r); err != nil {
			return err
		}
		return w.Close()
	})
}

// StageFile plants a file with the given content under a fresh scratch
// root, for tests that need a pre-existing output to collide with.
func StageFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(tempRoot(t), name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	return path
}

// RampImage builds a 2D test image with a deterministic intensity
// ramp, the workhorse payload for image, label, and mask round trips.
func RampImage(h, w int, dtype zarr.Dtype) *zarr.Array {
	a := zarr.NewArray([]int{h, w}, dtype)
	for i := 0; i < a.Len(); i++ {
		a.SetInt(i, int64(i%251))
	}
	return a
}
