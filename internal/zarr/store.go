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

package zarr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	groupFile = ".zgroup"
	attrsFile = ".zattrs"
	arrayFile = ".zarray"
)

// Store is one array store rooted at a directory. Logical paths use
// forward slashes regardless of platform.
type Store struct {
	root string
}

// Open opens (creating if necessary) an array store rooted at root.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &Store{root: root}
	marker := filepath.Join(root, groupFile)
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		if err := writeJSON(marker, groupMeta{ZarrFormat: 2}); err != nil {
			return nil, fmt.Errorf("write root group marker: %w", err)
		}
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// abs maps a logical slash path to a filesystem path inside the root.
func (s *Store) abs(logical string) string {
	return filepath.Join(s.root, filepath.FromSlash(logical))
}

// EnsureGroup creates the group at the given logical path, including
// every intermediate group, each with its .zgroup marker.
func (s *Store) EnsureGroup(logical string) error {
	parts := strings.Split(logical, "/")
	cur := ""
	for _, part := range parts {
		cur = path.Join(cur, part)
		dir := s.abs(cur)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create group %s: %w", cur, err)
		}
		marker := filepath.Join(dir, groupFile)
		if _, err := os.Stat(marker); os.IsNotExist(err) {
			if err := writeJSON(marker, groupMeta{ZarrFormat: 2}); err != nil {
				return fmt.Errorf("write group marker %s: %w", cur, err)
			}
		}
	}
	return nil
}

// GroupExists reports whether a group exists at the logical path.
func (s *Store) GroupExists(logical string) bool {
	_, err := os.Stat(filepath.Join(s.abs(logical), groupFile))
	return err == nil
}

// SetAttrs writes the group's .zattrs payload.
func (s *Store) SetAttrs(logical string, attrs interface{}) error {
	if err := writeJSON(filepath.Join(s.abs(logical), attrsFile), attrs); err != nil {
		return fmt.Errorf("write attrs for %s: %w", logical, err)
	}
	return nil
}

// ReadAttrs reads the group's .zattrs payload into out.
func (s *Store) ReadAttrs(logical string, out interface{}) error {
	if err := readJSON(filepath.Join(s.abs(logical), attrsFile), out); err != nil {
		return fmt.Errorf("read attrs for %s: %w", logical, err)
	}
	return nil
}

// Copy recursively copies the subtree at src to dst. dst must not
// already exist. A failure may leave a partial copy at dst; callers
// remove it before retrying.
func (s *Store) Copy(src, dst string) error {
	srcAbs, dstAbs := s.abs(src), s.abs(dst)
	if _, err := os.Stat(srcAbs); err != nil {
		return fmt.Errorf("copy source %s: %w", src, err)
	}
	if _, err := os.Stat(dstAbs); err == nil {
		return fmt.Errorf("copy destination %s already exists", dst)
	}

	err := filepath.Walk(srcAbs, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcAbs, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dstAbs, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(p, target)
	})
	if err != nil {
		return fmt.Errorf("copy subtree %s to %s: %w", src, dst, err)
	}
	return nil
}

// Remove deletes the subtree at the logical path. Removing a path that
// does not exist is a no-op, which keeps rename cleanup idempotent.
func (s *Store) Remove(logical string) error {
	if err := os.RemoveAll(s.abs(logical)); err != nil {
		return fmt.Errorf("remove subtree %s: %w", logical, err)
	}
	return nil
}

// Move copies the subtree at src to dst and then removes src.
func (s *Store) Move(src, dst string) error {
	if err := s.Copy(src, dst); err != nil {
		return err
	}
	return s.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}
