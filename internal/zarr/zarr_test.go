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
	"os"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.zarr"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

// ramp fills an integer array with a deterministic pattern.
func ramp(a *Array) *Array {
	for i := 0; i < a.Len(); i++ {
		a.SetInt(i, int64(i%251))
	}
	return a
}

func TestCompressors_RoundTrip(t *testing.T) {
	zs, err := NewZstd()
	if err != nil {
		t.Fatalf("NewZstd() error: %v", err)
	}

	payloads := [][]byte{
		make([]byte, 4096),
		[]byte("compressible compressible compressible"),
		{0x00, 0xff, 0x10, 0x20},
	}

	for _, comp := range []Compressor{LZ4{}, zs} {
		for i, payload := range payloads {
			enc, err := comp.Compress(payload)
			if err != nil {
				t.Fatalf("%s Compress(payload %d) error: %v", comp.ID(), i, err)
			}
			dec, err := comp.Decompress(enc, len(payload))
			if err != nil {
				t.Fatalf("%s Decompress(payload %d) error: %v", comp.ID(), i, err)
			}
			if string(dec) != string(payload) {
				t.Errorf("%s payload %d: round trip mismatch", comp.ID(), i)
			}
		}
	}
}

func TestDataset_WholeArrayRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		shape  []int
		chunks []int
		dtype  Dtype
	}{
		{"2d single chunk", []int{16, 16}, []int{512, 512}, Uint16},
		{"2d many chunks", []int{70, 50}, []int{32, 32}, Uint16},
		{"2d int32", []int{33, 33}, []int{16, 16}, Int32},
		{"2d uint8", []int{64, 64}, []int{32, 32}, Uint8},
		{"3d channel first", []int{3, 40, 40}, []int{1, 16, 16}, Uint16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openStore(t)
			want := ramp(NewArray(tt.shape, tt.dtype))

			d, err := s.CreateDataset("g/0", tt.shape, tt.dtype, tt.chunks, LZ4{})
			if err != nil {
				t.Fatalf("CreateDataset() error: %v", err)
			}
			if err := d.Write(want); err != nil {
				t.Fatalf("Write() error: %v", err)
			}

			reopened, err := s.OpenDataset("g/0")
			if err != nil {
				t.Fatalf("OpenDataset() error: %v", err)
			}
			got, err := reopened.Read()
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if !got.Equal(want) {
				t.Error("read array differs from written array")
			}
		})
	}
}

func TestDataset_UnwrittenChunksReadAsZeros(t *testing.T) {
	s := openStore(t)

	d, err := s.CreateDataset("g/0", []int{64, 64}, Int32, []int{16, 16}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}

	got, err := d.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	for i := 0; i < got.Len(); i++ {
		if got.Int(i) != 0 {
			t.Fatalf("element %d = %d, want 0", i, got.Int(i))
		}
	}
}

func TestDataset_PlaneWrite(t *testing.T) {
	s := openStore(t)

	d, err := s.CreateDataset("g/0", []int{3, 40, 40}, Uint16, []int{1, 16, 16}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}

	plane := ramp(NewArray([]int{40, 40}, Uint16))
	region, err := plane.Reshape([]int{1, 40, 40})
	if err != nil {
		t.Fatalf("Reshape() error: %v", err)
	}
	if err := d.WriteRegion([]int{1, 0, 0}, region); err != nil {
		t.Fatalf("WriteRegion() error: %v", err)
	}

	got, err := d.ReadRegion([]int{1, 0, 0}, []int{1, 40, 40})
	if err != nil {
		t.Fatalf("ReadRegion() error: %v", err)
	}
	flat, err := got.Reshape([]int{40, 40})
	if err != nil {
		t.Fatalf("Reshape() error: %v", err)
	}
	if !flat.Equal(plane) {
		t.Error("plane round trip mismatch")
	}

	// Neighboring planes stay zero.
	other, err := d.ReadRegion([]int{0, 0, 0}, []int{1, 40, 40})
	if err != nil {
		t.Fatalf("ReadRegion() error: %v", err)
	}
	for i := 0; i < other.Len(); i++ {
		if other.Int(i) != 0 {
			t.Fatalf("plane 0 element %d = %d, want 0", i, other.Int(i))
		}
	}
}

func TestDataset_RegionOutOfBounds(t *testing.T) {
	s := openStore(t)

	d, err := s.CreateDataset("g/0", []int{8, 8}, Uint8, []int{4, 4}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}

	if err := d.WriteRegion([]int{4, 4}, NewArray([]int{8, 8}, Uint8)); err == nil {
		t.Error("expected out-of-bounds error")
	}
	if _, err := d.ReadRegion([]int{0, 0}, []int{9, 8}); err == nil {
		t.Error("expected out-of-bounds error")
	}
	if err := d.WriteRegion([]int{0}, NewArray([]int{8}, Uint8)); err == nil {
		t.Error("expected rank mismatch error")
	}
}

func TestDataset_DtypeMismatch(t *testing.T) {
	s := openStore(t)

	d, err := s.CreateDataset("g/0", []int{8, 8}, Uint16, []int{8, 8}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}
	if err := d.Write(NewArray([]int{8, 8}, Int32)); err == nil {
		t.Error("expected dtype mismatch error")
	}
}

func TestStore_GroupsAndAttrs(t *testing.T) {
	s := openStore(t)

	if err := s.EnsureGroup("control/N1/fov_1"); err != nil {
		t.Fatalf("EnsureGroup() error: %v", err)
	}
	for _, g := range []string{"control", "control/N1", "control/N1/fov_1"} {
		if !s.GroupExists(g) {
			t.Errorf("GroupExists(%q) = false, want true", g)
		}
	}

	attrs := ImageAttrs{
		Multiscales: []Multiscale{NewMultiscale("fov_1", ImageAxes(3))},
		Display: &DisplayBlock{Channels: []ChannelDisplay{
			{Label: "DAPI", Color: "0000FF", Active: true, Window: ChannelWindow{Start: 0, End: 65535}},
		}},
	}
	if err := s.SetAttrs("control/N1/fov_1", attrs); err != nil {
		t.Fatalf("SetAttrs() error: %v", err)
	}

	var got ImageAttrs
	if err := s.ReadAttrs("control/N1/fov_1", &got); err != nil {
		t.Fatalf("ReadAttrs() error: %v", err)
	}
	if len(got.Multiscales) != 1 || len(got.Multiscales[0].Axes) != 3 {
		t.Fatalf("multiscale block did not survive: %+v", got.Multiscales)
	}
	if got.Multiscales[0].Axes[0].Name != "c" || got.Multiscales[0].Axes[0].Unit != "" {
		t.Errorf("channel axis = %+v, want unitless c", got.Multiscales[0].Axes[0])
	}
	if got.Multiscales[0].Axes[1].Unit != "micrometer" {
		t.Errorf("spatial axis unit = %q, want micrometer", got.Multiscales[0].Axes[1].Unit)
	}
	if got.Display == nil || got.Display.Channels[0].Label != "DAPI" {
		t.Errorf("display block did not survive: %+v", got.Display)
	}
}

func TestStore_MoveSubtree(t *testing.T) {
	s := openStore(t)

	if err := s.EnsureGroup("control/N1/fov_1"); err != nil {
		t.Fatalf("EnsureGroup() error: %v", err)
	}
	d, err := s.CreateDataset("control/N1/fov_1/0", []int{8, 8}, Int32, []int{8, 8}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}
	want := ramp(NewArray([]int{8, 8}, Int32))
	if err := d.Write(want); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	if err := s.Move("control", "control_v2"); err != nil {
		t.Fatalf("Move() error: %v", err)
	}

	if s.GroupExists("control") {
		t.Error("old subtree still present after move")
	}
	moved, err := s.OpenDataset("control_v2/N1/fov_1/0")
	if err != nil {
		t.Fatalf("OpenDataset() after move error: %v", err)
	}
	got, err := moved.Read()
	if err != nil {
		t.Fatalf("Read() after move error: %v", err)
	}
	if !got.Equal(want) {
		t.Error("data differs after move")
	}
}

func TestStore_CopyRefusesExistingDestination(t *testing.T) {
	s := openStore(t)

	if err := s.EnsureGroup("a"); err != nil {
		t.Fatalf("EnsureGroup() error: %v", err)
	}
	if err := s.EnsureGroup("b"); err != nil {
		t.Fatalf("EnsureGroup() error: %v", err)
	}
	if err := s.Copy("a", "b"); err == nil {
		t.Error("Copy onto existing destination should fail")
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	s := openStore(t)

	if err := s.EnsureGroup("a/b"); err != nil {
		t.Fatalf("EnsureGroup() error: %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("second Remove() error: %v", err)
	}
}

func TestDataset_ChunkFilesOnDisk(t *testing.T) {
	s := openStore(t)

	d, err := s.CreateDataset("g/0", []int{3, 40, 40}, Uint16, []int{1, 16, 16}, LZ4{})
	if err != nil {
		t.Fatalf("CreateDataset() error: %v", err)
	}
	plane, err := ramp(NewArray([]int{40, 40}, Uint16)).Reshape([]int{1, 40, 40})
	if err != nil {
		t.Fatalf("Reshape() error: %v", err)
	}
	if err := d.WriteRegion([]int{0, 0, 0}, plane); err != nil {
		t.Fatalf("WriteRegion() error: %v", err)
	}

	// Plane 0 covers chunk rows 0..2 and columns 0..2 of channel 0 only.
	if _, err := os.Stat(filepath.Join(s.Root(), "g", "0", "0.0.0")); err != nil {
		t.Errorf("expected chunk file 0.0.0: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "g", "0", "0.2.2")); err != nil {
		t.Errorf("expected chunk file 0.2.2: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "g", "0", "1.0.0")); !os.IsNotExist(err) {
		t.Error("chunk of unwritten channel should not exist")
	}
}
