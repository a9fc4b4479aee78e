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
	"fmt"
	"strings"

	"github.com/marcusjoshm/percell/internal/errs"
	"github.com/marcusjoshm/percell/internal/validate"
	"github.com/marcusjoshm/percell/internal/zarr"
)

// Chunking by data kind. Chunk extents are clipped to the array shape
// at dataset creation.
var (
	imageChunks3D = []int{1, 512, 512}
	imageChunks4D = []int{1, 10, 512, 512}
	planeChunks   = []int{512, 512}
)

// maskGroup and particleGroup name the per-channel mask groups under a
// FOV group.
func maskGroup(channel string) string     { return "threshold_" + channel }
func particleGroup(channel string) string { return "particles_" + channel }

// WriteImage stores one channel slice of a FOV's image stack. The
// array must be 2D; the stack is created channel-first on first write
// with one plane per registered channel.
func (s *ExperimentStore) WriteImage(ctx context.Context, ref FOVRef, channel string, a *zarr.Array) error {
	if err := validate.Name(channel); err != nil {
		return err
	}
	if a.Rank() != 2 {
		return errs.NewInvalidArgument("image channel slice must be 2D, got rank %d", a.Rank())
	}
	if a.Dtype() == zarr.Bool || a.Dtype().Size() == 0 {
		return errs.NewInvalidArgument("image dtype %s is not supported", a.Dtype())
	}

	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}
	channels, err := selectChannels(ctx, s.db)
	if err != nil {
		return err
	}
	idx := channelIndex(channels, channel)
	if idx < 0 {
		return errs.NewNotFound(errs.EntityChannel, channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.images.EnsureGroup(node.path); err != nil {
		return errs.NewIOFailure("create image group", err)
	}

	shape := a.Shape()
	dsPath := node.path + "/0"
	var ds *zarr.Dataset
	if s.images.DatasetExists(dsPath) {
		ds, err = s.images.OpenDataset(dsPath)
		if err != nil {
			return errs.NewIOFailure("open image dataset", err)
		}
		have := ds.Shape()
		if len(have) != 3 || have[1] != shape[0] || have[2] != shape[1] {
			return errs.NewInvalidArgument(
				"image slice %dx%d does not match existing stack %v", shape[0], shape[1], have)
		}
		if ds.Dtype() != a.Dtype() {
			return errs.NewInvalidArgument(
				"image dtype %s does not match existing stack dtype %s", a.Dtype(), ds.Dtype())
		}
		if idx >= have[0] {
			return errs.NewInvalidArgument(
				"channel %q is plane %d but the stack holds %d planes", channel, idx, have[0])
		}
	} else {
		stack := []int{len(channels), shape[0], shape[1]}
		ds, err = s.images.CreateDataset(dsPath, stack, a.Dtype(), imageChunks3D, zarr.LZ4{})
		if err != nil {
			return errs.NewIOFailure("create image dataset", err)
		}
		if err := s.images.SetAttrs(node.path, imageAttrs(node.fov.Name, channels, a.Dtype())); err != nil {
			return errs.NewIOFailure("write image attrs", err)
		}
	}

	region, err := a.Reshape([]int{1, shape[0], shape[1]})
	if err != nil {
		return errs.NewIOFailure("reshape channel slice", err)
	}
	if err := ds.WriteRegion([]int{idx, 0, 0}, region); err != nil {
		return errs.NewIOFailure("write image chunks", err)
	}
	return nil
}

// WriteImageStack stores a FOV's full image stack at once. The array
// must be channel-first: C,Y,X or C,Z,Y,X. Any existing stack is
// replaced.
func (s *ExperimentStore) WriteImageStack(ctx context.Context, ref FOVRef, a *zarr.Array) error {
	if a.Rank() != 3 && a.Rank() != 4 {
		return errs.NewInvalidArgument("image stack must be C,Y,X or C,Z,Y,X, got rank %d", a.Rank())
	}
	if a.Dtype() == zarr.Bool || a.Dtype().Size() == 0 {
		return errs.NewInvalidArgument("image dtype %s is not supported", a.Dtype())
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}
	channels, err := selectChannels(ctx, s.db)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.images.EnsureGroup(node.path); err != nil {
		return errs.NewIOFailure("create image group", err)
	}
	dsPath := node.path + "/0"
	if s.images.DatasetExists(dsPath) {
		if err := s.images.Remove(dsPath); err != nil {
			return errs.NewIOFailure("replace image dataset", err)
		}
	}
	chunks := imageChunks3D
	if a.Rank() == 4 {
		chunks = imageChunks4D
	}
	ds, err := s.images.CreateDataset(dsPath, a.Shape(), a.Dtype(), chunks, zarr.LZ4{})
	if err != nil {
		return errs.NewIOFailure("create image dataset", err)
	}
	if err := ds.Write(a); err != nil {
		return errs.NewIOFailure("write image chunks", err)
	}

	attrs := imageAttrs(node.fov.Name, channels, a.Dtype())
	attrs.Multiscales = []zarr.Multiscale{zarr.NewMultiscale(node.fov.Name, zarr.ImageAxes(a.Rank()))}
	if err := s.images.SetAttrs(node.path, attrs); err != nil {
		return errs.NewIOFailure("write image attrs", err)
	}
	return nil
}

// ReadImage returns a lazy view of a FOV's full image stack. Pixels
// are materialised only when the caller reads from the dataset.
func (s *ExperimentStore) ReadImage(ctx context.Context, ref FOVRef) (*zarr.Dataset, error) {
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	ds, err := s.images.OpenDataset(node.path + "/0")
	if err != nil {
		return nil, errs.NewIOFailure(fmt.Sprintf("no image stored for fov %q", ref.Name), err)
	}
	return ds, nil
}

// ReadImageArray materialises one channel slice of a FOV's image
// stack as a 2D array.
func (s *ExperimentStore) ReadImageArray(ctx context.Context, ref FOVRef, channel string) (*zarr.Array, error) {
	if err := validate.Name(channel); err != nil {
		return nil, err
	}
	ds, err := s.ReadImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	channels, err := selectChannels(ctx, s.db)
	if err != nil {
		return nil, err
	}
	idx := channelIndex(channels, channel)
	if idx < 0 {
		return nil, errs.NewNotFound(errs.EntityChannel, channel)
	}
	shape := ds.Shape()
	if idx >= shape[0] {
		return nil, errs.NewInvalidArgument(
			"channel %q is plane %d but the stack holds %d planes", channel, idx, shape[0])
	}
	region, err := ds.ReadRegion([]int{idx, 0, 0}, []int{1, shape[1], shape[2]})
	if err != nil {
		return nil, errs.NewIOFailure("read image chunks", err)
	}
	plane, err := region.Reshape([]int{shape[1], shape[2]})
	if err != nil {
		return nil, errs.NewIOFailure("reshape channel slice", err)
	}
	return plane, nil
}

// WriteLabels stores a FOV's segmentation label plane. Input must be
// 2D with an integer dtype; values are cast to 32-bit signed.
func (s *ExperimentStore) WriteLabels(ctx context.Context, ref FOVRef, a *zarr.Array) error {
	labels, err := asInt32Plane(a)
	if err != nil {
		return err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.labels.EnsureGroup(node.path); err != nil {
		return errs.NewIOFailure("create label group", err)
	}
	if err := s.writePlane(s.labels, node.path, labels, zarr.LZ4{}); err != nil {
		return err
	}
	attrs := zarr.LabelAttrs{
		Multiscales: []zarr.Multiscale{zarr.NewMultiscale(node.fov.Name, zarr.PlaneAxes())},
		ImageLabel: &zarr.ImageLabel{
			Version: "0.4",
			Source:  zarr.ImageLabelSource{Image: imageSourcePath(node.path)},
		},
	}
	if err := s.labels.SetAttrs(node.path, attrs); err != nil {
		return errs.NewIOFailure("write label attrs", err)
	}
	return nil
}

// ReadLabels materialises a FOV's segmentation label plane.
func (s *ExperimentStore) ReadLabels(ctx context.Context, ref FOVRef) (*zarr.Array, error) {
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.readPlane(s.labels, node.path, "no labels stored for fov "+ref.Name)
}

// WriteMask stores the binary threshold mask for one channel of a FOV.
// Input must be 2D boolean or unsigned 8-bit; values become 0 or 255.
// An existing mask for the channel is overwritten in place.
func (s *ExperimentStore) WriteMask(ctx context.Context, ref FOVRef, channel string, a *zarr.Array) error {
	if err := validate.Name(channel); err != nil {
		return err
	}
	mask, err := asMaskPlane(a)
	if err != nil {
		return err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group := node.path + "/" + maskGroup(channel)
	if err := s.masks.EnsureGroup(group); err != nil {
		return errs.NewIOFailure("create mask group", err)
	}
	if err := s.writePlane(s.masks, group, mask, s.zstd); err != nil {
		return err
	}
	attrs := zarr.LabelAttrs{
		Multiscales: []zarr.Multiscale{zarr.NewMultiscale(maskGroup(channel), zarr.PlaneAxes())},
	}
	if err := s.masks.SetAttrs(group, attrs); err != nil {
		return errs.NewIOFailure("write mask attrs", err)
	}
	return nil
}

// ReadMask materialises the threshold mask for one channel of a FOV.
func (s *ExperimentStore) ReadMask(ctx context.Context, ref FOVRef, channel string) (*zarr.Array, error) {
	if err := validate.Name(channel); err != nil {
		return nil, err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.readPlane(s.masks, node.path+"/"+maskGroup(channel),
		fmt.Sprintf("no %s mask stored for fov %s", channel, ref.Name))
}

// WriteParticleLabels stores the particle label plane for one channel
// of a FOV, following the label rules (2D, integer, cast to int32).
func (s *ExperimentStore) WriteParticleLabels(ctx context.Context, ref FOVRef, channel string, a *zarr.Array) error {
	if err := validate.Name(channel); err != nil {
		return err
	}
	labels, err := asInt32Plane(a)
	if err != nil {
		return err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group := node.path + "/" + particleGroup(channel)
	if err := s.masks.EnsureGroup(group); err != nil {
		return errs.NewIOFailure("create particle group", err)
	}
	if err := s.writePlane(s.masks, group, labels, zarr.LZ4{}); err != nil {
		return err
	}
	attrs := zarr.LabelAttrs{
		Multiscales: []zarr.Multiscale{zarr.NewMultiscale(particleGroup(channel), zarr.PlaneAxes())},
	}
	if err := s.masks.SetAttrs(group, attrs); err != nil {
		return errs.NewIOFailure("write particle attrs", err)
	}
	return nil
}

// ReadParticleLabels materialises the particle label plane for one
// channel of a FOV.
func (s *ExperimentStore) ReadParticleLabels(ctx context.Context, ref FOVRef, channel string) (*zarr.Array, error) {
	if err := validate.Name(channel); err != nil {
		return nil, err
	}
	node, err := s.resolveFOV(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.readPlane(s.masks, node.path+"/"+particleGroup(channel),
		fmt.Sprintf("no %s particle labels stored for fov %s", channel, ref.Name))
}

// writePlane replaces the level-0 dataset of a group with a 2D array.
func (s *ExperimentStore) writePlane(zs *zarr.Store, group string, a *zarr.Array, comp zarr.Compressor) error {
	dsPath := group + "/0"
	if zs.DatasetExists(dsPath) {
		if err := zs.Remove(dsPath); err != nil {
			return errs.NewIOFailure("replace dataset", err)
		}
	}
	ds, err := zs.CreateDataset(dsPath, a.Shape(), a.Dtype(), planeChunks, comp)
	if err != nil {
		return errs.NewIOFailure("create dataset", err)
	}
	if err := ds.Write(a); err != nil {
		return errs.NewIOFailure("write chunks", err)
	}
	return nil
}

// readPlane materialises the level-0 dataset of a group.
func (s *ExperimentStore) readPlane(zs *zarr.Store, group, missing string) (*zarr.Array, error) {
	ds, err := zs.OpenDataset(group + "/0")
	if err != nil {
		return nil, errs.NewIOFailure(missing, err)
	}
	a, err := ds.Read()
	if err != nil {
		return nil, errs.NewIOFailure("read chunks", err)
	}
	return a, nil
}

// channelIndex is a channel's plane position in the image stack:
// channels ordered by display order then id.
func channelIndex(channels []Channel, name string) int {
	for i, c := range channels {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// imageAttrs builds the image group's multi-resolution block and
// per-channel display descriptors.
func imageAttrs(name string, channels []Channel, dtype zarr.Dtype) zarr.ImageAttrs {
	display := make([]zarr.ChannelDisplay, len(channels))
	for i, c := range channels {
		display[i] = zarr.ChannelDisplay{
			Label:  c.Name,
			Color:  c.Color,
			Active: true,
			Window: zarr.ChannelWindow{Start: 0, End: displayMax(dtype)},
		}
	}
	return zarr.ImageAttrs{
		Multiscales: []zarr.Multiscale{zarr.NewMultiscale(name, zarr.ImageAxes(3))},
		Display:     &zarr.DisplayBlock{Channels: display},
	}
}

// displayMax is the default intensity window top for a dtype.
func displayMax(dtype zarr.Dtype) float64 {
	switch dtype {
	case zarr.Uint8:
		return 255
	case zarr.Int16:
		return 32767
	case zarr.Uint16:
		return 65535
	case zarr.Int32:
		return 2147483647
	case zarr.Uint32:
		return 4294967295
	}
	return 1
}

// imageSourcePath is the relative path from a label group to its
// sibling image group in the neighboring store.
func imageSourcePath(group string) string {
	ups := strings.Count(group, "/") + 2
	return strings.Repeat("../", ups) + imagesDirName + "/" + group
}

// asInt32Plane checks label input rules and casts to int32.
func asInt32Plane(a *zarr.Array) (*zarr.Array, error) {
	if a.Rank() != 2 {
		return nil, errs.NewInvalidArgument("labels must be 2D, got rank %d", a.Rank())
	}
	if !a.Dtype().IsInteger() {
		return nil, errs.NewInvalidArgument("labels must be integer, got dtype %s", a.Dtype())
	}
	if a.Dtype() == zarr.Int32 {
		return a, nil
	}
	out := zarr.NewArray(a.Shape(), zarr.Int32)
	for i := 0; i < a.Len(); i++ {
		out.SetInt(i, a.Int(i))
	}
	return out, nil
}

// asMaskPlane checks mask input rules and normalises to uint8 0/255.
func asMaskPlane(a *zarr.Array) (*zarr.Array, error) {
	if a.Rank() != 2 {
		return nil, errs.NewInvalidArgument("mask must be 2D, got rank %d", a.Rank())
	}
	if a.Dtype() != zarr.Bool && a.Dtype() != zarr.Uint8 {
		return nil, errs.NewInvalidArgument("mask must be boolean or uint8, got dtype %s", a.Dtype())
	}
	out := zarr.NewArray(a.Shape(), zarr.Uint8)
	for i := 0; i < a.Len(); i++ {
		if a.Int(i) != 0 {
			out.SetInt(i, 255)
		}
	}
	return out, nil
}
