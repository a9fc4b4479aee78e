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

// multiscaleVersion is the version tag written into multi-resolution
// and image-label attribute blocks.
const multiscaleVersion = "0.4"

// Axis describes one dimension of a multi-resolution group. The channel
// axis carries no unit; spatial axes are in micrometers.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

// ScaleTransform is the per-level coordinate transform.
type ScaleTransform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

// MultiscaleDataset names one resolution level and its transform.
type MultiscaleDataset struct {
	Path                      string           `json:"path"`
	CoordinateTransformations []ScaleTransform `json:"coordinateTransformations"`
}

// Multiscale is the multi-resolution block of a group's attributes:
// an axes list and one dataset entry per resolution level.
type Multiscale struct {
	Version  string              `json:"version"`
	Name     string              `json:"name,omitempty"`
	Axes     []Axis              `json:"axes"`
	Datasets []MultiscaleDataset `json:"datasets"`
}

// ChannelWindow is the display intensity window of one channel.
type ChannelWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ChannelDisplay describes how one channel renders: label, 6-hex-digit
// color, active flag, and intensity window.
type ChannelDisplay struct {
	Label  string        `json:"label"`
	Color  string        `json:"color"`
	Active bool          `json:"active"`
	Window ChannelWindow `json:"window"`
}

// DisplayBlock is the per-channel display descriptor of an image group.
type DisplayBlock struct {
	Channels []ChannelDisplay `json:"channels"`
}

// ImageAttrs is the attribute payload of an image group.
type ImageAttrs struct {
	Multiscales []Multiscale  `json:"multiscales"`
	Display     *DisplayBlock `json:"omero,omitempty"`
}

// ImageLabelSource points a label group at its sibling image group by
// relative path.
type ImageLabelSource struct {
	Image string `json:"image"`
}

// ImageLabel is the image-label descriptor of a label group.
type ImageLabel struct {
	Version string           `json:"version"`
	Source  ImageLabelSource `json:"source"`
}

// LabelAttrs is the attribute payload of a label group.
type LabelAttrs struct {
	Multiscales []Multiscale `json:"multiscales"`
	ImageLabel  *ImageLabel  `json:"image-label,omitempty"`
}

// NewMultiscale builds a single-level multiscale block for a dataset at
// path "0" with a unit scale transform of the given rank.
func NewMultiscale(name string, axes []Axis) Multiscale {
	scale := make([]float64, len(axes))
	for i := range scale {
		scale[i] = 1.0
	}
	return Multiscale{
		Version: multiscaleVersion,
		Name:    name,
		Axes:    axes,
		Datasets: []MultiscaleDataset{
			{
				Path: "0",
				CoordinateTransformations: []ScaleTransform{
					{Type: "scale", Scale: scale},
				},
			},
		},
	}
}

// ImageAxes returns the axes of an image stack: a unitless channel axis
// followed by spatial axes in micrometers. rank is the full array rank
// including the channel axis (3 for C,Y,X; 4 for C,Z,Y,X).
func ImageAxes(rank int) []Axis {
	axes := []Axis{{Name: "c", Type: "channel"}}
	spatial := []string{"z", "y", "x"}
	for _, name := range spatial[3-(rank-1):] {
		axes = append(axes, Axis{Name: name, Type: "space", Unit: "micrometer"})
	}
	return axes
}

// PlaneAxes returns the 2D spatial axes used for labels and masks.
func PlaneAxes() []Axis {
	return []Axis{
		{Name: "y", Type: "space", Unit: "micrometer"},
		{Name: "x", Type: "space", Unit: "micrometer"},
	}
}
