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

// Package zarr implements a chunked, compressed array store on the local
// filesystem using the zarr v2 directory layout: groups carry .zgroup and
// .zattrs files, datasets carry a .zarray descriptor and one file per
// chunk, keyed by dot-joined chunk indices in C order.
package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Dtype identifies an element type using the zarr/NumPy typestring
// convention. Multi-byte types are little-endian.
type Dtype string

const (
	Bool    Dtype = "|b1"
	Uint8   Dtype = "|u1"
	Int16   Dtype = "<i2"
	Uint16  Dtype = "<u2"
	Int32   Dtype = "<i4"
	Uint32  Dtype = "<u4"
	Int64   Dtype = "<i8"
	Float32 Dtype = "<f4"
	Float64 Dtype = "<f8"
)

// Size returns the element size in bytes, or 0 for an unknown dtype.
func (d Dtype) Size() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// IsInteger reports whether d is a signed or unsigned integer type.
func (d Dtype) IsInteger() bool {
	switch d {
	case Uint8, Int16, Uint16, Int32, Uint32, Int64:
		return true
	}
	return false
}

// Array is a dense n-dimensional array: a shape, a dtype, and C-order
// little-endian element bytes. Arrays are value carriers between the
// store and its callers; they do not own chunking or compression.
type Array struct {
	shape []int
	dtype Dtype
	data  []byte
}

// NewArray allocates a zero-filled array.
func NewArray(shape []int, dtype Dtype) *Array {
	return &Array{
		shape: append([]int(nil), shape...),
		dtype: dtype,
		data:  make([]byte, elemCount(shape)*dtype.Size()),
	}
}

// FromBytes wraps existing C-order element bytes as an array. The byte
// length must equal the product of the shape times the element size.
func FromBytes(shape []int, dtype Dtype, data []byte) (*Array, error) {
	want := elemCount(shape) * dtype.Size()
	if len(data) != want {
		return nil, fmt.Errorf("array data is %d bytes, shape %v of %s needs %d", len(data), shape, dtype, want)
	}
	return &Array{
		shape: append([]int(nil), shape...),
		dtype: dtype,
		data:  data,
	}, nil
}

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int {
	return len(a.shape)
}

// Dtype returns the element type.
func (a *Array) Dtype() Dtype {
	return a.dtype
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return elemCount(a.shape)
}

// Bytes returns the backing element bytes. The slice is shared, not
// copied.
func (a *Array) Bytes() []byte {
	return a.data
}

// Reshape returns a view of the same data with a new shape. The element
// count must be unchanged.
func (a *Array) Reshape(shape []int) (*Array, error) {
	if elemCount(shape) != a.Len() {
		return nil, fmt.Errorf("cannot reshape %v to %v", a.shape, shape)
	}
	return &Array{
		shape: append([]int(nil), shape...),
		dtype: a.dtype,
		data:  a.data,
	}, nil
}

// Int returns the element at flat index i as an int64. Valid for bool
// and integer dtypes; bool reads as 0 or 1.
func (a *Array) Int(i int) int64 {
	es := a.dtype.Size()
	b := a.data[i*es : i*es+es]
	switch a.dtype {
	case Bool, Uint8:
		return int64(b[0])
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case Uint16:
		return int64(binary.LittleEndian.Uint16(b))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case Uint32:
		return int64(binary.LittleEndian.Uint32(b))
	case Int64:
		return int64(binary.LittleEndian.Uint64(b))
	}
	panic(fmt.Sprintf("zarr: Int on non-integer dtype %s", a.dtype))
}

// SetInt stores v at flat index i, truncating to the element width.
func (a *Array) SetInt(i int, v int64) {
	es := a.dtype.Size()
	b := a.data[i*es : i*es+es]
	switch a.dtype {
	case Bool, Uint8:
		b[0] = byte(v)
	case Int16, Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Int32, Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	default:
		panic(fmt.Sprintf("zarr: SetInt on non-integer dtype %s", a.dtype))
	}
}

// Float returns the element at flat index i as a float64. Valid for
// float dtypes only.
func (a *Array) Float(i int) float64 {
	es := a.dtype.Size()
	b := a.data[i*es : i*es+es]
	switch a.dtype {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	panic(fmt.Sprintf("zarr: Float on non-float dtype %s", a.dtype))
}

// SetFloat stores v at flat index i for float dtypes.
func (a *Array) SetFloat(i int, v float64) {
	es := a.dtype.Size()
	b := a.data[i*es : i*es+es]
	switch a.dtype {
	case Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("zarr: SetFloat on non-float dtype %s", a.dtype))
	}
}

// Equal reports whether two arrays have identical shape, dtype, and
// element bytes.
func (a *Array) Equal(b *Array) bool {
	if a.dtype != b.dtype || len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return bytes.Equal(a.data, b.data)
}

func elemCount(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
