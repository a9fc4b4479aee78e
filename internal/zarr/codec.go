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
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor encodes and decodes chunk payloads.
type Compressor interface {
	// ID returns the codec identifier recorded in .zarray metadata.
	ID() string

	// Compress encodes src into a fresh buffer.
	Compress(src []byte) ([]byte, error)

	// Decompress decodes src; size is the expected uncompressed length.
	Decompress(src []byte, size int) ([]byte, error)
}

// LZ4 is the fast codec used for image and label chunks. Payloads are
// lz4 frames, which are self-describing and safe for incompressible
// input.
type LZ4 struct{}

// ID returns "lz4".
func (LZ4) ID() string { return "lz4" }

// Compress encodes src as an lz4 frame.
func (LZ4) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes an lz4 frame into a buffer of the given size.
func (LZ4) Decompress(src []byte, size int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

// Zstd is the high-ratio codec used for mask chunks.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd codec at the default compression level.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

// ID returns "zstd".
func (*Zstd) ID() string { return "zstd" }

// Compress encodes src as a zstd frame.
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

// Decompress decodes a zstd frame into a buffer of the given size.
func (z *Zstd) Decompress(src []byte, size int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(out), size)
	}
	return out, nil
}

// compressorByID resolves the codec recorded in a .zarray descriptor.
func compressorByID(id string) (Compressor, error) {
	switch id {
	case "lz4":
		return LZ4{}, nil
	case "zstd":
		return NewZstd()
	}
	return nil, fmt.Errorf("unknown compressor %q", id)
}
