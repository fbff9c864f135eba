// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import (
	"bytes"
	"math"
)

// Coord is a dim_num-length coordinate tuple. For integral dimension types
// the value is the coordinate itself; for floating point dimensions it is
// the value's monotonic ordinal (see FloatToOrdinal) so that every
// comparator and all tile-id arithmetic can work in plain int64 space,
// without a per-cell type switch.
type Coord []int64

// FloatToOrdinal maps a float64 onto an int64 such that a < b (as floats)
// iff FloatToOrdinal(a) < FloatToOrdinal(b), and a == b (exact bits) iff the
// ordinals are equal. The IEEE 754 bit pattern is read as a signed integer,
// and negative values have their magnitude bits flipped so that a larger
// magnitude sorts lower.
func FloatToOrdinal(f float64) int64 {
	o := int64(math.Float64bits(f))
	if o < 0 {
		o ^= math.MaxInt64
	}
	return o
}

// OrdinalToFloat is the inverse of FloatToOrdinal.
func OrdinalToFloat(o int64) float64 {
	if o < 0 {
		o ^= math.MaxInt64
	}
	return math.Float64frombits(uint64(o))
}

func init() {
	// Self-check the ordinal mapping's monotonicity for a handful of
	// well-known values so a future change to the bit-twiddling above
	// can't silently break comparator correctness.
	vals := []float64{-1e300, -1.0, -0.0, 0.0, 1.0, 1e300, math.Inf(1), math.Inf(-1)}
	for i := 1; i < len(vals); i++ {
		if vals[i-1] <= vals[i] && FloatToOrdinal(vals[i-1]) > FloatToOrdinal(vals[i]) {
			panic("schema: FloatToOrdinal is not monotonic")
		}
	}
}

// cmp returns -1, 0 or +1 comparing two int64s.
func cmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareCellOrder compares a and b in this schema's cell order: row-major
// compares left-to-right, column-major right-to-left, and Hilbert compares
// Hilbert index first, falling back to row-major on ties.
func (s *Schema) CompareCellOrder(a, b Coord) int {
	switch s.CellOrder {
	case RowMajor:
		return compareRowMajor(a, b)
	case ColMajor:
		return compareColMajor(a, b)
	case Hilbert:
		if c := cmp(int64(s.hilbertIndex(a)), int64(s.hilbertIndex(b))); c != 0 {
			return c
		}
		return compareRowMajor(a, b)
	}
	panic("unknown cell order")
}

func compareRowMajor(a, b Coord) int {
	for i := range a {
		if c := cmp(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareColMajor(a, b Coord) int {
	for i := len(a) - 1; i >= 0; i-- {
		if c := cmp(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// CompareTileCellOrder compares a and b by tile order first, falling back
// to cell order when both fall in the same tile.
func (s *Schema) CompareTileCellOrder(a, b Coord) int {
	if s.TileOrder != TileNone {
		ta, tb := s.TileID(a), s.TileID(b)
		if c := cmp(int64(ta), int64(tb)); c != 0 {
			return c
		}
	}
	return s.CompareCellOrder(a, b)
}

// TileID returns 0 for irregular tiling, otherwise the order-preserving
// linearization of tile coordinates under the tile order. Computed without
// heap allocation.
func (s *Schema) TileID(c Coord) uint64 {
	if !s.Dense {
		return 0
	}
	// tileCoord[i] = (c[i] - lo[i]) / extent[i], linearized in tile order.
	var id uint64
	switch s.TileOrder {
	case TileRowMajor:
		for i, d := range s.Dimensions {
			tc := uint64(c[i]-d.Lo) / uint64(d.Extent)
			span := uint64(d.Hi-d.Lo+1+d.Extent-1) / uint64(d.Extent)
			id = id*span + tc
		}
	case TileColMajor:
		for i := len(s.Dimensions) - 1; i >= 0; i-- {
			d := s.Dimensions[i]
			tc := uint64(c[i]-d.Lo) / uint64(d.Extent)
			span := uint64(d.Hi-d.Lo+1+d.Extent-1) / uint64(d.Extent)
			id = id*span + tc
		}
	}
	return id
}

// EncodeOrdinal writes v (a Coord ordinal for a dimension or attribute of
// type t) to its raw little-endian on-disk form, reversing the monotonic
// float mapping for floating point types. Exported for use by the tile
// package when packing coordinate tiles to disk.
func EncodeOrdinal(t Type, v int64) []byte {
	buf := &bytes.Buffer{}
	writeOrdinal(buf, t, v)
	return buf.Bytes()
}

// DecodeOrdinal is the inverse of EncodeOrdinal.
func DecodeOrdinal(t Type, b []byte) (int64, error) {
	return readOrdinal(bytes.NewReader(b), t)
}

// CellPositionInTile returns the linear cell offset inside the tile c
// belongs to, in cell order.
func (s *Schema) CellPositionInTile(c Coord) uint64 {
	if !s.Dense {
		// Irregular tiling packs cells strictly in arrival-sorted order; the
		// tile packer (writer package) tracks position directly, so this is
		// only meaningful for regular tiling.
		return 0
	}
	var local Coord = make(Coord, len(c))
	extents := make([]int64, len(c))
	for i, d := range s.Dimensions {
		local[i] = (c[i] - d.Lo) % d.Extent
		extents[i] = d.Extent
	}
	var pos uint64
	switch s.CellOrder {
	case RowMajor:
		for i := range local {
			pos = pos*uint64(extents[i]) + uint64(local[i])
		}
	case ColMajor:
		for i := len(local) - 1; i >= 0; i-- {
			pos = pos*uint64(extents[i]) + uint64(local[i])
		}
	case Hilbert:
		pos = s.hilbertLocalIndex(local, extents)
	}
	return pos
}
