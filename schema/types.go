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

// Package schema describes the shape of a TileDB-sub035 array: its
// dimensions, attributes, cell/tile order and tiling layout.
//
// A Schema is pure data - it does not touch storage. Every other component
// (tile, storage, writer, consolidator) is parameterized by one.
package schema

import "fmt"

// Type identifies the on-disk representation of a dimension or attribute
// value.
type Type uint8

const (
	Int8 Type = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Char
)

// Size returns the fixed byte width of a single value of t, or 1 for Char
// (which is only ever used as the element type of a variable-length run).
func (t Type) Size() int {
	switch t {
	case Int8, Uint8, Char:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	panic(fmt.Sprintf("unknown type %d", t))
}

// IsFloat reports whether t is a floating point type.
func (t Type) IsFloat() bool {
	return t == Float32 || t == Float64
}

func (t Type) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Char:
		return "char"
	}
	return fmt.Sprintf("Type(%d)", t)
}

// CellOrder is the total order imposed on cells within a tile (and, for
// irregular tiling, across the whole array).
type CellOrder uint8

const (
	RowMajor CellOrder = iota
	ColMajor
	Hilbert
)

func (o CellOrder) String() string {
	switch o {
	case RowMajor:
		return "row-major"
	case ColMajor:
		return "col-major"
	case Hilbert:
		return "hilbert"
	}
	return fmt.Sprintf("CellOrder(%d)", o)
}

// TileOrder is the order in which regularly-tiled space tiles are
// linearized. None is used for irregular (capacity-bounded) tiling.
type TileOrder uint8

const (
	TileRowMajor TileOrder = iota
	TileColMajor
	TileNone
)

func (o TileOrder) String() string {
	switch o {
	case TileRowMajor:
		return "row-major"
	case TileColMajor:
		return "col-major"
	case TileNone:
		return "none"
	}
	return fmt.Sprintf("TileOrder(%d)", o)
}

// VarNum is the cell_val_num sentinel marking a variable-length attribute.
const VarNum uint32 = 0

// Dimension describes one axis of the array's domain.
type Dimension struct {
	Name   string
	Type   Type
	Lo, Hi int64 // FloatToOrdinal ordinals for float types, see NewFloatDimension.
	// Extent is the regular tile extent along this dimension; zero means
	// irregular (capacity-bounded) tiling.
	Extent int64
}

// Attribute describes one value column stored alongside each cell's
// coordinates.
type Attribute struct {
	Name string
	Type Type
	// CellValNum is the number of values of Type per cell, or VarNum for a
	// variable-length attribute.
	CellValNum uint32
	Compressor Compressor
	Level      int
}

// IsVar reports whether a is a variable-length attribute.
func (a Attribute) IsVar() bool { return a.CellValNum == VarNum }

// Compressor identifies the codec applied to an attribute's tile-data
// segments before they hit disk.
type Compressor uint8

const (
	NoCompression Compressor = iota
	Zstd
	Snappy
)

// Schema is the immutable description of one logical array.
type Schema struct {
	Name       string
	Dimensions []Dimension
	Attributes []Attribute

	CellOrder CellOrder
	TileOrder TileOrder
	// Capacity bounds cells-per-tile for irregular tiling; ignored
	// (informationally) for regular tiling, where tile extents determine
	// cell counts instead.
	Capacity uint64

	// Dense is true when every dimension has a non-zero Extent (regular
	// tiling). Sparse arrays always use irregular tiling.
	Dense bool
}

// DimNum is the number of dimensions in the array's domain.
func (s *Schema) DimNum() int { return len(s.Dimensions) }

// AttrNum is the number of user attributes (excluding the synthetic
// coordinates attribute).
func (s *Schema) AttrNum() int { return len(s.Attributes) }

// CoordsAttrIndex returns the position of the synthetic "coordinates
// attribute" - always one past the last real attribute.
func (s *Schema) CoordsAttrIndex() int { return len(s.Attributes) }

// CoordType returns the common type used to store coordinate tuples.
// All dimensions in this port share one coordinate type (the common case in
// the source system); mixed-type domains are rejected by Validate.
func (s *Schema) CoordType() Type { return s.Dimensions[0].Type }

// Validate enforces the schema's structural invariants and returns a
// *SchemaError describing the first violation found.
func (s *Schema) Validate() error {
	if len(s.Dimensions) == 0 {
		return &SchemaError{Msg: "schema must have at least one dimension"}
	}
	seen := map[string]bool{}
	for _, d := range s.Dimensions {
		if seen[d.Name] {
			return &SchemaError{Msg: fmt.Sprintf("duplicate dimension name %q", d.Name)}
		}
		seen[d.Name] = true
		if d.Type != s.Dimensions[0].Type {
			return &SchemaError{Msg: "all dimensions must share a coordinate type in this port"}
		}
		if d.Lo > d.Hi {
			return &SchemaError{Msg: fmt.Sprintf("dimension %q: lo (%d) > hi (%d)", d.Name, d.Lo, d.Hi)}
		}
		if d.Extent != 0 {
			span := d.Hi - d.Lo + 1
			if d.Extent > span {
				return &SchemaError{Msg: fmt.Sprintf("dimension %q: extent (%d) exceeds domain span (%d)", d.Name, d.Extent, span)}
			}
		}
	}
	dense := true
	for _, d := range s.Dimensions {
		if d.Extent == 0 {
			dense = false
		}
	}
	s.Dense = dense
	if !dense && s.TileOrder != TileNone {
		return &SchemaError{Msg: "irregular (sparse) tiling requires tile order 'none'"}
	}
	if dense && s.TileOrder == TileNone {
		return &SchemaError{Msg: "regular (dense) tiling requires a tile order"}
	}
	if !dense && s.Capacity == 0 {
		return &SchemaError{Msg: "irregular tiling requires capacity >= 1"}
	}

	attrSeen := map[string]bool{}
	for _, a := range s.Attributes {
		if attrSeen[a.Name] {
			return &SchemaError{Msg: fmt.Sprintf("duplicate attribute name %q", a.Name)}
		}
		attrSeen[a.Name] = true
		if seen[a.Name] {
			return &SchemaError{Msg: fmt.Sprintf("attribute name %q collides with a dimension name", a.Name)}
		}
	}
	return nil
}

// NewFloatDimension builds a Dimension of type t (Float32 or Float64) whose
// Lo/Hi/Extent are expressed as ordinary float64 values. Internally these are
// stored as monotonic int64 ordinals (see FloatToOrdinal) so that every other
// component can compare and do tile-id arithmetic on Dimension.Lo/Hi/Extent
// using plain 64-bit integer operations regardless of the dimension's
// declared type.
func NewFloatDimension(name string, t Type, lo, hi, extent float64) Dimension {
	loO, hiO := FloatToOrdinal(lo), FloatToOrdinal(hi)
	var extO int64
	if extent != 0 {
		extO = FloatToOrdinal(lo+extent) - loO
	}
	return Dimension{Name: name, Type: t, Lo: loO, Hi: hiO, Extent: extO}
}

// NewSchema validates and returns a Schema, or a *SchemaError.
func NewSchema(dims []Dimension, attrs []Attribute, cellOrder CellOrder, tileOrder TileOrder, capacity uint64) (*Schema, error) {
	s := &Schema{
		Dimensions: dims,
		Attributes: attrs,
		CellOrder:  cellOrder,
		TileOrder:  tileOrder,
		Capacity:   capacity,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
