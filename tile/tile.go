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

package tile

import (
	"fmt"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
)

// Tile is a packed run of cells sharing one logical tile id, for one
// attribute (or the synthetic coordinates attribute) in one fragment.
//
// A Tile is either mutable (owned by the Fragment Writer's tile packer,
// growing one cell at a time) or frozen (reconstructed by the Storage
// Manager for reads). Mutating a frozen tile, or reading a cell past a
// mutable tile's current length, is a contract violation.
type Tile struct {
	ID uint64

	IsCoords  bool
	CoordType schema.Type // meaningful only when IsCoords
	DimNum    int         // meaningful only when IsCoords

	AttrType   schema.Type // meaningful only when !IsCoords
	CellValNum uint32      // meaningful only when !IsCoords; tile.VarNumSentinel for variable

	mutable  bool
	capacity int // 0 means regular tiling: sealed by tile-id change only, not capacity.

	coords []schema.Coord // len == CellCount(); only for coordinate tiles.
	values [][]byte       // len == CellCount(); only for attribute tiles.
	null   []bool         // len == CellCount(); only for attribute tiles.

	mbr                     schema.Range
	boundsFirst, boundsLast schema.Coord
}

// NewMutableCoordTile returns an empty, growable coordinate tile.
// capacity == 0 means regular (space-bounded) tiling, where sealing is
// driven by a tile-id boundary crossing rather than a cell count.
func NewMutableCoordTile(id uint64, dimNum int, coordType schema.Type, capacity int) *Tile {
	return &Tile{ID: id, IsCoords: true, CoordType: coordType, DimNum: dimNum, mutable: true, capacity: capacity}
}

// NewMutableAttrTile returns an empty, growable tile for attribute a.
func NewMutableAttrTile(id uint64, a schema.Attribute, capacity int) *Tile {
	return &Tile{ID: id, AttrType: a.Type, CellValNum: a.CellValNum, mutable: true, capacity: capacity}
}

// CellCount returns the number of cells currently packed into t.
func (t *Tile) CellCount() int {
	if t.IsCoords {
		return len(t.coords)
	}
	return len(t.values)
}

// Full reports whether t has reached its capacity (irregular/capacity-bounded
// tiling only; regular tiles are sealed externally on a tile-id change and
// this always reports false for them).
func (t *Tile) Full() bool {
	return t.capacity > 0 && t.CellCount() >= t.capacity
}

// AppendCoord appends a coordinate tuple to a mutable coordinate tile,
// expanding its MBR and updating its last bounding coordinate incrementally.
func (t *Tile) AppendCoord(c schema.Coord) error {
	if !t.mutable || !t.IsCoords {
		return &errs.StateError{Op: "AppendCoord", Err: fmt.Errorf("tile %d is not a mutable coordinate tile", t.ID)}
	}
	cc := make(schema.Coord, len(c))
	copy(cc, c)
	if len(t.coords) == 0 {
		t.mbr = make(schema.Range, t.DimNum)
		for i, v := range cc {
			t.mbr[i].Lo, t.mbr[i].Hi = v, v
		}
		t.boundsFirst = cc
	} else {
		for i, v := range cc {
			if v < t.mbr[i].Lo {
				t.mbr[i].Lo = v
			}
			if v > t.mbr[i].Hi {
				t.mbr[i].Hi = v
			}
		}
	}
	t.boundsLast = cc
	t.coords = append(t.coords, cc)
	return nil
}

// AppendValue appends one attribute value (isNull selects the tombstone
// sentinel) to a mutable attribute tile.
func (t *Tile) AppendValue(v []byte, isNull bool) error {
	if !t.mutable || t.IsCoords {
		return &errs.StateError{Op: "AppendValue", Err: fmt.Errorf("tile %d is not a mutable attribute tile", t.ID)}
	}
	cp := append([]byte(nil), v...)
	t.values = append(t.values, cp)
	t.null = append(t.null, isNull)
	return nil
}

// Coord returns the i'th coordinate tuple of a coordinate tile.
func (t *Tile) Coord(i int) schema.Coord { return t.coords[i] }

// Value returns the i'th value of an attribute tile, and whether it is the
// NULL (tombstone) sentinel.
func (t *Tile) Value(i int) ([]byte, bool) { return t.values[i], t.null[i] }

// MBR returns the coordinate tile's minimum bounding rectangle. Zero value
// for attribute tiles or an empty coordinate tile.
func (t *Tile) MBR() schema.Range { return t.mbr }

// Bounds returns the coordinate tile's first and last coordinate tuple in
// cell order.
func (t *Tile) Bounds() (first, last schema.Coord) { return t.boundsFirst, t.boundsLast }

// Freeze returns a read-only copy of t suitable for handing to a reader;
// mutable tiles keep growing in place so callers that need a stable
// snapshot (e.g. the Storage Manager's append path, which appends t's
// payload to a segment buffer once sealed) should call this first.
func (t *Tile) Freeze() *Tile {
	f := *t
	f.mutable = false
	return &f
}
