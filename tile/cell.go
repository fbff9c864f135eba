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

// Package tile implements the in-memory, typed, fixed- or variable-size
// payload unit that every component above the schema layer exchanges: a
// Cell is one row (coordinates plus attribute values), a Tile is a packed
// run of cells for one attribute (or the synthetic coordinates attribute)
// sharing one tile id.
package tile

import "github.com/TileDB-Inc/TileDB-sub035/schema"

// Cell is one row of an array: its coordinates plus one raw value per
// attribute, in schema order. It is the common currency passed between
// csvio, the Fragment Writer, the merge package and the Storage Manager's
// read path.
//
// Values[i] is the raw encoded bytes for Attributes[i]: Attribute.Type.Size()
// bytes per element (times CellValNum) for a fixed attribute, or a bare byte
// run for a variable one. A nil Values[i] together with Tombstone == true
// denotes a deletion; a non-tombstone cell always has every Values[i] set
// (possibly to a zero-length run for an empty variable value).
type Cell struct {
	Coords    schema.Coord
	Values    [][]byte
	Tombstone bool

	// TileID and CellID are not part of a cell's logical identity. No
	// package in this module sets them (the Fragment Writer orders cells by
	// comparing coordinates directly); Clone copies them.
	TileID uint64
	CellID uint64
}

// Clone returns a deep copy of c, so callers may safely retain a Cell
// across a buffer reuse (e.g. run accumulation in the writer package).
func (c Cell) Clone() Cell {
	coords := make(schema.Coord, len(c.Coords))
	copy(coords, c.Coords)
	values := make([][]byte, len(c.Values))
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		values[i] = append([]byte(nil), v...)
	}
	return Cell{Coords: coords, Values: values, Tombstone: c.Tombstone, TileID: c.TileID, CellID: c.CellID}
}
