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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
)

// VarNumSentinel mirrors schema.VarNum for attribute cell_val_num: a
// variable-length attribute.
const VarNumSentinel = schema.VarNum

// Marshal encodes t's payload exactly as it is written to a fragment's
// `<attr>.tile` (or `__coords.tile`) file: raw concatenation of per-cell
// values, fixed-size for fixed attributes and coordinates, or with an
// embedded u32 length prefix per cell for variable attributes.
func (t *Tile) Marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	if t.IsCoords {
		for _, c := range t.coords {
			for i := 0; i < t.DimNum; i++ {
				buf.Write(schema.EncodeOrdinal(t.CoordType, c[i]))
			}
		}
		return buf.Bytes(), nil
	}
	if t.CellValNum == VarNumSentinel {
		for i, v := range t.values {
			if t.null[i] {
				_ = binary.Write(buf, binary.LittleEndian, varNullLen)
				continue
			}
			_ = binary.Write(buf, binary.LittleEndian, uint32(len(v)))
			buf.Write(v)
		}
		return buf.Bytes(), nil
	}
	want := t.AttrType.Size() * int(t.CellValNum)
	for i, v := range t.values {
		if t.null[i] {
			for j := uint32(0); j < t.CellValNum; j++ {
				buf.Write(NullValue(t.AttrType))
			}
			continue
		}
		if len(v) != want {
			return nil, &errs.FormatError{Op: "Tile.Marshal", Err: fmt.Errorf("cell %d: value length %d, want %d", i, len(v), want)}
		}
		buf.Write(v)
	}
	return buf.Bytes(), nil
}

// UnmarshalCoordTile parses a coordinate tile's raw payload of cellCount
// cells.
func UnmarshalCoordTile(id uint64, raw []byte, dimNum int, coordType schema.Type, cellCount int) (*Tile, error) {
	elemSize := coordType.Size()
	cellSize := elemSize * dimNum
	if len(raw) != cellSize*cellCount {
		return nil, &errs.FormatError{Op: "UnmarshalCoordTile", Err: fmt.Errorf("payload length %d, want %d (%d cells of %d bytes)", len(raw), cellSize*cellCount, cellCount, cellSize)}
	}
	t := &Tile{ID: id, IsCoords: true, CoordType: coordType, DimNum: dimNum}
	r := bytes.NewReader(raw)
	for i := 0; i < cellCount; i++ {
		c := make(schema.Coord, dimNum)
		for d := 0; d < dimNum; d++ {
			elem := make([]byte, elemSize)
			if _, err := io.ReadFull(r, elem); err != nil {
				return nil, &errs.IoError{Op: "UnmarshalCoordTile", Err: err}
			}
			v, err := schema.DecodeOrdinal(coordType, elem)
			if err != nil {
				return nil, &errs.FormatError{Op: "UnmarshalCoordTile", Err: err}
			}
			c[d] = v
		}
		if i == 0 {
			t.mbr = make(schema.Range, dimNum)
			for d, v := range c {
				t.mbr[d].Lo, t.mbr[d].Hi = v, v
			}
			t.boundsFirst = c
		} else {
			for d, v := range c {
				if v < t.mbr[d].Lo {
					t.mbr[d].Lo = v
				}
				if v > t.mbr[d].Hi {
					t.mbr[d].Hi = v
				}
			}
		}
		t.boundsLast = c
		t.coords = append(t.coords, c)
	}
	return t, nil
}

// UnmarshalAttrTile parses an attribute tile's raw payload of cellCount
// cells for an attribute of type t with the given cellValNum (VarNumSentinel
// for variable-length).
func UnmarshalAttrTile(id uint64, raw []byte, attrType schema.Type, cellValNum uint32, cellCount int) (*Tile, error) {
	out := &Tile{ID: id, AttrType: attrType, CellValNum: cellValNum}
	r := bytes.NewReader(raw)
	if cellValNum == VarNumSentinel {
		for i := 0; i < cellCount; i++ {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, &errs.FormatError{Op: "UnmarshalAttrTile", Err: fmt.Errorf("cell %d length prefix: %w", i, err)}
			}
			if n == varNullLen {
				out.values = append(out.values, nil)
				out.null = append(out.null, true)
				continue
			}
			v := make([]byte, n)
			if _, err := io.ReadFull(r, v); err != nil {
				return nil, &errs.IoError{Op: "UnmarshalAttrTile", Err: err}
			}
			out.values = append(out.values, v)
			out.null = append(out.null, false)
		}
		return out, nil
	}
	cellSize := attrType.Size() * int(cellValNum)
	if len(raw) != cellSize*cellCount {
		return nil, &errs.FormatError{Op: "UnmarshalAttrTile", Err: fmt.Errorf("payload length %d, want %d", len(raw), cellSize*cellCount)}
	}
	for i := 0; i < cellCount; i++ {
		v := make([]byte, cellSize)
		if _, err := io.ReadFull(r, v); err != nil {
			return nil, &errs.IoError{Op: "UnmarshalAttrTile", Err: err}
		}
		isNull := IsNullValue(attrType, v)
		out.values = append(out.values, v)
		out.null = append(out.null, isNull)
	}
	return out, nil
}
