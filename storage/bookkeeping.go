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

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
)

// bookKeeping holds the four per-fragment book-keeping files, decoded.
// Per-attribute slices are in schema order with the synthetic coordinates
// attribute last, matching schema.Schema.CoordsAttrIndex.
type bookKeeping struct {
	TileIDs []uint64
	// Offsets[a][i] is the byte offset of tile i in attribute a's tile-data
	// file; len(Offsets) == AttrNum()+1 (coordinates last).
	Offsets [][]uint64
	// MBRs is nil for dense fragments (omitted on disk).
	MBRs   []schema.Range
	Bounds [][2]schema.Coord
}

const tileIDsFile = "tile_ids.bkp"
const offsetsFile = "offsets.bkp"
const mbrsFile = "mbrs.bkp"
const boundsFile = "bounds.bkp"

func writeTileIDs(dir string, ids []uint64) error {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, uint64(len(ids)))
	for _, id := range ids {
		_ = binary.Write(buf, binary.LittleEndian, id)
	}
	return overwrite(dir+"/"+tileIDsFile, buf.Bytes())
}

func readTileIDs(dir string) ([]uint64, error) {
	raw, err := os.ReadFile(dir + "/" + tileIDsFile)
	if err != nil {
		return nil, &errs.IoError{Op: "readTileIDs", Err: err}
	}
	if len(raw) < 8 {
		return nil, &errs.FormatError{Op: "readTileIDs", Err: fmt.Errorf("truncated header (%d bytes)", len(raw))}
	}
	r := bytes.NewReader(raw)
	var n uint64
	_ = binary.Read(r, binary.LittleEndian, &n)
	want := 8 + 8*int(n)
	if len(raw) != want {
		return nil, &errs.FormatError{Op: "readTileIDs", Err: fmt.Errorf("length %d, want %d for %d tiles", len(raw), want, n)}
	}
	ids := make([]uint64, n)
	for i := range ids {
		_ = binary.Read(r, binary.LittleEndian, &ids[i])
	}
	return ids, nil
}

func writeOffsets(dir string, offsets [][]uint64) error {
	buf := &bytes.Buffer{}
	for _, perAttr := range offsets {
		for _, o := range perAttr {
			_ = binary.Write(buf, binary.LittleEndian, o)
		}
	}
	return overwrite(dir+"/"+offsetsFile, buf.Bytes())
}

func readOffsets(dir string, attrCount int, tileNum int) ([][]uint64, error) {
	raw, err := os.ReadFile(dir + "/" + offsetsFile)
	if err != nil {
		return nil, &errs.IoError{Op: "readOffsets", Err: err}
	}
	want := 8 * attrCount * tileNum
	if len(raw) != want {
		return nil, &errs.FormatError{Op: "readOffsets", Err: fmt.Errorf("length %d, want %d (%d attrs x %d tiles)", len(raw), want, attrCount, tileNum)}
	}
	r := bytes.NewReader(raw)
	out := make([][]uint64, attrCount)
	for a := range out {
		out[a] = make([]uint64, tileNum)
		for i := range out[a] {
			_ = binary.Read(r, binary.LittleEndian, &out[a][i])
		}
	}
	return out, nil
}

func writeMBRs(dir string, s *schema.Schema, mbrs []schema.Range) error {
	if s.Dense {
		return nil
	}
	buf := &bytes.Buffer{}
	ct := s.CoordType()
	for _, mbr := range mbrs {
		for _, b := range mbr {
			buf.Write(schema.EncodeOrdinal(ct, b.Lo))
			buf.Write(schema.EncodeOrdinal(ct, b.Hi))
		}
	}
	return overwrite(dir+"/"+mbrsFile, buf.Bytes())
}

func readMBRs(dir string, s *schema.Schema, tileNum int) ([]schema.Range, error) {
	if s.Dense {
		return nil, nil
	}
	raw, err := os.ReadFile(dir + "/" + mbrsFile)
	if err != nil {
		return nil, &errs.IoError{Op: "readMBRs", Err: err}
	}
	ct := s.CoordType()
	elem := ct.Size()
	recSize := 2 * s.DimNum() * elem
	if len(raw) != recSize*tileNum {
		return nil, &errs.FormatError{Op: "readMBRs", Err: fmt.Errorf("length %d, want %d", len(raw), recSize*tileNum)}
	}
	r := bytes.NewReader(raw)
	out := make([]schema.Range, tileNum)
	for i := range out {
		out[i] = make(schema.Range, s.DimNum())
		for d := 0; d < s.DimNum(); d++ {
			lo, hi := make([]byte, elem), make([]byte, elem)
			if _, err := io.ReadFull(r, lo); err != nil {
				return nil, &errs.IoError{Op: "readMBRs", Err: err}
			}
			if _, err := io.ReadFull(r, hi); err != nil {
				return nil, &errs.IoError{Op: "readMBRs", Err: err}
			}
			loV, _ := schema.DecodeOrdinal(ct, lo)
			hiV, _ := schema.DecodeOrdinal(ct, hi)
			out[i][d].Lo, out[i][d].Hi = loV, hiV
		}
	}
	return out, nil
}

func writeBounds(dir string, s *schema.Schema, bounds [][2]schema.Coord) error {
	buf := &bytes.Buffer{}
	ct := s.CoordType()
	for _, b := range bounds {
		for _, c := range b {
			for d := 0; d < s.DimNum(); d++ {
				buf.Write(schema.EncodeOrdinal(ct, c[d]))
			}
		}
	}
	return overwrite(dir+"/"+boundsFile, buf.Bytes())
}

func readBounds(dir string, s *schema.Schema, tileNum int) ([][2]schema.Coord, error) {
	raw, err := os.ReadFile(dir + "/" + boundsFile)
	if err != nil {
		return nil, &errs.IoError{Op: "readBounds", Err: err}
	}
	ct := s.CoordType()
	elem := ct.Size()
	recSize := 2 * s.DimNum() * elem
	if len(raw) != recSize*tileNum {
		return nil, &errs.FormatError{Op: "readBounds", Err: fmt.Errorf("length %d, want %d", len(raw), recSize*tileNum)}
	}
	r := bytes.NewReader(raw)
	out := make([][2]schema.Coord, tileNum)
	for i := range out {
		for k := 0; k < 2; k++ {
			c := make(schema.Coord, s.DimNum())
			for d := 0; d < s.DimNum(); d++ {
				b := make([]byte, elem)
				if _, err := io.ReadFull(r, b); err != nil {
					return nil, &errs.IoError{Op: "readBounds", Err: err}
				}
				v, _ := schema.DecodeOrdinal(ct, b)
				c[d] = v
			}
			out[i][k] = c
		}
	}
	return out, nil
}
