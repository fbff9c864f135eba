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

package writer

import (
	"fmt"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// tilePacker groups an already-ordered stream of cells into sealed tiles
// and hands each off to a storage.WriteHandle: dense arrays seal whenever
// the cell's spatial tile id changes, sparse arrays seal every Capacity
// cells. The tile id recorded in book-keeping is the spatial linearization
// for dense arrays, and a plain arrival sequence number for sparse arrays.
type tilePacker struct {
	s    *schema.Schema
	wh   *storage.WriteHandle
	next uint64 // next tile id to assign (sparse), or unused (dense).

	open      bool
	curID     uint64
	coordT    *tile.Tile
	attrT     []*tile.Tile
	openCount int
}

func newTilePacker(s *schema.Schema, wh *storage.WriteHandle) *tilePacker {
	return &tilePacker{s: s, wh: wh}
}

func (p *tilePacker) targetTileID(c schema.Coord) uint64 {
	if p.s.Dense {
		return p.s.TileID(c)
	}
	return p.next
}

func (p *tilePacker) openTile(id uint64) {
	capacity := 0
	if !p.s.Dense {
		capacity = int(p.s.Capacity)
	}
	p.curID = id
	p.coordT = tile.NewMutableCoordTile(id, p.s.DimNum(), p.s.CoordType(), capacity)
	p.attrT = make([]*tile.Tile, p.s.AttrNum())
	for i, a := range p.s.Attributes {
		p.attrT[i] = tile.NewMutableAttrTile(id, a, capacity)
	}
	p.open = true
	p.openCount = 0
}

// add appends one cell to the currently open tile, sealing and opening a
// new one first if c belongs to a different tile.
func (p *tilePacker) add(c tile.Cell) error {
	target := p.targetTileID(c.Coords)
	switch {
	case !p.open:
		p.openTile(target)
	case p.s.Dense && target != p.curID:
		if err := p.seal(); err != nil {
			return err
		}
		p.openTile(target)
	case !p.s.Dense && p.s.Capacity > 0 && uint64(p.openCount) >= p.s.Capacity:
		if err := p.seal(); err != nil {
			return err
		}
		p.next++
		p.openTile(p.next)
	}
	if err := p.coordT.AppendCoord(c.Coords); err != nil {
		return err
	}
	for i, at := range p.attrT {
		if c.Tombstone {
			if err := at.AppendValue(nil, true); err != nil {
				return err
			}
			continue
		}
		if i >= len(c.Values) {
			return &errs.FormatError{Op: "tilePacker.add", Err: fmt.Errorf("cell missing value for attribute %d", i)}
		}
		if err := at.AppendValue(c.Values[i], false); err != nil {
			return err
		}
	}
	p.openCount++
	return nil
}

// seal flushes the currently open tile (if any) to the write handle, one
// AppendTile call per attribute plus the coordinates attribute.
func (p *tilePacker) seal() error {
	if !p.open || p.openCount == 0 {
		p.open = false
		return nil
	}
	for i, at := range p.attrT {
		if err := p.wh.AppendTile(i, at.Freeze()); err != nil {
			return fmt.Errorf("attribute %d: %w", i, err)
		}
	}
	if err := p.wh.AppendTile(p.s.CoordsAttrIndex(), p.coordT.Freeze()); err != nil {
		return fmt.Errorf("coordinates: %w", err)
	}
	p.open = false
	return nil
}

// finish seals any partially-filled trailing tile.
func (p *tilePacker) finish() error { return p.seal() }
