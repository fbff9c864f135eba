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

// Package merge implements the merging iterator shared by the Consolidator
// and the plain multi-fragment read path: both need to walk several open
// fragments in global tile-then-cell order, resolve duplicate coordinates
// by fragment recency, and mask (without emitting) deletion tombstones.
package merge

import (
	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// Input is one fragment to merge, together with the recency rank used to
// break ties on duplicate coordinates: the input with the larger Rank wins.
// Callers typically use a fragment's hi sequence number as Rank.
type Input struct {
	RH   *storage.ReadHandle
	Rank uint64
}

// cursor walks one fragment's cells in on-disk order (which, for both dense
// and irregularly-tiled fragments, is already global tile-then-cell order:
// dense tiles are packed in tile-id order by construction, and the Fragment
// Writer sorts irregular fragments before packing). It keeps the
// coordinates tile iterator and every attribute's tile iterator advancing
// in lockstep, one fragment-local cell at a time.
type cursor struct {
	s    *schema.Schema
	rank uint64

	coordIt *storage.TileIterator
	attrIt  []*storage.TileIterator

	i, n int // index and count of cells in the currently loaded tile pair.

	cur  tile.Cell
	done bool
}

func newCursor(s *schema.Schema, in Input) (*cursor, error) {
	c := &cursor{
		s:       s,
		rank:    in.Rank,
		coordIt: storage.NewForwardIterator(in.RH, s.CoordsAttrIndex()),
		attrIt:  make([]*storage.TileIterator, s.AttrNum()),
	}
	for i := range c.attrIt {
		c.attrIt[i] = storage.NewForwardIterator(in.RH, i)
	}
	if err := c.advance(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadTile moves every iterator to its next tile, or marks the cursor done
// once the coordinates iterator is exhausted.
func (c *cursor) loadTile() error {
	if !c.coordIt.Next() {
		if err := c.coordIt.Err(); err != nil {
			return err
		}
		c.done = true
		return nil
	}
	for _, it := range c.attrIt {
		if !it.Next() {
			if err := it.Err(); err != nil {
				return err
			}
			return &errs.FormatError{Op: "merge.cursor", Err: errMismatchedTileCounts}
		}
	}
	c.n = c.coordIt.Tile().CellCount()
	c.i = 0
	return nil
}

// advance moves the cursor to its next cell, loading a new tile pair if the
// current one is exhausted, and populates c.cur.
func (c *cursor) advance() error {
	for {
		if c.done {
			return nil
		}
		if c.n == 0 || c.i >= c.n {
			if err := c.loadTile(); err != nil {
				return err
			}
			if c.done {
				return nil
			}
			if c.n == 0 {
				continue // empty tile pair, try the next one.
			}
		}
		break
	}
	coords := c.coordIt.Tile().Coord(c.i)
	cell := tile.Cell{Coords: coords}
	tombstone := len(c.attrIt) == 0 // an array with no user attributes cannot represent a deletion.
	if len(c.attrIt) > 0 {
		cell.Values = make([][]byte, len(c.attrIt))
		allNull := true
		for a, it := range c.attrIt {
			v, isNull := it.Tile().Value(c.i)
			cell.Values[a] = v
			if !isNull {
				allNull = false
			}
		}
		tombstone = allNull
	}
	cell.Tombstone = tombstone
	c.cur = cell
	c.i++
	return nil
}
