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

package merge

import (
	"container/heap"
	"errors"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

var errMismatchedTileCounts = errors.New("attribute tile iterator exhausted before coordinates iterator")

// cursorHeap is a min-heap over not-yet-exhausted cursors, ordered by each
// cursor's current cell in tile-then-cell order. Ties (identical
// coordinates across fragments) are broken in favor of the higher-rank
// (more recent) fragment.
type cursorHeap struct {
	s       *schema.Schema
	cursors []*cursor
}

func (h *cursorHeap) Len() int { return len(h.cursors) }
func (h *cursorHeap) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	if c := h.s.CompareTileCellOrder(a.cur.Coords, b.cur.Coords); c != 0 {
		return c < 0
	}
	return a.rank > b.rank
}
func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *cursorHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*cursor)) }
func (h *cursorHeap) Pop() any {
	n := len(h.cursors)
	c := h.cursors[n-1]
	h.cursors = h.cursors[:n-1]
	return c
}

// Merger walks a set of open fragments in global tile-then-cell order,
// emitting each live coordinate's winning cell exactly once and silently
// dropping (while still honoring as a mask for older cells) every deletion
// tombstone. It is the single piece of logic shared by the Consolidator's
// merge step and the top-level read path's multi-fragment scan.
type Merger struct {
	s *schema.Schema
	h *cursorHeap

	cur  tile.Cell
	done bool
	err  error
}

// New returns a Merger over inputs, which must all share schema s. An input
// whose fragment is already empty is simply excluded from the merge.
func New(s *schema.Schema, inputs []Input) (*Merger, error) {
	h := &cursorHeap{s: s}
	for _, in := range inputs {
		c, err := newCursor(s, in)
		if err != nil {
			return nil, err
		}
		if !c.done {
			heap.Push(h, c)
		}
	}
	return &Merger{s: s, h: h}, nil
}

// nextDeduped pops the heap's next coordinate group, resolving duplicates
// to the highest-rank fragment's cell, and returns it. The second return is
// false once every input is exhausted.
func (m *Merger) nextDeduped() (tile.Cell, bool, error) {
	if m.h.Len() == 0 {
		return tile.Cell{}, false, nil
	}
	c := heap.Pop(m.h).(*cursor)
	winner := c.cur
	if err := c.advance(); err != nil {
		return tile.Cell{}, false, err
	}
	if !c.done {
		heap.Push(m.h, c)
	}
	return m.absorb(winner)
}

// absorb discards every remaining heap entry whose current cell shares
// winner's coordinates (they can only be lower-rank, by the heap's
// tie-break, so winner already beat them) and returns winner.
func (m *Merger) absorb(winner tile.Cell) (tile.Cell, bool, error) {
	for m.h.Len() > 0 {
		c := m.h.cursors[0]
		if m.s.CompareTileCellOrder(c.cur.Coords, winner.Coords) != 0 {
			break
		}
		heap.Pop(m.h)
		if err := c.advance(); err != nil {
			return tile.Cell{}, false, err
		}
		if !c.done {
			heap.Push(m.h, c)
		}
	}
	return winner, true, nil
}

// Next advances the merge to the next live cell; false once every input is
// exhausted or an error occurred (check Err).
func (m *Merger) Next() bool {
	if m.err != nil || m.done {
		return false
	}
	for {
		cell, ok, err := m.nextDeduped()
		if err != nil {
			m.err = err
			return false
		}
		if !ok {
			m.done = true
			return false
		}
		if cell.Tombstone {
			continue
		}
		m.cur = cell
		return true
	}
}

// Cell returns the cell at the Merger's current position.
func (m *Merger) Cell() tile.Cell { return m.cur }

// Err returns the first error encountered while merging, if any.
func (m *Merger) Err() error { return m.err }
