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
	"container/heap"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// runHeap is a min-heap over the not-yet-exhausted runs, ordered by each
// run's current head cell in tile-then-cell order. The last write to a
// given coordinate across the input runs must win, so ties are broken by
// each run's stored spillIdx (later runs were accumulated later and take
// priority), not by transient heap position: container/heap reorders
// element indices on every push/pop, so i and j never name a stable
// per-run property.
type runHeap struct {
	s    *schema.Schema
	runs []*run
}

func (h *runHeap) Len() int { return len(h.runs) }
func (h *runHeap) Less(i, j int) bool {
	a, b := h.runs[i].next, h.runs[j].next
	if c := h.s.CompareTileCellOrder(a.Coords, b.Coords); c != 0 {
		return c < 0
	}
	return h.runs[i].spillIdx > h.runs[j].spillIdx // more recent run sorts first on ties.
}
func (h *runHeap) Swap(i, j int) { h.runs[i], h.runs[j] = h.runs[j], h.runs[i] }
func (h *runHeap) Push(x any)    { h.runs = append(h.runs, x.(*run)) }
func (h *runHeap) Pop() any {
	n := len(h.runs)
	r := h.runs[n-1]
	h.runs = h.runs[:n-1]
	return r
}

// mergeRuns performs a hierarchical k-way merge of sorted runs, calling
// emit once per output cell in final tile-then-cell order with duplicates
// (across runs and within one run) resolved to the most recently written
// value (last-writer
// wins, matching an ordinary overwrite of the same coordinate within one
// fragment build).
func mergeRuns(s *schema.Schema, runs []*run) func(emit func(tile.Cell)) error {
	return func(emit func(tile.Cell)) error {
		h := &runHeap{s: s}
		for _, rn := range runs {
			if !rn.done {
				heap.Push(h, rn)
			}
		}
		defer func() {
			for _, rn := range runs {
				rn.close()
			}
		}()

		var pending *tile.Cell
		pendingRun := -1
		for h.Len() > 0 {
			rn := heap.Pop(h).(*run)
			cur := rn.next
			if err := rn.advance(s); err != nil {
				return err
			}
			if !rn.done {
				heap.Push(h, rn)
			}

			switch {
			case pending == nil:
				c := cur
				pending, pendingRun = &c, rn.spillIdx
			case s.CompareTileCellOrder(pending.Coords, cur.Coords) == 0:
				// Same coordinate. A run keeps its cells in Add order, so a
				// later cell from pending's own run replaces pending; a cell
				// from any other run is older (the heap's tie-break) and is
				// dropped.
				if rn.spillIdx == pendingRun {
					c := cur
					pending = &c
				}
			default:
				emit(*pending)
				c := cur
				pending, pendingRun = &c, rn.spillIdx
			}
		}
		if pending != nil {
			emit(*pending)
		}
		return nil
	}
}
