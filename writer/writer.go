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
	"os"
	"sort"
	"sync"
	"time"

	"github.com/globocom/go-buffer"
	"k8s.io/klog/v2"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// DefaultRunSize is the number of cells accumulated in memory before a run
// is sorted and spilled to disk, absent an explicit size from the caller.
const DefaultRunSize = 100_000

// FragmentWriter implements the ACCUMULATE / SORT&SPILL / MERGE pipeline:
// cells arrive in any order via Add, are grouped into runs that are sorted
// in memory and spilled to temporary files, then merged and packed into
// tiles on Seal.
type FragmentWriter struct {
	s      *schema.Schema
	runDir string

	buf *buffer.Buffer

	mu      sync.Mutex
	runIdx  int
	sealErr error

	work   chan []tile.Cell
	done   chan struct{}
	closed bool
}

// NewFragmentWriter returns a FragmentWriter that spills sorted runs under
// runDir (created if necessary); Seal packs the final merge into the
// storage.WriteHandle it is given. runSize <= 0 uses DefaultRunSize.
func NewFragmentWriter(s *schema.Schema, runDir string, runSize int) (*FragmentWriter, error) {
	if runSize <= 0 {
		runSize = DefaultRunSize
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, &errs.IoError{Op: "NewFragmentWriter", Fragment: runDir, Err: err}
	}
	w := &FragmentWriter{
		s: s, runDir: runDir,
		work: make(chan []tile.Cell, 1),
		done: make(chan struct{}),
	}
	toWork := func(items []interface{}) {
		cells := make([]tile.Cell, len(items))
		for i, it := range items {
			cells[i] = *it.(*tile.Cell)
		}
		w.work <- cells
	}
	w.buf = buffer.New(
		buffer.WithSize(uint(runSize)),
		buffer.WithFlushInterval(time.Hour), // time-based flush disabled in practice: Seal always drains explicitly.
		buffer.WithFlusher(buffer.FlusherFunc(toWork)),
	)
	go w.drain()
	return w, nil
}

// drain is the sole consumer of flushed batches: it sorts each one and
// spills it to its own run file. Running this on a dedicated goroutine lets
// Add return without blocking on disk I/O for the common case where the
// buffer hasn't filled yet.
func (w *FragmentWriter) drain() {
	defer close(w.done)
	for cells := range w.work {
		w.mu.Lock()
		idx := w.runIdx
		w.runIdx++
		w.mu.Unlock()
		sortCells(w.s, cells)
		if err := spillRun(w.runDir, idx, w.s, cells); err != nil {
			w.mu.Lock()
			if w.sealErr == nil {
				w.sealErr = err
			}
			w.mu.Unlock()
		}
	}
}

func sortCells(s *schema.Schema, cells []tile.Cell) {
	sort.SliceStable(cells, func(i, j int) bool {
		return s.CompareTileCellOrder(cells[i].Coords, cells[j].Coords) < 0
	})
}

// Add queues c for inclusion in the fragment. Cells may arrive in any
// order; Seal is responsible for producing them in tile-then-cell order.
func (w *FragmentWriter) Add(c tile.Cell) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return &errs.StateError{Op: "Add", Err: fmt.Errorf("writer already sealed")}
	}
	w.mu.Unlock()
	return w.buf.Push(&c)
}

// Seal flushes any buffered cells, merges every spilled run in tile order,
// packs the result into tiles, and commits the fragment via wh, which the
// caller must have obtained from a storage.Manager. Seal always closes wh
// on success and Abandons it on failure, and removes the writer's run
// directory in both cases.
func (w *FragmentWriter) Seal(wh *storage.WriteHandle) (err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return &errs.StateError{Op: "Seal", Err: fmt.Errorf("writer already sealed")}
	}
	w.closed = true
	w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.buf.Close(); err != nil {
		return err
	}
	close(w.work)
	<-w.done

	defer func() {
		if rmErr := os.RemoveAll(w.runDir); rmErr != nil {
			klog.Warningf("writer: remove run directory %q: %v", w.runDir, rmErr)
		}
	}()

	w.mu.Lock()
	sealErr, runCount := w.sealErr, w.runIdx
	w.mu.Unlock()
	if sealErr != nil {
		_ = wh.Abandon()
		return sealErr
	}

	defer func() {
		if err != nil {
			_ = wh.Abandon()
		}
	}()

	runs := make([]*run, 0, runCount)
	for i := 0; i < runCount; i++ {
		rn, oerr := openRun(runPath(w.runDir, i), i, w.s)
		if oerr != nil {
			return oerr
		}
		runs = append(runs, rn)
	}

	packer := newTilePacker(w.s, wh)
	if merr := mergeRuns(w.s, runs)(func(c tile.Cell) {
		if err != nil {
			return
		}
		err = packer.add(c)
	}); merr != nil {
		return merr
	}
	if err != nil {
		return err
	}
	if err = packer.finish(); err != nil {
		return err
	}
	return wh.Close()
}
