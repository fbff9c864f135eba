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

// Package writer implements the Fragment Writer: it accepts an unordered
// stream of cells, spills them to disk as sorted runs once too many have
// accumulated in memory, then merges the sorted runs into the final,
// tile-order fragment a storage.Manager commits.
package writer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// writeCellRecord writes one cell's run-file record: the coordinate tuple,
// a tombstone flag, and one length-prefixed raw value run per attribute
// (length-prefixed regardless of whether the attribute is fixed or
// variable, since runs are working storage, not the final wire format).
func writeCellRecord(w *bufio.Writer, s *schema.Schema, c tile.Cell) error {
	for _, v := range c.Coords {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	tomb := byte(0)
	if c.Tombstone {
		tomb = 1
	}
	if err := w.WriteByte(tomb); err != nil {
		return err
	}
	if c.Tombstone {
		return nil
	}
	for _, v := range c.Values {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(v))); err != nil {
			return err
		}
		if _, err := w.Write(v); err != nil {
			return err
		}
	}
	return nil
}

func readCellRecord(r io.Reader, s *schema.Schema) (tile.Cell, error) {
	coords := make(schema.Coord, s.DimNum())
	for i := range coords {
		if err := binary.Read(r, binary.LittleEndian, &coords[i]); err != nil {
			return tile.Cell{}, err
		}
	}
	var tomb [1]byte
	if _, err := io.ReadFull(r, tomb[:]); err != nil {
		return tile.Cell{}, err
	}
	c := tile.Cell{Coords: coords, Tombstone: tomb[0] == 1}
	if c.Tombstone {
		return c, nil
	}
	c.Values = make([][]byte, s.AttrNum())
	for i := range c.Values {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return tile.Cell{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return tile.Cell{}, err
		}
		c.Values[i] = buf
	}
	return c, nil
}

// run is a sorted, spilled-to-disk run of cells produced by one buffer
// flush during the ACCUMULATE/SORT&SPILL phase.
type run struct {
	path string
	f    *os.File
	r    *bufio.Reader
	next tile.Cell
	done bool
	// spillIdx is the run's spill order: a higher value was accumulated
	// and flushed later, so it must win tie-breaks against an earlier run
	// holding the same coordinate.
	spillIdx int
}

// runPath returns the on-disk path for run idx within dir.
func runPath(dir string, idx int) string {
	return fmt.Sprintf("%s/run-%04d.tmp", dir, idx)
}

// spillRun writes cells (already sorted by the caller) to a new run file
// and closes it; the run is later reopened for reading by openRun once all
// runs exist and the merge phase begins.
func spillRun(dir string, idx int, s *schema.Schema, cells []tile.Cell) error {
	path := runPath(dir, idx)
	f, err := os.Create(path)
	if err != nil {
		return &errs.IoError{Op: "spillRun", Fragment: dir, Err: err}
	}
	bw := bufio.NewWriter(f)
	for _, c := range cells {
		if err := writeCellRecord(bw, s, c); err != nil {
			_ = f.Close()
			return &errs.IoError{Op: "spillRun", Fragment: dir, Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return &errs.IoError{Op: "spillRun", Fragment: dir, Err: err}
	}
	return f.Close()
}

func openRun(path string, idx int, s *schema.Schema) (*run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IoError{Op: "openRun", Err: err}
	}
	rn := &run{path: path, f: f, r: bufio.NewReader(f), spillIdx: idx}
	if err := rn.advance(s); err != nil {
		return nil, err
	}
	return rn, nil
}

// advance reads the next cell from the run into rn.next, setting rn.done at
// EOF.
func (rn *run) advance(s *schema.Schema) error {
	c, err := readCellRecord(rn.r, s)
	if err == io.EOF {
		rn.done = true
		return nil
	}
	if err != nil {
		return &errs.IoError{Op: "run.advance", Err: err}
	}
	rn.next = c
	return nil
}

func (rn *run) close() {
	_ = rn.f.Close()
	_ = os.Remove(rn.path)
}
