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
	"path/filepath"
	"testing"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

func testSchema(t *testing.T, capacity uint64) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		[]schema.Dimension{
			{Name: "x", Type: schema.Int64, Lo: 0, Hi: 100},
			{Name: "y", Type: schema.Int64, Lo: 0, Hi: 100},
		},
		[]schema.Attribute{{Name: "v", Type: schema.Int64, CellValNum: 1}},
		schema.RowMajor, schema.TileNone, capacity,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func cell(x, y, v int64) tile.Cell {
	return tile.Cell{
		Coords: schema.Coord{x, y},
		Values: [][]byte{schema.EncodeOrdinal(schema.Int64, v)},
	}
}

func tombstone(x, y int64) tile.Cell {
	return tile.Cell{Coords: schema.Coord{x, y}, Tombstone: true}
}

func TestSealProducesOrderedFragment(t *testing.T) {
	s := testSchema(t, 4) // small capacity forces multiple tiles.
	dir := t.TempDir()

	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	wh, err := mgr.CreateFragment(s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("CreateFragment: %v", err)
	}
	fw, err := NewFragmentWriter(s, filepath.Join(dir, "runs"), 3)
	if err != nil {
		t.Fatalf("NewFragmentWriter: %v", err)
	}

	cells := []tile.Cell{
		cell(5, 5, 50), cell(1, 1, 10), cell(3, 2, 30),
		cell(9, 9, 90), cell(2, 0, 20), cell(0, 0, 1),
	}
	for _, c := range cells {
		if err := fw.Add(c); err != nil {
			t.Fatalf("Add(%v): %v", c, err)
		}
	}
	if err := fw.Seal(wh); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rh, err := storage.OpenFragmentRead(mgr, s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("OpenFragmentRead: %v", err)
	}
	defer rh.Close()

	coordsIdx := s.CoordsAttrIndex()
	it := storage.NewForwardIterator(rh, coordsIdx)
	var got []schema.Coord
	for it.Next() {
		ct := it.Tile()
		for i := 0; i < ct.CellCount(); i++ {
			got = append(got, ct.Coord(i))
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate coords: %v", err)
	}
	for i := 1; i < len(got); i++ {
		if s.CompareCellOrder(got[i-1], got[i]) > 0 {
			t.Errorf("cells out of order at %d: %v then %v", i, got[i-1], got[i])
		}
	}
	if len(got) != len(cells) {
		t.Errorf("got %d cells, want %d", len(got), len(cells))
	}
}

func TestSealLastWriteWins(t *testing.T) {
	s := testSchema(t, 10)
	dir := t.TempDir()

	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	wh, err := mgr.CreateFragment(s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("CreateFragment: %v", err)
	}
	fw, err := NewFragmentWriter(s, filepath.Join(dir, "runs"), 1) // one cell per run: forces a multi-run merge.
	if err != nil {
		t.Fatalf("NewFragmentWriter: %v", err)
	}

	if err := fw.Add(cell(1, 1, 10)); err != nil {
		t.Fatal(err)
	}
	if err := fw.Add(cell(1, 1, 99)); err != nil { // later Add, same coordinate: must win.
		t.Fatal(err)
	}
	if err := fw.Seal(wh); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rh, err := storage.OpenFragmentRead(mgr, s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("OpenFragmentRead: %v", err)
	}
	defer rh.Close()

	if rh.TileCount() != 1 {
		t.Fatalf("TileCount() = %d, want 1", rh.TileCount())
	}
	vt, err := rh.Tile(0, 0)
	if err != nil {
		t.Fatalf("Tile(v, 0): %v", err)
	}
	v, isNull := vt.Value(0)
	if isNull {
		t.Fatalf("value unexpectedly null")
	}
	got, _ := schema.DecodeOrdinal(schema.Int64, v)
	if got != 99 {
		t.Errorf("v = %d, want 99 (last write should win)", got)
	}
}

func TestSealTombstoneRecordsNull(t *testing.T) {
	s := testSchema(t, 10)
	dir := t.TempDir()

	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	wh, err := mgr.CreateFragment(s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("CreateFragment: %v", err)
	}
	fw, err := NewFragmentWriter(s, filepath.Join(dir, "runs"), 8)
	if err != nil {
		t.Fatalf("NewFragmentWriter: %v", err)
	}
	if err := fw.Add(cell(4, 4, 40)); err != nil {
		t.Fatal(err)
	}
	if err := fw.Add(tombstone(4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := fw.Seal(wh); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	rh, err := storage.OpenFragmentRead(mgr, s, filepath.Join(dir, "frag"))
	if err != nil {
		t.Fatalf("OpenFragmentRead: %v", err)
	}
	defer rh.Close()

	vt, err := rh.Tile(0, 0)
	if err != nil {
		t.Fatalf("Tile(v, 0): %v", err)
	}
	if _, isNull := vt.Value(0); !isNull {
		t.Errorf("expected tombstoned cell to read back null")
	}
}
