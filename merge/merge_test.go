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
	"path/filepath"
	"testing"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
	"github.com/TileDB-Inc/TileDB-sub035/writer"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		[]schema.Dimension{{Name: "x", Type: schema.Int64, Lo: 0, Hi: 100}},
		[]schema.Attribute{{Name: "v", Type: schema.Int64, CellValNum: 1}},
		schema.RowMajor, schema.TileNone, 10,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func cell(x, v int64) tile.Cell {
	return tile.Cell{
		Coords: schema.Coord{x},
		Values: [][]byte{schema.EncodeOrdinal(schema.Int64, v)},
	}
}

func tombstone(x int64) tile.Cell {
	return tile.Cell{Coords: schema.Coord{x}, Tombstone: true}
}

// buildFragment writes cells into a new fragment under dir and returns a
// ReadHandle opened on it.
func buildFragment(t *testing.T, mgr *storage.Manager, s *schema.Schema, dir string, cells []tile.Cell) *storage.ReadHandle {
	t.Helper()
	wh, err := mgr.CreateFragment(s, dir)
	if err != nil {
		t.Fatalf("CreateFragment: %v", err)
	}
	fw, err := writer.NewFragmentWriter(s, dir+"-runs", 0)
	if err != nil {
		t.Fatalf("NewFragmentWriter: %v", err)
	}
	for _, c := range cells {
		if err := fw.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := fw.Seal(wh); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	rh, err := storage.OpenFragmentRead(mgr, s, dir)
	if err != nil {
		t.Fatalf("OpenFragmentRead: %v", err)
	}
	return rh
}

func TestMergeRecencyWins(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	older := buildFragment(t, mgr, s, filepath.Join(dir, "a"), []tile.Cell{cell(1, 10), cell(2, 20)})
	defer older.Close()
	newer := buildFragment(t, mgr, s, filepath.Join(dir, "b"), []tile.Cell{cell(2, 99), cell(3, 30)})
	defer newer.Close()

	m, err := New(s, []Input{{RH: older, Rank: 1}, {RH: newer, Rank: 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var got []tile.Cell
	for m.Next() {
		got = append(got, m.Cell())
	}
	if err := m.Err(); err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %d cells, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Coords[0] != w {
			t.Errorf("cell %d: coord = %d, want %d", i, got[i].Coords[0], w)
		}
	}
	v, _ := schema.DecodeOrdinal(schema.Int64, got[1].Values[0])
	if v != 99 {
		t.Errorf("coord 2 value = %d, want 99 (newer fragment should win)", v)
	}
}

func TestMergeTombstoneSuppressesOlderCell(t *testing.T) {
	s := testSchema(t)
	dir := t.TempDir()
	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	older := buildFragment(t, mgr, s, filepath.Join(dir, "a"), []tile.Cell{cell(5, 50)})
	defer older.Close()
	newer := buildFragment(t, mgr, s, filepath.Join(dir, "b"), []tile.Cell{tombstone(5)})
	defer newer.Close()

	m, err := New(s, []Input{{RH: older, Rank: 1}, {RH: newer, Rank: 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Next() {
		t.Fatalf("expected no cells, got %v", m.Cell())
	}
	if err := m.Err(); err != nil {
		t.Fatalf("merge: %v", err)
	}
}
