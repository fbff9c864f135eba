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

package consolidator

import (
	"path/filepath"
	"testing"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		[]schema.Dimension{{Name: "x", Type: schema.Int64, Lo: 0, Hi: 100}},
		[]schema.Attribute{{Name: "v", Type: schema.Int64, CellValNum: 1}},
		schema.Hilbert, schema.TileNone, 5,
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

func TestFragmentTreeRoundTrip(t *testing.T) {
	tree := &FragmentTree{Entries: []entry{{Level: 2, Count: 1}, {Level: 0, Count: 2}}, NextSeq: 11}
	got, err := unmarshalTree(marshalTree(tree))
	if err != nil {
		t.Fatalf("unmarshalTree: %v", err)
	}
	if got.NextSeq != tree.NextSeq || len(got.Entries) != len(tree.Entries) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tree)
	}
	for i, e := range tree.Entries {
		if got.Entries[i] != e {
			t.Errorf("entry %d: got %+v, want %+v", i, got.Entries[i], e)
		}
	}
}

func TestFragmentTreeValidate(t *testing.T) {
	const c = 3
	cases := []struct {
		name string
		tree *FragmentTree
		ok   bool
	}{
		{"empty tree", &FragmentTree{NextSeq: 0}, true},
		{"one level-0 entry", &FragmentTree{Entries: []entry{{Level: 0, Count: 2}}, NextSeq: 2}, true},
		{"level then base", &FragmentTree{Entries: []entry{{Level: 1, Count: 1}, {Level: 0, Count: 1}}, NextSeq: 4}, true},
		{"count too high", &FragmentTree{Entries: []entry{{Level: 0, Count: 3}}, NextSeq: 3}, false},
		{"non-decreasing levels", &FragmentTree{Entries: []entry{{Level: 0, Count: 1}, {Level: 1, Count: 1}}, NextSeq: 4}, false},
		{"represented mismatch", &FragmentTree{Entries: []entry{{Level: 0, Count: 1}}, NextSeq: 5}, false},
	}
	for _, tc := range cases {
		err := tc.tree.validate(c)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestAddFragmentTriggersMerge(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t)
	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h, err := OpenArray(mgr, s, dir, 3)
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}

	batches := [][]tile.Cell{
		{cell(1, 10), cell(2, 20), cell(3, 30)},
		{cell(10, 100), cell(11, 110), cell(12, 120)},
		{cell(20, 200), cell(21, 210), cell(22, 220)},
	}
	for i, batch := range batches {
		name, err := AddFragment(h, batch)
		if err != nil {
			t.Fatalf("AddFragment %d: %v", i, err)
		}
		if i < 2 && name == "" {
			t.Errorf("batch %d: expected a fragment name", i)
		}
	}

	suffixes, err := AllFragmentSuffixes(h)
	if err != nil {
		t.Fatalf("AllFragmentSuffixes: %v", err)
	}
	if len(suffixes) != 1 || suffixes[0] != "0_2" {
		t.Fatalf("suffixes = %v, want [\"0_2\"]", suffixes)
	}

	rh, err := storage.OpenFragmentRead(mgr, s, filepath.Join(dir, suffixes[0]))
	if err != nil {
		t.Fatalf("OpenFragmentRead: %v", err)
	}
	defer rh.Close()

	it := storage.NewForwardIterator(rh, s.CoordsAttrIndex())
	total := 0
	for it.Next() {
		total += it.Tile().CellCount()
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if total != 9 {
		t.Fatalf("merged fragment has %d cells, want 9", total)
	}

	if err := CloseArray(h); err != nil {
		t.Fatalf("CloseArray: %v", err)
	}
	if _, err := NextFragmentName(h); err == nil {
		t.Fatalf("expected stale-handle error after CloseArray")
	}
}

func TestDeleteArrayRemovesFragments(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t)
	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h, err := OpenArray(mgr, s, dir, 3)
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	if _, err := AddFragment(h, []tile.Cell{cell(1, 10)}); err != nil {
		t.Fatalf("AddFragment: %v", err)
	}
	if err := CloseArray(h); err != nil {
		t.Fatalf("CloseArray: %v", err)
	}
	if err := DeleteArray(dir); err != nil {
		t.Fatalf("DeleteArray: %v", err)
	}
	if _, err := OpenArray(mgr, s, dir, 3); err != nil {
		t.Fatalf("OpenArray after delete should start fresh: %v", err)
	}
}

func TestOpenArrayRefusesSecondWriter(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t)
	mgr, err := storage.NewManager(0, 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h, err := OpenArray(mgr, s, dir, 3)
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	if _, err := OpenArray(mgr, s, dir, 3); err == nil {
		t.Fatalf("expected second concurrent OpenArray to be refused")
	}
	if err := CloseArray(h); err != nil {
		t.Fatalf("CloseArray: %v", err)
	}
	h2, err := OpenArray(mgr, s, dir, 3)
	if err != nil {
		t.Fatalf("OpenArray after close should succeed: %v", err)
	}
	if err := CloseArray(h2); err != nil {
		t.Fatalf("CloseArray: %v", err)
	}
}
