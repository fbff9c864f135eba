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

package tiledb

import (
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/TileDB-Inc/TileDB-sub035/consolidator"
	"github.com/TileDB-Inc/TileDB-sub035/csvio"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// demoSchema builds the 2-D int/float array used throughout these
// scenarios: domain [0,50]^2, attributes a1 int, a2 float, irregular
// tiles, Hilbert order, capacity 5.
func demoSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		[]schema.Dimension{
			{Name: "x", Type: schema.Int64, Lo: 0, Hi: 50},
			{Name: "y", Type: schema.Int64, Lo: 0, Hi: 50},
		},
		[]schema.Attribute{
			{Name: "a1", Type: schema.Int64, CellValNum: 1},
			{Name: "a2", Type: schema.Float64, CellValNum: 1},
		},
		schema.Hilbert, schema.TileNone, 5,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func loadCSV(t *testing.T, a *Array, s *schema.Schema, csvLines string) {
	t.Helper()
	r := csvio.NewReader(s, bytes.NewBufferString(csvLines))
	var cells []tile.Cell
	for {
		c, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("csvio.Read: %v", err)
		}
		cells = append(cells, c)
	}
	if _, err := a.Load(cells); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

// TestLoadThenExport covers scenario 1: load two cells via CSV, read the
// full range back, and export the result as CSV.
func TestLoadThenExport(t *testing.T) {
	dir := t.TempDir()
	s := demoSchema(t)
	a, err := OpenArray(dir, s, Config{})
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	defer a.Close()

	loadCSV(t, a, s, "3,4,10,1.5\n7,8,20,2.5\n")

	got, err := a.Read(nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Read returned %d cells, want 2: %+v", len(got), got)
	}

	var buf bytes.Buffer
	w := csvio.NewWriter(s, &buf)
	for _, c := range got {
		if err := w.Write(c); err != nil {
			t.Fatalf("csvio.Write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 2 {
		t.Fatalf("exported %d CSV lines, want 2:\n%s", n, buf.String())
	}
}

// TestThreeLoadsTriggerMerge covers scenario 2: three loads of three cells
// each at disjoint coordinates, with a consolidation step of 3, produce
// exactly one fragment after the third load and every cell stays readable.
func TestThreeLoadsTriggerMerge(t *testing.T) {
	dir := t.TempDir()
	s := demoSchema(t)
	a, err := OpenArray(dir, s, Config{ConsolidationStep: 3})
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	defer a.Close()

	loadCSV(t, a, s, "1,1,1,1.0\n2,2,2,2.0\n3,3,3,3.0\n")
	loadCSV(t, a, s, "11,11,11,11.0\n12,12,12,12.0\n13,13,13,13.0\n")
	loadCSV(t, a, s, "21,21,21,21.0\n22,22,22,22.0\n23,23,23,23.0\n")

	suffixes, err := consolidator.AllFragmentSuffixes(a.h)
	if err != nil {
		t.Fatalf("AllFragmentSuffixes: %v", err)
	}
	if len(suffixes) != 1 {
		t.Fatalf("fragment suffixes = %v, want exactly one merged fragment", suffixes)
	}

	got, err := a.Read(nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 9 {
		t.Fatalf("Read returned %d cells, want 9", len(got))
	}
}

// TestDeletionScenario covers scenario 3: a cell loaded then deleted by a
// NULL-attribute update must read back as absent.
func TestDeletionScenario(t *testing.T) {
	dir := t.TempDir()
	s := demoSchema(t)
	a, err := OpenArray(dir, s, Config{})
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	defer a.Close()

	loadCSV(t, a, s, "5,5,10,1.0\n")
	loadCSV(t, a, s, "5,5,*,*\n")

	got, err := a.Read(nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read returned %d cells, want 0 after deletion: %+v", len(got), got)
	}
}

// TestOverwritePrecedence covers scenario 4: a later write to the same
// coordinates must win over the earlier one.
func TestOverwritePrecedence(t *testing.T) {
	dir := t.TempDir()
	s := demoSchema(t)
	a, err := OpenArray(dir, s, Config{})
	if err != nil {
		t.Fatalf("OpenArray: %v", err)
	}
	defer a.Close()

	loadCSV(t, a, s, "5,5,10,1.0\n")
	loadCSV(t, a, s, "5,5,99,9.9\n")

	got, err := a.Read(nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Read returned %d cells, want 1: %+v", len(got), got)
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Coords[0] < got[j].Coords[0] })
	if a1 := tile.DecodeScalar(schema.Int64, got[0].Values[0]); a1 != 99 {
		t.Fatalf("a1 = %v, want 99 (later write should win)", a1)
	}
	if a2 := tile.DecodeScalar(schema.Float64, got[0].Values[1]); a2 != 9.9 {
		t.Fatalf("a2 = %v, want 9.9", a2)
	}
}
