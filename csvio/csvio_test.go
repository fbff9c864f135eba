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

package csvio

import (
	"bytes"
	"io"
	"testing"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

func fixedSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewSchema(
		[]schema.Dimension{
			schema.NewFloatDimension("x", schema.Float64, 0, 100, 0),
			schema.NewFloatDimension("y", schema.Float64, 0, 100, 0),
		},
		[]schema.Attribute{
			{Name: "a", Type: schema.Int32, CellValNum: 1},
			{Name: "tags", Type: schema.Int32, CellValNum: schema.VarNum},
		},
		schema.RowMajor, schema.TileNone, 4,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestReadWriteRoundTrip(t *testing.T) {
	s := fixedSchema(t)
	cells := []tile.Cell{
		{
			Coords: schema.Coord{schema.FloatToOrdinal(3), schema.FloatToOrdinal(2.5)},
			Values: [][]byte{
				tile.EncodeScalar(schema.Int32, 7),
				append(append([]byte{}, tile.EncodeScalar(schema.Int32, 1)...), tile.EncodeScalar(schema.Int32, 2)...),
			},
		},
		{
			Coords:    schema.Coord{schema.FloatToOrdinal(9), schema.FloatToOrdinal(-1.5)},
			Tombstone: true,
		},
	}

	var buf bytes.Buffer
	w := NewWriter(s, &buf)
	for _, c := range cells {
		if err := w.Write(c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	r := NewReader(s, &buf)
	for i, want := range cells {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if got.Coords[0] != want.Coords[0] || got.Coords[1] != want.Coords[1] {
			t.Fatalf("cell %d: coords = %v, want %v", i, got.Coords, want.Coords)
		}
		if got.Tombstone != want.Tombstone {
			t.Fatalf("cell %d: tombstone = %v, want %v", i, got.Tombstone, want.Tombstone)
		}
		if !want.Tombstone {
			for a := range want.Values {
				if !bytes.Equal(got.Values[a], want.Values[a]) {
					t.Errorf("cell %d attr %d: got %v, want %v", i, a, got.Values[a], want.Values[a])
				}
			}
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Fatalf("expected io.EOF after last record, got %v", err)
	}
}

func TestReadDeletionLine(t *testing.T) {
	s := fixedSchema(t)
	r := NewReader(s, bytes.NewBufferString("5.0,1.0,*,*\n"))
	c, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.Tombstone {
		t.Fatalf("expected a tombstone cell")
	}
	if c.Coords[0] != schema.FloatToOrdinal(5.0) || c.Coords[1] != schema.FloatToOrdinal(1.0) {
		t.Fatalf("coords = %v, want [FloatToOrdinal(5.0), FloatToOrdinal(1.0)]", c.Coords)
	}
}

func TestReadVariableLengthAttribute(t *testing.T) {
	s := fixedSchema(t)
	r := NewReader(s, bytes.NewBufferString("1,2.0,4,3,10,20,30\n"))
	c, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	elemSize := schema.Int32.Size()
	if len(c.Values[1]) != 3*elemSize {
		t.Fatalf("tags value has %d bytes, want %d", len(c.Values[1]), 3*elemSize)
	}
	want := []float64{10, 20, 30}
	for i, w := range want {
		got := tile.DecodeScalar(schema.Int32, c.Values[1][i*elemSize:(i+1)*elemSize])
		if got != w {
			t.Errorf("tags[%d] = %v, want %v", i, got, w)
		}
	}
}
