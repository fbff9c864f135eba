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

package schema

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sparseTestSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		[]Dimension{
			{Name: "x", Type: Int64, Lo: 0, Hi: 50},
			{Name: "y", Type: Int64, Lo: 0, Hi: 50},
		},
		[]Attribute{
			{Name: "a1", Type: Int64, CellValNum: 1},
			{Name: "a2", Type: Float64, CellValNum: 1},
		},
		Hilbert, TileNone, 5,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	s.Name = "sparse_test"
	return s
}

func denseTestSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(
		[]Dimension{
			{Name: "x", Type: Int32, Lo: 0, Hi: 99, Extent: 10},
			{Name: "y", Type: Int32, Lo: 0, Hi: 99, Extent: 10},
		},
		[]Attribute{{Name: "v", Type: Float64, CellValNum: 1}},
		RowMajor, TileRowMajor, 0,
	)
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	s.Name = "dense_test"
	return s
}

func TestSchemaRoundTrip(t *testing.T) {
	for _, s := range []*Schema{sparseTestSchema(t), denseTestSchema(t)} {
		raw, err := s.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		got, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if diff := cmp.Diff(s, got); diff != "" {
			t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSchemaValidateRejectsBadExtent(t *testing.T) {
	_, err := NewSchema(
		[]Dimension{{Name: "x", Type: Int64, Lo: 0, Hi: 9, Extent: 20}},
		[]Attribute{{Name: "a", Type: Int64, CellValNum: 1}},
		RowMajor, TileRowMajor, 0,
	)
	if err == nil {
		t.Fatal("expected SchemaError for extent exceeding domain span")
	}
}

func TestSchemaValidateRejectsLoGtHi(t *testing.T) {
	_, err := NewSchema(
		[]Dimension{{Name: "x", Type: Int64, Lo: 10, Hi: 1}},
		nil, RowMajor, TileNone, 1,
	)
	if err == nil {
		t.Fatal("expected SchemaError for lo > hi")
	}
}

func TestSchemaValidateRejectsDuplicateNames(t *testing.T) {
	_, err := NewSchema(
		[]Dimension{{Name: "x", Type: Int64, Lo: 0, Hi: 9}},
		[]Attribute{
			{Name: "a", Type: Int64, CellValNum: 1},
			{Name: "a", Type: Int64, CellValNum: 1},
		},
		RowMajor, TileNone, 1,
	)
	if err == nil {
		t.Fatal("expected SchemaError for duplicate attribute name")
	}
}
