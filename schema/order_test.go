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

import "testing"

func TestCompareRowMajor(t *testing.T) {
	s := denseTestSchema(t)
	a := Coord{1, 9}
	b := Coord{1, 10}
	if c := s.CompareCellOrder(a, b); c != -1 {
		t.Errorf("CompareCellOrder(%v, %v) = %d, want -1", a, b, c)
	}
	if c := s.CompareCellOrder(b, a); c != 1 {
		t.Errorf("CompareCellOrder(%v, %v) = %d, want 1", b, a, c)
	}
	if c := s.CompareCellOrder(a, a); c != 0 {
		t.Errorf("CompareCellOrder(%v, %v) = %d, want 0", a, a, c)
	}
}

func TestCompareColMajor(t *testing.T) {
	s := denseTestSchema(t)
	s.CellOrder = ColMajor
	a := Coord{9, 1}
	b := Coord{10, 1}
	if c := s.CompareCellOrder(a, b); c != -1 {
		t.Errorf("CompareCellOrder(%v, %v) = %d, want -1", a, b, c)
	}
}

func TestTileIDRegularRowMajor(t *testing.T) {
	s := denseTestSchema(t) // 10x10 tiles over a 100x100 domain.
	id00 := s.TileID(Coord{0, 0})
	id01 := s.TileID(Coord{0, 10})
	id10 := s.TileID(Coord{10, 0})
	if id00 != 0 {
		t.Errorf("TileID({0,0}) = %d, want 0", id00)
	}
	if id01 != 1 {
		t.Errorf("TileID({0,10}) = %d, want 1", id01)
	}
	if id10 != 10 {
		t.Errorf("TileID({10,0}) = %d, want 10", id10)
	}
}

func TestTileIDIrregularIsZero(t *testing.T) {
	s := sparseTestSchema(t)
	if id := s.TileID(Coord{3, 4}); id != 0 {
		t.Errorf("TileID on irregular schema = %d, want 0", id)
	}
}

func TestFloatOrdinalMonotonic(t *testing.T) {
	vals := []float64{-100.5, -1, -0.001, 0, 0.001, 1, 100.5}
	for i := 1; i < len(vals); i++ {
		if FloatToOrdinal(vals[i-1]) >= FloatToOrdinal(vals[i]) {
			t.Errorf("FloatToOrdinal(%v) >= FloatToOrdinal(%v), want strictly increasing", vals[i-1], vals[i])
		}
	}
}

func TestFloatOrdinalRoundTrip(t *testing.T) {
	for _, v := range []float64{-100.5, -1, 0, 1, 100.5, 1e18} {
		got := OrdinalToFloat(FloatToOrdinal(v))
		if got != v {
			t.Errorf("OrdinalToFloat(FloatToOrdinal(%v)) = %v, want %v", v, got, v)
		}
	}
}

func TestSubarrayOverlap(t *testing.T) {
	s := denseTestSchema(t)
	full := NewRange([]int64{0, 0}, []int64{99, 99})
	tile := NewRange([]int64{0, 0}, []int64{9, 9})
	if got := s.SubarrayOverlap(full, tile); got != OverlapFull {
		t.Errorf("SubarrayOverlap(full, tile) = %v, want OverlapFull", got)
	}
	none := NewRange([]int64{200, 200}, []int64{210, 210})
	if got := s.SubarrayOverlap(none, tile); got != OverlapNone {
		t.Errorf("SubarrayOverlap(none, tile) = %v, want OverlapNone", got)
	}
	// Tile MBR [0..10,0..10], query range [5..15,5..15]: partial overlap,
	// not fully contained.
	mbr := NewRange([]int64{0, 0}, []int64{10, 10})
	query := NewRange([]int64{5, 5}, []int64{15, 15})
	if got := s.SubarrayOverlap(query, mbr); got == OverlapFull {
		t.Errorf("SubarrayOverlap(query, mbr) = %v, want not full", got)
	}
}

func TestExpandToTileDomain(t *testing.T) {
	s := denseTestSchema(t)
	in := NewRange([]int64{3, 15}, []int64{7, 22})
	out := s.ExpandToTileDomain(in)
	want := NewRange([]int64{0, 10}, []int64{9, 29})
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("ExpandToTileDomain()[%d] = %+v, want %+v", i, out[i], want[i])
		}
	}
}
