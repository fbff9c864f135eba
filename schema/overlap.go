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

// Range is a closed-interval subarray: one [Lo, Hi] pair per dimension, in
// the same ordinal space as Coord.
type Range []struct{ Lo, Hi int64 }

// NewRange builds a Range from parallel lo/hi slices.
func NewRange(lo, hi []int64) Range {
	r := make(Range, len(lo))
	for i := range lo {
		r[i].Lo, r[i].Hi = lo[i], hi[i]
	}
	return r
}

// Overlap classifies the relationship between two ranges.
type Overlap uint8

const (
	OverlapNone Overlap = iota
	OverlapPartial
	OverlapFull
	OverlapContig
)

// Contains reports whether r contains coordinate c.
func (r Range) Contains(c Coord) bool {
	for i, b := range r {
		if c[i] < b.Lo || c[i] > b.Hi {
			return false
		}
	}
	return true
}

// SubarrayOverlap classifies a's relationship to b as none/partial/full,
// with "full" meaning a fully contains b, and "contig" (returned in place of
// partial) meaning a ∩ b forms one contiguous run in cell order.
func (s *Schema) SubarrayOverlap(a, b Range) Overlap {
	anyOverlap, full := false, true
	for i := range a {
		lo := max64(a[i].Lo, b[i].Lo)
		hi := min64(a[i].Hi, b[i].Hi)
		if lo > hi {
			return OverlapNone
		}
		anyOverlap = true
		if !(a[i].Lo <= b[i].Lo && b[i].Hi <= a[i].Hi) {
			full = false
		}
	}
	if !anyOverlap {
		return OverlapNone
	}
	if full {
		return OverlapFull
	}
	if s.isContiguous(a, b) {
		return OverlapContig
	}
	return OverlapPartial
}

// isContiguous reports whether the intersection of a and b forms a single
// contiguous run of cells in the schema's cell order: true whenever every
// dimension but the slowest-varying one ((for row-major) the first, or (for
// column-major) the last) is fully covered by a within b's bounds.
func (s *Schema) isContiguous(a, b Range) bool {
	n := len(a)
	if n == 0 {
		return true
	}
	check := func(order []int) bool {
		for _, i := range order[:len(order)-1] {
			if !(a[i].Lo <= b[i].Lo && b[i].Hi <= a[i].Hi) {
				return false
			}
		}
		return true
	}
	switch s.CellOrder {
	case ColMajor:
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return check(order)
	default: // RowMajor and Hilbert fall back to row-major contiguity.
		order := make([]int, n)
		for i := range order {
			order[i] = n - 1 - i
		}
		return check(order)
	}
}

// ExpandToTileDomain snaps a range outward to tile boundaries. For
// irregular tiling (no tile extents) the range is returned unchanged.
func (s *Schema) ExpandToTileDomain(r Range) Range {
	if !s.Dense {
		return r
	}
	out := make(Range, len(r))
	for i, d := range s.Dimensions {
		loOff := (r[i].Lo - d.Lo) % d.Extent
		out[i].Lo = r[i].Lo - loOff
		hiOff := d.Extent - 1 - ((r[i].Hi-d.Lo)%d.Extent)
		out[i].Hi = r[i].Hi + hiOff
		if out[i].Hi > d.Hi {
			out[i].Hi = d.Hi
		}
	}
	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
