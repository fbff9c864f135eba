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

// Package consolidator implements the fragment tree: the Consolidator's
// compact record of which conceptual c-ary merge-tree nodes are currently
// live, the k-way merge that fires when a level fills, and the array
// lifecycle operations (open/close/delete) built on top of it.
package consolidator

import (
	"encoding/binary"
	"fmt"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
)

// entry is one grey node of the fragment tree: count fragments, each
// representing c^level base fragments, are live at this level.
type entry struct {
	Level uint32
	Count uint32
}

// FragmentTree is the Consolidator's core data structure: an ordered list
// of (level, count) entries, oldest first, plus the next sequence number to
// assign. It names no fragments directly; Consolidator derives lo/hi
// sequence ranges from it.
//
// Invariants (checked by validate): levels strictly decreasing; each count
// in [1, c-1]; the entries' represented fragment counts sum to NextSeq.
type FragmentTree struct {
	Entries []entry
	NextSeq uint64
}

// power returns c^level as a uint64. The fragment tree never reaches a
// level where this could overflow in practice (it would require c^level
// fragment additions), so no overflow check is performed here.
func power(c uint64, level uint32) uint64 {
	p := uint64(1)
	for i := uint32(0); i < level; i++ {
		p *= c
	}
	return p
}

// represented returns the number of base (level-0) fragments the tree's
// entries account for.
func (t *FragmentTree) represented(c uint64) uint64 {
	var total uint64
	for _, e := range t.Entries {
		total += uint64(e.Count) * power(c, e.Level)
	}
	return total
}

// validate enforces the fragment-tree invariants from the on-disk format,
// returning a *errs.StateError describing the first violation. OpenArray
// refuses to open an array whose tree fails validation; there is no
// read-only mode for such an array.
func (t *FragmentTree) validate(c uint64) error {
	prevLevel := int64(-1)
	first := true
	for _, e := range t.Entries {
		if !first && int64(e.Level) >= prevLevel {
			return &errs.StateError{Op: "validate", Err: fmt.Errorf("fragment tree levels not strictly decreasing: %d after %d", e.Level, prevLevel)}
		}
		first = false
		prevLevel = int64(e.Level)
		if e.Count < 1 || uint64(e.Count) > c-1 {
			return &errs.StateError{Op: "validate", Err: fmt.Errorf("fragment tree entry at level %d has count %d, want [1,%d]", e.Level, e.Count, c-1)}
		}
	}
	if r := t.represented(c); r != t.NextSeq {
		return &errs.StateError{Op: "validate", Err: fmt.Errorf("fragment tree represents %d fragments, want next_seq %d", r, t.NextSeq)}
	}
	return nil
}

// marshalTree encodes t per the fragment-tree file format: u32 entry_num,
// then per entry u32 level + u32 count, then u64 next_seq.
func marshalTree(t *FragmentTree) []byte {
	buf := make([]byte, 4+8*len(t.Entries)+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(t.Entries)))
	off := 4
	for _, e := range t.Entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.Level)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.Count)
		off += 8
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], t.NextSeq)
	return buf
}

// unmarshalTree decodes a fragment-tree file. A length that doesn't line up
// with entry_num is a *errs.FormatError; invariant violations are reported
// separately by validate.
func unmarshalTree(d []byte) (*FragmentTree, error) {
	if len(d) < 4 {
		return nil, &errs.FormatError{Op: "unmarshalTree", Err: fmt.Errorf("fragment tree file too short (%d bytes)", len(d))}
	}
	n := binary.LittleEndian.Uint32(d[0:4])
	want := 4 + 8*int(n) + 8
	if len(d) != want {
		return nil, &errs.FormatError{Op: "unmarshalTree", Err: fmt.Errorf("fragment tree file has %d bytes, want %d for %d entries", len(d), want, n)}
	}
	t := &FragmentTree{Entries: make([]entry, n)}
	off := 4
	for i := uint32(0); i < n; i++ {
		t.Entries[i] = entry{
			Level: binary.LittleEndian.Uint32(d[off : off+4]),
			Count: binary.LittleEndian.Uint32(d[off+4 : off+8]),
		}
		off += 8
	}
	t.NextSeq = binary.LittleEndian.Uint64(d[off : off+8])
	return t, nil
}

// fuseBase merges a new (level=0, count=1) entry onto the tail of the tree (or
// increments the tail's count if it is already at level 0), without
// enforcing the count < c invariant: the caller's loop handles overflow.
func (t *FragmentTree) fuseBase() {
	t.fuse(entry{Level: 0, Count: 1})
}

// fuse merges e into the tree's tail: if the tail is already at e.Level,
// its count is incremented by e.Count; otherwise e is appended as a new
// tail entry (callers only ever fuse a level that is <= every existing
// entry's level, preserving strict level ordering).
func (t *FragmentTree) fuse(e entry) {
	if n := len(t.Entries); n > 0 && t.Entries[n-1].Level == e.Level {
		t.Entries[n-1].Count += e.Count
		return
	}
	t.Entries = append(t.Entries, e)
}

// popTail removes and returns the tree's tail entry.
func (t *FragmentTree) popTail() entry {
	n := len(t.Entries)
	e := t.Entries[n-1]
	t.Entries = t.Entries[:n-1]
	return e
}

// tailRange returns the inclusive [lo, hi] sequence-number range covered by
// a full tail entry (e.Count == c, checked by the caller): its c sub-
// fragments, each spanning c^level sequence numbers, together cover the
// most recent c^(level+1) of them, ending at nextSeq-1.
func tailRange(c uint64, e entry, nextSeq uint64) (lo, hi uint64) {
	span := power(c, e.Level+1)
	hi = nextSeq - 1
	lo = nextSeq - span
	return lo, hi
}
