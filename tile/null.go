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

package tile

import "github.com/TileDB-Inc/TileDB-sub035/schema"

// NullValue returns the canonical per-type NULL sentinel: the all-ones bit
// pattern, which reads back as -1 for signed integers, the maximum value
// for unsigned integers, and a NaN for floating point types.
func NullValue(t schema.Type) []byte {
	b := make([]byte, t.Size())
	for i := range b {
		b[i] = 0xff
	}
	return b
}

// IsNullValue reports whether v is t's NULL sentinel, repeated across every
// t.Size()-wide chunk of v. This covers both a single scalar (len(v) ==
// t.Size()) and a fixed attribute with CellValNum > 1 (len(v) ==
// t.Size()*CellValNum), since Tile.Marshal writes CellValNum copies of the
// sentinel for a tombstoned cell.
func IsNullValue(t schema.Type, v []byte) bool {
	sz := t.Size()
	if len(v) == 0 || len(v)%sz != 0 {
		return false
	}
	for _, b := range v {
		if b != 0xff {
			return false
		}
	}
	return true
}

// varNullLen is the length-prefix value marking a NULL variable-length
// attribute value. Ordinary lengths never reach this, so the prefix itself
// doubles as the tombstone marker without needing a separate null bitmap.
const varNullLen uint32 = 0xffffffff
