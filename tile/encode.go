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

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
)

// EncodeScalar encodes one numeric attribute value of type t into its raw
// little-endian on-disk form. Unlike schema.EncodeOrdinal, this is a plain
// numeric encoding: attribute values carry no ordering semantics, so there
// is no sign-flip mapping to undo.
func EncodeScalar(t schema.Type, v float64) []byte {
	b := make([]byte, t.Size())
	switch t {
	case schema.Int8:
		b[0] = byte(int8(v))
	case schema.Uint8:
		b[0] = byte(uint8(v))
	case schema.Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case schema.Uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case schema.Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case schema.Uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case schema.Int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case schema.Uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case schema.Float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case schema.Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("EncodeScalar: unsupported type %v", t))
	}
	return b
}

// DecodeScalar is the inverse of EncodeScalar.
func DecodeScalar(t schema.Type, b []byte) float64 {
	switch t {
	case schema.Int8:
		return float64(int8(b[0]))
	case schema.Uint8:
		return float64(b[0])
	case schema.Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case schema.Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case schema.Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case schema.Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case schema.Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case schema.Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case schema.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case schema.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	default:
		panic(fmt.Sprintf("DecodeScalar: unsupported type %v", t))
	}
}
