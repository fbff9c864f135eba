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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Marshal serializes s to its compact little-endian array-schema on-disk
// layout.
func (s *Schema) Marshal() ([]byte, error) {
	buf := &bytes.Buffer{}
	writeString(buf, s.Name)

	var dense uint8
	if s.Dense {
		dense = 1
	}
	_ = binary.Write(buf, binary.LittleEndian, dense)
	_ = binary.Write(buf, binary.LittleEndian, uint8(s.TileOrder))
	_ = binary.Write(buf, binary.LittleEndian, uint8(s.CellOrder))
	_ = binary.Write(buf, binary.LittleEndian, int64(s.Capacity))

	_ = binary.Write(buf, binary.LittleEndian, int32(len(s.Attributes)))
	for _, a := range s.Attributes {
		writeString(buf, a.Name)
	}
	_ = binary.Write(buf, binary.LittleEndian, int32(len(s.Dimensions)))
	for _, d := range s.Dimensions {
		writeString(buf, d.Name)
	}

	domain := &bytes.Buffer{}
	for _, d := range s.Dimensions {
		writeOrdinal(domain, d.Type, d.Lo)
		writeOrdinal(domain, d.Type, d.Hi)
	}
	_ = binary.Write(buf, binary.LittleEndian, int32(domain.Len()))
	buf.Write(domain.Bytes())

	extents := &bytes.Buffer{}
	if s.Dense {
		for _, d := range s.Dimensions {
			writeOrdinal(extents, d.Type, d.Extent)
		}
	}
	_ = binary.Write(buf, binary.LittleEndian, int32(extents.Len()))
	buf.Write(extents.Bytes())

	for _, a := range s.Attributes {
		_ = binary.Write(buf, binary.LittleEndian, uint8(a.Type))
	}
	_ = binary.Write(buf, binary.LittleEndian, uint8(s.CoordType()))

	for _, a := range s.Attributes {
		_ = binary.Write(buf, binary.LittleEndian, a.CellValNum)
	}

	for _, a := range s.Attributes {
		_ = binary.Write(buf, binary.LittleEndian, uint8(a.Compressor))
	}
	_ = binary.Write(buf, binary.LittleEndian, uint8(NoCompression)) // coordinates attribute: never compressed independently.

	for _, a := range s.Attributes {
		_ = binary.Write(buf, binary.LittleEndian, int32(a.Level))
	}
	_ = binary.Write(buf, binary.LittleEndian, int32(0)) // coordinates attribute level.

	return buf.Bytes(), nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(raw []byte) (*Schema, error) {
	r := bytes.NewReader(raw)
	name, err := readString(r)
	if err != nil {
		return nil, &SchemaError{Msg: "reading name", Err: err}
	}
	var dense, tileOrder, cellOrder uint8
	var capacity int64
	for _, v := range []any{&dense, &tileOrder, &cellOrder, &capacity} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, &SchemaError{Msg: "reading header", Err: err}
		}
	}

	var attrNum int32
	if err := binary.Read(r, binary.LittleEndian, &attrNum); err != nil {
		return nil, &SchemaError{Msg: "reading attr_num", Err: err}
	}
	attrNames := make([]string, attrNum)
	for i := range attrNames {
		if attrNames[i], err = readString(r); err != nil {
			return nil, &SchemaError{Msg: "reading attribute name", Err: err}
		}
	}

	var dimNum int32
	if err := binary.Read(r, binary.LittleEndian, &dimNum); err != nil {
		return nil, &SchemaError{Msg: "reading dim_num", Err: err}
	}
	dimNames := make([]string, dimNum)
	for i := range dimNames {
		if dimNames[i], err = readString(r); err != nil {
			return nil, &SchemaError{Msg: "reading dimension name", Err: err}
		}
	}

	var domainBytes int32
	if err := binary.Read(r, binary.LittleEndian, &domainBytes); err != nil {
		return nil, &SchemaError{Msg: "reading domain_bytes", Err: err}
	}
	domain := make([]byte, domainBytes)
	if _, err := io.ReadFull(r, domain); err != nil {
		return nil, &SchemaError{Msg: "reading domain", Err: err}
	}

	var extentBytes int32
	if err := binary.Read(r, binary.LittleEndian, &extentBytes); err != nil {
		return nil, &SchemaError{Msg: "reading tile_extent_bytes", Err: err}
	}
	extents := make([]byte, extentBytes)
	if _, err := io.ReadFull(r, extents); err != nil {
		return nil, &SchemaError{Msg: "reading tile_extents", Err: err}
	}

	types := make([]Type, attrNum+1)
	for i := range types {
		var t uint8
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return nil, &SchemaError{Msg: "reading type", Err: err}
		}
		types[i] = Type(t)
	}
	coordType := types[attrNum]

	cellValNum := make([]uint32, attrNum)
	for i := range cellValNum {
		if err := binary.Read(r, binary.LittleEndian, &cellValNum[i]); err != nil {
			return nil, &SchemaError{Msg: "reading cell_val_num", Err: err}
		}
	}

	compressors := make([]Compressor, attrNum+1)
	for i := range compressors {
		var c uint8
		if err := binary.Read(r, binary.LittleEndian, &c); err != nil {
			return nil, &SchemaError{Msg: "reading compressor", Err: err}
		}
		compressors[i] = Compressor(c)
	}

	levels := make([]int32, attrNum+1)
	for i := range levels {
		if err := binary.Read(r, binary.LittleEndian, &levels[i]); err != nil {
			return nil, &SchemaError{Msg: "reading compression_level", Err: err}
		}
	}

	domainR := bytes.NewReader(domain)
	extentR := bytes.NewReader(extents)
	dims := make([]Dimension, dimNum)
	for i := range dims {
		lo, err := readOrdinal(domainR, coordType)
		if err != nil {
			return nil, &SchemaError{Msg: "reading dimension lo", Err: err}
		}
		hi, err := readOrdinal(domainR, coordType)
		if err != nil {
			return nil, &SchemaError{Msg: "reading dimension hi", Err: err}
		}
		var extent int64
		if dense != 0 {
			extent, err = readOrdinal(extentR, coordType)
			if err != nil {
				return nil, &SchemaError{Msg: "reading dimension extent", Err: err}
			}
		}
		dims[i] = Dimension{Name: dimNames[i], Type: coordType, Lo: lo, Hi: hi, Extent: extent}
	}

	attrs := make([]Attribute, attrNum)
	for i := range attrs {
		attrs[i] = Attribute{
			Name:       attrNames[i],
			Type:       types[i],
			CellValNum: cellValNum[i],
			Compressor: compressors[i],
			Level:      int(levels[i]),
		}
	}

	s := &Schema{
		Name:       name,
		Dimensions: dims,
		Attributes: attrs,
		CellOrder:  CellOrder(cellOrder),
		TileOrder:  TileOrder(tileOrder),
		Capacity:   uint64(capacity),
		Dense:      dense != 0,
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, int32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// writeOrdinal writes a Coord ordinal value in t's native on-disk width,
// converting back from the monotonic float ordinal (see FloatToOrdinal)
// for floating point types.
func writeOrdinal(buf *bytes.Buffer, t Type, v int64) {
	switch t {
	case Int8:
		_ = binary.Write(buf, binary.LittleEndian, int8(v))
	case Uint8:
		_ = binary.Write(buf, binary.LittleEndian, uint8(v))
	case Int16:
		_ = binary.Write(buf, binary.LittleEndian, int16(v))
	case Uint16:
		_ = binary.Write(buf, binary.LittleEndian, uint16(v))
	case Int32:
		_ = binary.Write(buf, binary.LittleEndian, int32(v))
	case Uint32:
		_ = binary.Write(buf, binary.LittleEndian, uint32(v))
	case Int64:
		_ = binary.Write(buf, binary.LittleEndian, int64(v))
	case Uint64:
		_ = binary.Write(buf, binary.LittleEndian, uint64(v))
	case Float32:
		_ = binary.Write(buf, binary.LittleEndian, float32(OrdinalToFloat(v)))
	case Float64:
		_ = binary.Write(buf, binary.LittleEndian, OrdinalToFloat(v))
	default:
		panic(fmt.Sprintf("unsupported dimension type %v", t))
	}
}

func readOrdinal(r *bytes.Reader, t Type) (int64, error) {
	switch t {
	case Int8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Uint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Int16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Uint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Int32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Uint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Int64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case Uint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case Float32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return FloatToOrdinal(float64(v)), err
	case Float64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return FloatToOrdinal(v), err
	default:
		return 0, fmt.Errorf("unsupported dimension type %v", t)
	}
}
