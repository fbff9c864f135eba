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

// Package csvio is the external collaborator contract for loading and
// exporting array cells as CSV: one cell per line, the dimensions'
// coordinates first, then one field (or count-prefixed run, for a
// variable-length attribute) per attribute in schema order. No third-party
// CSV library shows up anywhere in the example corpus for this kind of
// plain tabular ingest, and stdlib encoding/csv already handles quoting and
// variable field counts correctly, so this package is grounded directly on
// it rather than on any example repo's own code.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// NullToken is the literal CSV field marking a deleted attribute's value.
// It occupies exactly one field, regardless of the attribute's CellValNum
// or variable-length count — a NULL attribute never carries a count.
const NullToken = "*"

// Reader decodes CSV lines into cells, in the schema's declared dimension
// and attribute order.
type Reader struct {
	s  *schema.Schema
	cr *csv.Reader
}

// NewReader wraps r as a cell source for s.
func NewReader(s *schema.Schema, r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // variable-length attributes make record width cell-dependent.
	cr.TrimLeadingSpace = true
	return &Reader{s: s, cr: cr}
}

// Read parses the next line into a Cell. It returns io.EOF, unwrapped,
// once the input is exhausted, so callers can loop with errors.Is(err,
// io.EOF).
func (rd *Reader) Read() (tile.Cell, error) {
	rec, err := rd.cr.Read()
	if err != nil {
		return tile.Cell{}, err
	}
	return rd.parseRecord(rec)
}

func (rd *Reader) parseRecord(rec []string) (tile.Cell, error) {
	dimNum := rd.s.DimNum()
	if len(rec) < dimNum {
		return tile.Cell{}, &errs.FormatError{Op: "csvio.Read", Err: fmt.Errorf("record has %d fields, fewer than %d coordinates", len(rec), dimNum)}
	}
	coordType := rd.s.CoordType()
	coords := make(schema.Coord, dimNum)
	for i := 0; i < dimNum; i++ {
		v, err := parseOrdinal(coordType, rec[i])
		if err != nil {
			return tile.Cell{}, &errs.FormatError{Op: "csvio.Read", Err: fmt.Errorf("coordinate %d: %w", i, err)}
		}
		coords[i] = v
	}

	pos := dimNum
	attrs := rd.s.Attributes
	values := make([][]byte, len(attrs))
	allNull := len(attrs) > 0
	for a, attr := range attrs {
		v, consumed, isNull, err := parseAttrField(attr, rec, pos)
		if err != nil {
			return tile.Cell{}, &errs.FormatError{Op: "csvio.Read", Err: fmt.Errorf("attribute %q: %w", attr.Name, err)}
		}
		values[a] = v
		allNull = allNull && isNull
		pos += consumed
	}
	if allNull {
		return tile.Cell{Coords: coords, Tombstone: true}, nil
	}
	return tile.Cell{Coords: coords, Values: values}, nil
}

// parseAttrField consumes attr's field(s) starting at rec[pos] and returns
// its packed raw value (nil if NULL), the number of CSV fields consumed,
// and whether it was the NULL token.
func parseAttrField(attr schema.Attribute, rec []string, pos int) (v []byte, consumed int, isNull bool, err error) {
	if pos >= len(rec) {
		return nil, 0, false, fmt.Errorf("record ends before this attribute's field")
	}
	if rec[pos] == NullToken {
		return nil, 1, true, nil
	}
	if attr.IsVar() {
		n, err := strconv.Atoi(rec[pos])
		if err != nil {
			return nil, 0, false, fmt.Errorf("variable-length count %q: %w", rec[pos], err)
		}
		if pos+1+n > len(rec) {
			return nil, 0, false, fmt.Errorf("declared %d values but record only has %d fields left", n, len(rec)-pos-1)
		}
		buf := make([]byte, 0, n*attr.Type.Size())
		for i := 0; i < n; i++ {
			f, err := strconv.ParseFloat(rec[pos+1+i], 64)
			if err != nil {
				return nil, 0, false, fmt.Errorf("value %d: %w", i, err)
			}
			buf = append(buf, tile.EncodeScalar(attr.Type, f)...)
		}
		return buf, 1 + n, false, nil
	}
	k := int(attr.CellValNum)
	if pos+k > len(rec) {
		return nil, 0, false, fmt.Errorf("attribute needs %d fields, record only has %d left", k, len(rec)-pos)
	}
	buf := make([]byte, 0, k*attr.Type.Size())
	for i := 0; i < k; i++ {
		f, err := strconv.ParseFloat(rec[pos+i], 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("value %d: %w", i, err)
		}
		buf = append(buf, tile.EncodeScalar(attr.Type, f)...)
	}
	return buf, k, false, nil
}

// parseOrdinal parses field as a coordinate of dimension type t: an
// integral literal for integer types, or a float literal mapped through
// schema.FloatToOrdinal for floating point types.
func parseOrdinal(t schema.Type, field string) (int64, error) {
	if t.IsFloat() {
		f, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, err
		}
		return schema.FloatToOrdinal(f), nil
	}
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Writer encodes cells as CSV lines, in the schema's declared dimension and
// attribute order.
type Writer struct {
	s  *schema.Schema
	cw *csv.Writer
}

// NewWriter wraps w as a cell sink for s.
func NewWriter(s *schema.Schema, w io.Writer) *Writer {
	return &Writer{s: s, cw: csv.NewWriter(w)}
}

// Write encodes one cell as a CSV record. Tombstones are written with the
// NULL token in every attribute field.
func (wr *Writer) Write(c tile.Cell) error {
	dimNum := wr.s.DimNum()
	coordType := wr.s.CoordType()
	rec := make([]string, 0, dimNum+len(wr.s.Attributes))
	for i := 0; i < dimNum; i++ {
		rec = append(rec, formatOrdinal(coordType, c.Coords[i]))
	}
	if c.Tombstone {
		for range wr.s.Attributes {
			rec = append(rec, NullToken)
		}
		return wr.cw.Write(rec)
	}
	for a, attr := range wr.s.Attributes {
		fields, err := formatAttrField(attr, c.Values[a])
		if err != nil {
			return err
		}
		rec = append(rec, fields...)
	}
	return wr.cw.Write(rec)
}

// Flush flushes any buffered records and reports the first write error, if
// any — the same pattern as encoding/csv.Writer itself.
func (wr *Writer) Flush() error {
	wr.cw.Flush()
	return wr.cw.Error()
}

func formatAttrField(attr schema.Attribute, v []byte) ([]string, error) {
	elemSize := attr.Type.Size()
	if attr.IsVar() {
		if len(v)%elemSize != 0 {
			return nil, &errs.FormatError{Op: "csvio.Write", Err: fmt.Errorf("attribute %q: value length %d not a multiple of element size %d", attr.Name, len(v), elemSize)}
		}
		n := len(v) / elemSize
		fields := make([]string, 0, n+1)
		fields = append(fields, strconv.Itoa(n))
		for i := 0; i < n; i++ {
			fields = append(fields, formatScalar(attr.Type, tile.DecodeScalar(attr.Type, v[i*elemSize:(i+1)*elemSize])))
		}
		return fields, nil
	}
	k := int(attr.CellValNum)
	if len(v) != k*elemSize {
		return nil, &errs.FormatError{Op: "csvio.Write", Err: fmt.Errorf("attribute %q: value length %d, want %d", attr.Name, len(v), k*elemSize)}
	}
	fields := make([]string, k)
	for i := 0; i < k; i++ {
		fields[i] = formatScalar(attr.Type, tile.DecodeScalar(attr.Type, v[i*elemSize:(i+1)*elemSize]))
	}
	return fields, nil
}

// formatOrdinal is the inverse of parseOrdinal.
func formatOrdinal(t schema.Type, v int64) string {
	if t.IsFloat() {
		return strconv.FormatFloat(schema.OrdinalToFloat(v), 'g', -1, 64)
	}
	return strconv.FormatInt(v, 10)
}

// formatScalar renders an attribute value decoded by tile.DecodeScalar as
// CSV text: plain integer literals for integer types, shortest round-trip
// form for floats.
func formatScalar(t schema.Type, f float64) string {
	if t.IsFloat() {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(f), 10)
}
