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

package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// window is the cached run of adjacent parsed tiles a fillWindow* call last
// read for one attribute: lower and upper are tile-position indices
// (inclusive), and tiles is parallel to [lower, upper].
type window struct {
	lower, upper int
	tiles        []*tile.Tile
}

func (w *window) contains(pos int) bool {
	return w != nil && w.tiles != nil && pos >= w.lower && pos <= w.upper
}

// attrReader is the per-attribute open state a ReadHandle keeps: either a
// file handle read with os.ReadAt (NoCompression - the literal spec wire
// format stays demand-driven), or a fully materialized logical buffer
// (compressed attributes - decompressed once at open time; see ReadHandle
// doc).
type attrReader struct {
	compressor schema.Compressor
	file       *os.File // NoCompression only
	logical    []byte   // compressed attributes only: full decompressed attribute stream
	win        *window
}

// ReadHandle is an open fragment in read mode.
//
// For a NoCompression attribute (the default, and the only mode stored as a
// flat offset-addressable file), tile payloads are read on demand with
// os.ReadAt against offsets recorded in offsets.bkp. A compressed
// attribute's physical file is instead a sequence of
// [u32 len][bytes] envelope blocks with no stable byte offsets once
// decompressed; rather than re-deriving block boundaries on every seek, this
// reader decompresses the whole attribute once at open time into an
// in-memory buffer and then slices that buffer by the same logical offsets
// recorded in offsets.bkp. This trades memory (one attribute's full
// uncompressed size, whatever segment size it was written with) for
// simplicity.
type ReadHandle struct {
	mgr    *Manager
	schema *schema.Schema
	dir    string
	closed bool

	bk      bookKeeping
	readers []*attrReader // len == AttrNum()+1, coordinates last
}

// OpenFragmentRead opens dir (which must contain a committed fragment of s)
// for reading.
func OpenFragmentRead(m *Manager, s *schema.Schema, dir string) (*ReadHandle, error) {
	if _, err := os.Stat(filepath.Join(dir, fragmentMarker)); err != nil {
		return nil, &errs.FormatError{Op: "OpenFragmentRead", Err: fmt.Errorf("%s: missing fragment marker, not a committed fragment: %w", dir, err)}
	}
	tileIDs, err := readTileIDs(dir)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(tileIDs); i++ {
		if tileIDs[i] <= tileIDs[i-1] {
			return nil, &errs.FormatError{Op: "OpenFragmentRead", Err: fmt.Errorf("tile id sequence not strictly increasing at position %d (%d <= %d)", i, tileIDs[i], tileIDs[i-1])}
		}
	}
	n := s.AttrNum() + 1
	offsets, err := readOffsets(dir, n, len(tileIDs))
	if err != nil {
		return nil, err
	}
	mbrs, err := readMBRs(dir, s, len(tileIDs))
	if err != nil {
		return nil, err
	}
	bounds, err := readBounds(dir, s, len(tileIDs))
	if err != nil {
		return nil, err
	}

	h := &ReadHandle{
		mgr: m, schema: s, dir: dir,
		bk:      bookKeeping{TileIDs: tileIDs, Offsets: offsets, MBRs: mbrs, Bounds: bounds},
		readers: make([]*attrReader, n),
	}
	for a := 0; a < n; a++ {
		compressor, _ := compressorFor(s, a)
		path := filepath.Join(dir, attrFileName(s, a))
		if compressor == schema.NoCompression {
			f, err := os.Open(path)
			if err != nil {
				h.closeReaders()
				return nil, &errs.IoError{Op: "OpenFragmentRead", Fragment: dir, Attr: path, Err: err}
			}
			h.readers[a] = &attrReader{compressor: compressor, file: f}
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			h.closeReaders()
			return nil, &errs.IoError{Op: "OpenFragmentRead", Fragment: dir, Attr: path, Err: err}
		}
		logical, err := decompressEnvelopes(compressor, raw)
		if err != nil {
			h.closeReaders()
			return nil, &errs.FormatError{Op: "OpenFragmentRead", Err: fmt.Errorf("%s: %w", path, err)}
		}
		h.readers[a] = &attrReader{compressor: compressor, logical: logical}
	}
	return h, nil
}

// decompressEnvelopes decodes a physical file that is a back-to-back
// sequence of [u32 compressedLen][bytes] blocks into one logical buffer.
func decompressEnvelopes(c schema.Compressor, raw []byte) ([]byte, error) {
	out := make([]byte, 0, len(raw))
	for off := 0; off < len(raw); {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("truncated envelope header at offset %d", off)
		}
		blen := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		off += 4
		if off+blen > len(raw) {
			return nil, fmt.Errorf("truncated envelope block at offset %d (want %d bytes)", off, blen)
		}
		chunk, err := decompressSegment(c, raw[off:off+blen])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		off += blen
	}
	return out, nil
}

func (h *ReadHandle) closeReaders() {
	for _, r := range h.readers {
		if r != nil && r.file != nil {
			_ = r.file.Close()
		}
	}
}

// Close releases the fragment's open file handles.
func (h *ReadHandle) Close() error {
	if h.closed {
		return &errs.StateError{Op: "Close", Err: fmt.Errorf("fragment %s already closed", h.dir)}
	}
	h.closeReaders()
	h.closed = true
	return nil
}

// TileCount returns the number of tiles in the fragment.
func (h *ReadHandle) TileCount() int { return len(h.bk.TileIDs) }

// tileByteRange returns [start, end) of tile position pos within attrIdx's
// logical (uncompressed) byte stream.
func (h *ReadHandle) tileByteRange(attrIdx, pos int) (int64, int64) {
	start := int64(h.bk.Offsets[attrIdx][pos])
	var end int64
	if pos+1 < len(h.bk.Offsets[attrIdx]) {
		end = int64(h.bk.Offsets[attrIdx][pos+1])
	} else {
		end = h.logicalLen(attrIdx)
	}
	return start, end
}

func (h *ReadHandle) logicalLen(attrIdx int) int64 {
	r := h.readers[attrIdx]
	if r.file != nil {
		fi, err := r.file.Stat()
		if err != nil {
			return 0
		}
		return fi.Size()
	}
	return int64(len(r.logical))
}

func (h *ReadHandle) readLogical(attrIdx int, start, end int64) ([]byte, error) {
	r := h.readers[attrIdx]
	if r.file != nil {
		buf := make([]byte, end-start)
		if _, err := r.file.ReadAt(buf, start); err != nil {
			return nil, &errs.IoError{Op: "readLogical", Fragment: h.dir, Err: err}
		}
		return buf, nil
	}
	if end > int64(len(r.logical)) {
		return nil, &errs.FormatError{Op: "readLogical", Err: fmt.Errorf("range [%d,%d) exceeds logical buffer length %d", start, end, len(r.logical))}
	}
	return r.logical[start:end], nil
}

func (h *ReadHandle) parseTile(attrIdx, pos int) (*tile.Tile, error) {
	start, end := h.tileByteRange(attrIdx, pos)
	raw, err := h.readLogical(attrIdx, start, end)
	if err != nil {
		return nil, err
	}
	id := h.bk.TileIDs[pos]
	cellCount := h.coordCellCount(pos)
	if attrIdx == h.schema.CoordsAttrIndex() {
		return tile.UnmarshalCoordTile(id, raw, h.schema.DimNum(), h.schema.CoordType(), cellCount)
	}
	a := h.schema.Attributes[attrIdx]
	return tile.UnmarshalAttrTile(id, raw, a.Type, a.CellValNum, cellCount)
}

// coordCellCount derives tile pos's cell count from the coordinates
// attribute's fixed-size record layout: no attribute's tile carries its own
// cell count on disk, so every attribute at this position uses the same
// count computed here.
func (h *ReadHandle) coordCellCount(pos int) int {
	coordsIdx := h.schema.CoordsAttrIndex()
	start, end := h.tileByteRange(coordsIdx, pos)
	recSize := int64(h.schema.DimNum()) * int64(h.schema.CoordType().Size())
	if recSize == 0 {
		return 0
	}
	return int(end-start) / int(recSize)
}

// fillWindowForward fills the cached window for a forward scan: starting
// at tile position pos, it reads a contiguous run of tiles whose summed
// logical size just reaches segmentSize (at least one tile, even if it
// alone exceeds the budget).
func (h *ReadHandle) fillWindowForward(attrIdx, pos int) error {
	tileNum := len(h.bk.TileIDs)
	if pos < 0 || pos >= tileNum {
		return &errs.StateError{Op: "fillWindowForward", Err: fmt.Errorf("tile position %d out of range [0,%d)", pos, tileNum)}
	}
	upper := pos
	size := h.tileLen(attrIdx, pos)
	for upper+1 < tileNum && size+h.tileLen(attrIdx, upper+1) <= int64(h.mgr.segmentSize) {
		upper++
		size += h.tileLen(attrIdx, upper)
	}
	return h.loadWindow(attrIdx, pos, upper)
}

// fillWindowReverse fills the cached window for a reverse scan: it walks
// the window's lower bound down from t while the summed size stays within
// budget, so that t ends up as the window's last element once read.
func (h *ReadHandle) fillWindowReverse(attrIdx, t int) error {
	tileNum := len(h.bk.TileIDs)
	if t < 0 || t >= tileNum {
		return &errs.StateError{Op: "fillWindowReverse", Err: fmt.Errorf("tile position %d out of range [0,%d)", t, tileNum)}
	}
	lower := t
	size := h.tileLen(attrIdx, t)
	for lower > 0 && size+h.tileLen(attrIdx, lower-1) <= int64(h.mgr.segmentSize) {
		lower--
		size += h.tileLen(attrIdx, lower)
	}
	return h.loadWindow(attrIdx, lower, t)
}

func (h *ReadHandle) tileLen(attrIdx, pos int) int64 {
	start, end := h.tileByteRange(attrIdx, pos)
	return end - start
}

func (h *ReadHandle) loadWindow(attrIdx, lower, upper int) error {
	tiles := make([]*tile.Tile, upper-lower+1)
	for i := lower; i <= upper; i++ {
		key := cacheKey{dir: h.dir, attrIdx: attrIdx, tileID: h.bk.TileIDs[i]}
		h.mgr.cacheMu.Lock()
		cached, ok := h.mgr.cache.Get(key)
		h.mgr.cacheMu.Unlock()
		if ok {
			tiles[i-lower] = cached
			continue
		}
		t, err := h.parseTile(attrIdx, i)
		if err != nil {
			return err
		}
		h.mgr.cacheMu.Lock()
		h.mgr.cache.Add(key, t)
		h.mgr.cacheMu.Unlock()
		tiles[i-lower] = t
	}
	h.readers[attrIdx].win = &window{lower: lower, upper: upper, tiles: tiles}
	return nil
}

// Tile returns the tile at position pos for attrIdx, refilling the cached
// window (forward sense) if pos isn't already covered by it.
func (h *ReadHandle) Tile(attrIdx, pos int) (*tile.Tile, error) {
	w := h.readers[attrIdx].win
	if !w.contains(pos) {
		if err := h.fillWindowForward(attrIdx, pos); err != nil {
			return nil, err
		}
		w = h.readers[attrIdx].win
	}
	return w.tiles[pos-w.lower], nil
}

// TileIterator walks a fragment's tiles for one attribute in tile-id order
// (forward or reverse), refilling its window on demand.
type TileIterator struct {
	h       *ReadHandle
	attrIdx int
	reverse bool
	pos     int
	started bool
	cur     *tile.Tile
	err     error
}

// NewForwardIterator returns a TileIterator starting at tile position 0.
func NewForwardIterator(h *ReadHandle, attrIdx int) *TileIterator {
	return &TileIterator{h: h, attrIdx: attrIdx, pos: -1}
}

// NewReverseIterator returns a TileIterator starting at the fragment's last
// tile position and walking backward.
func NewReverseIterator(h *ReadHandle, attrIdx int) *TileIterator {
	return &TileIterator{h: h, attrIdx: attrIdx, reverse: true, pos: h.TileCount()}
}

// Next advances the iterator; false once positions are exhausted or an
// error occurred (check Err).
func (it *TileIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.reverse {
		it.pos--
	} else {
		it.pos++
	}
	if it.pos < 0 || it.pos >= it.h.TileCount() {
		return false
	}
	w := it.h.readers[it.attrIdx].win
	if !w.contains(it.pos) {
		var err error
		if it.reverse {
			err = it.h.fillWindowReverse(it.attrIdx, it.pos)
		} else {
			err = it.h.fillWindowForward(it.attrIdx, it.pos)
		}
		if err != nil {
			it.err = err
			return false
		}
		w = it.h.readers[it.attrIdx].win
	}
	it.cur = w.tiles[it.pos-w.lower]
	return true
}

// Tile returns the tile at the iterator's current position.
func (it *TileIterator) Tile() *tile.Tile { return it.cur }

// Err returns the first error encountered by Next, if any.
func (it *TileIterator) Err() error { return it.err }

// TileOverlap is one result of OverlappingTileIDs: a tile whose MBR
// intersects the query range, and whether that tile is fully inside it.
type TileOverlap struct {
	TileID         uint64
	Position       int
	FullyContained bool
}

// OverlappingTileIDs finds every tile of a sparse fragment whose MBR
// intersects r, via a linear scan of its MBR book-keeping, classifying each
// tile's relationship to r. Dense fragments carry no MBRs and must instead
// be addressed directly via ExpandToTileDomain + TileID.
func (h *ReadHandle) OverlappingTileIDs(r schema.Range) ([]TileOverlap, error) {
	if h.schema.Dense {
		return nil, &errs.StateError{Op: "OverlappingTileIDs", Err: fmt.Errorf("fragment %s is dense: no per-tile MBRs", h.dir)}
	}
	var out []TileOverlap
	for i, mbr := range h.bk.MBRs {
		ov := h.schema.SubarrayOverlap(r, mbr)
		if ov == schema.OverlapNone {
			continue
		}
		out = append(out, TileOverlap{
			TileID:         h.bk.TileIDs[i],
			Position:       i,
			FullyContained: ov == schema.OverlapFull,
		})
	}
	return out, nil
}
