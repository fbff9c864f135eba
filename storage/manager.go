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
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// DefaultSegmentSize is used when a Manager is constructed with
// segmentSize <= 0.
const DefaultSegmentSize = 64 * 1024

// cacheKey identifies one parsed tile in the Manager's tile cache.
type cacheKey struct {
	dir     string
	attrIdx int
	tileID  uint64
}

// Manager is the only component that touches the filesystem. One Manager
// serves every fragment of every array opened through it; per-fragment
// state lives in the WriteHandle/ReadHandle it hands back.
type Manager struct {
	segmentSize int
	generation  atomic.Uint64

	cacheMu sync.Mutex
	cache   *lru.Cache[cacheKey, *tile.Tile]
}

// NewManager returns a Manager using segmentSize as its I/O quantum
// (DefaultSegmentSize if <= 0) and an LRU cache of cacheSize recently
// parsed tiles shared across read descriptors.
func NewManager(segmentSize, cacheSize int) (*Manager, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[cacheKey, *tile.Tile](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new tile cache: %w", err)
	}
	return &Manager{segmentSize: segmentSize, cache: c}, nil
}

func (m *Manager) nextGeneration() uint64 { return m.generation.Add(1) }

func attrFileName(s *schema.Schema, attrIdx int) string {
	if attrIdx == s.CoordsAttrIndex() {
		return "__coords.tile"
	}
	return s.Attributes[attrIdx].Name + ".tile"
}

func compressorFor(s *schema.Schema, attrIdx int) (schema.Compressor, int) {
	if attrIdx == s.CoordsAttrIndex() {
		return schema.NoCompression, 0 // coordinates attribute: never compressed independently.
	}
	a := s.Attributes[attrIdx]
	return a.Compressor, a.Level
}

// WriteHandle is an open fragment in write mode: the Fragment Writer's tile
// packer calls AppendTile once per sealed tile, per attribute, then Close.
type WriteHandle struct {
	mgr    *Manager
	schema *schema.Schema
	dir    string
	closed bool

	files   []*os.File
	segBuf  [][]byte
	logOff  []uint64
	offsets [][]uint64

	tileIDs []uint64
	mbrs    []schema.Range
	bounds  [][2]schema.Coord
}

// CreateFragment opens dir (which must not yet exist, or be empty) for
// writing a new fragment of s.
func (m *Manager) CreateFragment(s *schema.Schema, dir string) (*WriteHandle, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, &errs.IoError{Op: "CreateFragment", Fragment: dir, Err: err}
	}
	n := s.AttrNum() + 1
	h := &WriteHandle{
		mgr: m, schema: s, dir: dir,
		files: make([]*os.File, n), segBuf: make([][]byte, n),
		logOff: make([]uint64, n), offsets: make([][]uint64, n),
	}
	for a := 0; a < n; a++ {
		f, err := os.Create(filepath.Join(dir, attrFileName(s, a)))
		if err != nil {
			return nil, &errs.IoError{Op: "CreateFragment", Fragment: dir, Err: err}
		}
		h.files[a] = f
	}
	return h, nil
}

// AppendTile enforces strictly increasing tile ids and cross-attribute
// tile-id consistency, updates the in-memory indices, and flushes the
// segment buffer once it reaches the Manager's segment size.
func (h *WriteHandle) AppendTile(attrIdx int, t *tile.Tile) error {
	if h.closed {
		return &errs.StateError{Op: "AppendTile", Err: fmt.Errorf("fragment %s is closed", h.dir)}
	}
	pos := len(h.offsets[attrIdx])
	switch {
	case pos >= len(h.tileIDs):
		if pos > 0 && t.ID <= h.tileIDs[pos-1] {
			return &errs.FormatError{Op: "AppendTile", Err: fmt.Errorf("tile id %d does not strictly increase past %d", t.ID, h.tileIDs[pos-1])}
		}
		h.tileIDs = append(h.tileIDs, t.ID)
	case h.tileIDs[pos] != t.ID:
		return &errs.FormatError{Op: "AppendTile", Err: fmt.Errorf("attribute %d: tile id %d at position %d, want %d (cross-attribute mismatch)", attrIdx, t.ID, pos, h.tileIDs[pos])}
	}
	if attrIdx == h.schema.CoordsAttrIndex() {
		first, last := t.Bounds()
		h.bounds = append(h.bounds, [2]schema.Coord{first, last})
		if !h.schema.Dense {
			h.mbrs = append(h.mbrs, t.MBR())
		}
	}
	payload, err := t.Marshal()
	if err != nil {
		return err
	}
	h.offsets[attrIdx] = append(h.offsets[attrIdx], h.logOff[attrIdx])
	h.logOff[attrIdx] += uint64(len(payload))
	h.segBuf[attrIdx] = append(h.segBuf[attrIdx], payload...)
	if len(h.segBuf[attrIdx]) >= h.mgr.segmentSize {
		return h.flushSegment(attrIdx)
	}
	return nil
}

func (h *WriteHandle) flushSegment(attrIdx int) error {
	buf := h.segBuf[attrIdx]
	if len(buf) == 0 {
		return nil
	}
	compressor, level := compressorFor(h.schema, attrIdx)
	if compressor == schema.NoCompression {
		if _, err := h.files[attrIdx].Write(buf); err != nil {
			return &errs.IoError{Op: "flushSegment", Fragment: h.dir, Err: err}
		}
	} else {
		compressed, err := compressSegment(compressor, level, buf)
		if err != nil {
			return &errs.IoError{Op: "flushSegment", Fragment: h.dir, Err: err}
		}
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(hdr, uint32(len(compressed)))
		if _, err := h.files[attrIdx].Write(hdr); err != nil {
			return &errs.IoError{Op: "flushSegment", Fragment: h.dir, Err: err}
		}
		if _, err := h.files[attrIdx].Write(compressed); err != nil {
			return &errs.IoError{Op: "flushSegment", Fragment: h.dir, Err: err}
		}
	}
	h.segBuf[attrIdx] = nil
	return nil
}

// Close flushes remaining segment buffers (per attribute, concurrently),
// verifies cross-index consistency, writes the four book-keeping files, and
// finally creates the fragment marker — the commit point.
func (h *WriteHandle) Close() error {
	if h.closed {
		return &errs.StateError{Op: "Close", Err: fmt.Errorf("fragment %s already closed", h.dir)}
	}
	n := len(h.files)
	var g errgroup.Group
	for a := 0; a < n; a++ {
		a := a
		g.Go(func() error {
			if err := h.flushSegment(a); err != nil {
				return err
			}
			if err := h.files[a].Close(); err != nil {
				return &errs.IoError{Op: "Close", Fragment: h.dir, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tileNum := len(h.tileIDs)
	for a := 0; a < n; a++ {
		if len(h.offsets[a]) != tileNum {
			return &errs.FormatError{Op: "Close", Err: fmt.Errorf("attribute %d has %d tile offsets, fragment has %d tiles", a, len(h.offsets[a]), tileNum)}
		}
	}
	if !h.schema.Dense && len(h.mbrs) != tileNum {
		return &errs.FormatError{Op: "Close", Err: fmt.Errorf("%d MBRs recorded, want %d", len(h.mbrs), tileNum)}
	}
	if len(h.bounds) != tileNum {
		return &errs.FormatError{Op: "Close", Err: fmt.Errorf("%d bounding-coordinate pairs recorded, want %d", len(h.bounds), tileNum)}
	}

	if err := writeTileIDs(h.dir, h.tileIDs); err != nil {
		return err
	}
	if err := writeOffsets(h.dir, h.offsets); err != nil {
		return err
	}
	if err := writeMBRs(h.dir, h.schema, h.mbrs); err != nil {
		return err
	}
	if err := writeBounds(h.dir, h.schema, h.bounds); err != nil {
		return err
	}
	if err := createExclusive(filepath.Join(h.dir, fragmentMarker), nil); err != nil {
		return &errs.IoError{Op: "Close", Fragment: h.dir, Err: err}
	}
	h.closed = true
	klog.V(1).Infof("storage: committed fragment %s (%d tiles)", h.dir, tileNum)
	return nil
}

// Abandon discards a fragment that failed partway through writing: closes
// open files and removes the directory. No marker file was ever written, so
// readers never see a partial fragment; callers should still call Abandon
// promptly to reclaim disk space.
func (h *WriteHandle) Abandon() error {
	for _, f := range h.files {
		if f != nil {
			_ = f.Close()
		}
	}
	h.closed = true
	if err := os.RemoveAll(h.dir); err != nil {
		return &errs.IoError{Op: "Abandon", Fragment: h.dir, Err: err}
	}
	return nil
}
