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

// Package tiledb is the public surface composing the Storage Manager, the
// Consolidator and the merge path into one array handle: open, load cells,
// read a subarray back, close.
package tiledb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/TileDB-Inc/TileDB-sub035/consolidator"
	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/merge"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
)

// Config tunes the storage and consolidation knobs of an open Array. The
// zero Config uses the same defaults as storage.NewManager and
// consolidator.OpenArray.
type Config struct {
	// SegmentSize is the Storage Manager's I/O quantum; <= 0 uses its default.
	SegmentSize int
	// CacheSize bounds the Storage Manager's shared parsed-tile cache; <= 0
	// uses its default.
	CacheSize int
	// ConsolidationStep is the fragment tree's fan-in c; <= 1 uses
	// consolidator.DefaultConsolidationStep.
	ConsolidationStep uint64
}

// Array is one logical array: a schema plus the fragments written under one
// directory, opened for both loading and reading.
type Array struct {
	mgr *storage.Manager
	s   *schema.Schema
	dir string
	h   *consolidator.ArrayHandle
}

// OpenArray opens (or initializes, if dir has no fragment tree file yet) the
// array at dir under schema s. Only one Array may hold dir open for writing
// at a time: a second concurrent OpenArray on the same directory is
// refused, per consolidator.OpenArray.
func OpenArray(dir string, s *schema.Schema, cfg Config) (*Array, error) {
	mgr, err := storage.NewManager(cfg.SegmentSize, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("new storage manager: %w", err)
	}
	h, err := consolidator.OpenArray(mgr, s, dir, cfg.ConsolidationStep)
	if err != nil {
		return nil, err
	}
	return &Array{mgr: mgr, s: s, dir: dir, h: h}, nil
}

// Load appends cells as one new fragment, assigning it the array's next
// sequence number and running the fragment tree's merge cascade as needed.
// A tombstoned cell (Cell.Tombstone == true) masks any earlier cell at the
// same coordinates once fragments merge, without needing to touch the
// earlier fragment itself.
func (a *Array) Load(cells []tile.Cell) (string, error) {
	name, err := consolidator.AddFragment(a.h, cells)
	if err != nil {
		return "", err
	}
	klog.V(1).Infof("tiledb: loaded %d cells into %s/%s", len(cells), a.dir, name)
	return name, nil
}

// Read returns every live cell whose coordinates fall within r, merged
// across all currently live fragments in global cell order with the most
// recently written fragment winning duplicate coordinates and deletions
// masked. A nil r returns every live cell in the array.
func (a *Array) Read(r schema.Range) ([]tile.Cell, error) {
	suffixes, err := consolidator.AllFragmentSuffixes(a.h)
	if err != nil {
		return nil, err
	}

	readers := make([]*storage.ReadHandle, 0, len(suffixes))
	defer func() {
		for _, rh := range readers {
			_ = rh.Close()
		}
	}()

	inputs := make([]merge.Input, 0, len(suffixes))
	for _, suf := range suffixes {
		rh, err := storage.OpenFragmentRead(a.mgr, a.s, filepath.Join(a.dir, suf))
		if err != nil {
			return nil, err
		}
		readers = append(readers, rh)
		_, hi, err := parseSuffix(suf)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, merge.Input{RH: rh, Rank: hi})
	}

	m, err := merge.New(a.s, inputs)
	if err != nil {
		return nil, err
	}
	var out []tile.Cell
	for m.Next() {
		c := m.Cell()
		if r != nil && !r.Contains(c.Coords) {
			continue
		}
		out = append(out, c)
	}
	if err := m.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes the array's fragment tree to disk and releases its write
// lock. Read and Load must not be called again on a.
func (a *Array) Close() error {
	return consolidator.CloseArray(a.h)
}

// DeleteArray removes every fragment and book-keeping file under dir. The
// array must already be closed.
func DeleteArray(dir string) error {
	return consolidator.DeleteArray(dir)
}

// parseSuffix splits a fragment directory name of the form "lo_hi", the
// same naming consolidator itself derives fragment directories from.
func parseSuffix(name string) (lo, hi uint64, err error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return 0, 0, &errs.FormatError{Op: "tiledb.parseSuffix", Err: fmt.Errorf("malformed fragment name %q", name)}
	}
	lo, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, &errs.FormatError{Op: "tiledb.parseSuffix", Err: fmt.Errorf("malformed fragment name %q: %w", name, err)}
	}
	hi, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, &errs.FormatError{Op: "tiledb.parseSuffix", Err: fmt.Errorf("malformed fragment name %q: %w", name, err)}
	}
	return lo, hi, nil
}
