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

package consolidator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"k8s.io/klog/v2"

	"github.com/TileDB-Inc/TileDB-sub035/errs"
	"github.com/TileDB-Inc/TileDB-sub035/merge"
	"github.com/TileDB-Inc/TileDB-sub035/schema"
	"github.com/TileDB-Inc/TileDB-sub035/storage"
	"github.com/TileDB-Inc/TileDB-sub035/tile"
	"github.com/TileDB-Inc/TileDB-sub035/writer"
)

// DefaultConsolidationStep is the fan-in of the merge scheduler (the base
// of the fragment tree) used when OpenArray is called with step <= 1.
const DefaultConsolidationStep = 4

// mergeWindowSize is the number of recent merges the Consolidator's moving
// average observability window covers.
const mergeWindowSize = 30

// treeFileName is the book-keeping file holding one array's serialized
// FragmentTree, stored alongside its fragment directories.
const treeFileName = "__tree"

// lockFileName is flocked for the lifetime of an open write descriptor, so
// a second concurrent OpenArray on the same directory is refused rather
// than racing on next_fragment_seq.
const lockFileName = "__lock"

var errLocked = &errs.StateError{Op: "OpenArray", Err: fmt.Errorf("array is already open for writing")}

var generationCounter atomic.Uint64

// Consolidator tracks one logical array's fragment tree, assigns sequence
// numbers to incoming fragments, and drives the k-way merges that fire
// when a tree level fills.
type Consolidator struct {
	mgr    *storage.Manager
	schema *schema.Schema
	dir    string
	step   uint64

	mu         sync.Mutex
	tree       *FragmentTree
	generation uint64
	open       bool
	unlock     func() error

	mergeDuration *movingaverage.ConcurrentMovingAverage
}

// ArrayHandle is the descriptor returned by OpenArray. Every other
// operation in this package takes one and rejects it once its generation
// no longer matches the Consolidator's (the array was closed, or this
// handle is a stale leftover from a previous open).
type ArrayHandle struct {
	co         *Consolidator
	generation uint64
}

// OpenArray loads dir's fragment tree file if present, else initializes an
// empty one, and returns a descriptor for subsequent operations. step is
// the consolidation fan-in c; step <= 1 uses DefaultConsolidationStep.
func OpenArray(mgr *storage.Manager, s *schema.Schema, dir string, step uint64) (*ArrayHandle, error) {
	if step <= 1 {
		step = DefaultConsolidationStep
	}
	unlock, err := tryLockFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	tree, err := loadTreeFile(dir, step)
	if err != nil {
		_ = unlock()
		return nil, err
	}

	co := &Consolidator{
		mgr: mgr, schema: s, dir: dir, step: step,
		tree:          tree,
		generation:    generationCounter.Add(1),
		open:          true,
		unlock:        unlock,
		mergeDuration: movingaverage.Concurrent(movingaverage.New(mergeWindowSize)),
	}
	return &ArrayHandle{co: co, generation: co.generation}, nil
}

// loadTreeFile reads and validates dir's fragment tree file, or returns a
// fresh empty tree if none exists yet.
func loadTreeFile(dir string, step uint64) (*FragmentTree, error) {
	d, err := os.ReadFile(filepath.Join(dir, treeFileName))
	switch {
	case err == nil:
		tree, err := unmarshalTree(d)
		if err != nil {
			return nil, err
		}
		if err := tree.validate(step); err != nil {
			return nil, err
		}
		return tree, nil
	case os.IsNotExist(err):
		return &FragmentTree{}, nil
	default:
		return nil, &errs.IoError{Op: "OpenArray", Fragment: dir, Err: err}
	}
}

// checkHandle reports whether h still refers to co's current generation.
// Callers hold co.mu.
func (co *Consolidator) checkHandle(h *ArrayHandle) error {
	if h == nil || h.co != co || h.generation != co.generation || !co.open {
		return &errs.StateError{Op: "consolidator", Err: fmt.Errorf("stale or closed array handle")}
	}
	return nil
}

// CloseArray flushes h's fragment tree to disk and invalidates h and every
// other handle sharing its generation.
func CloseArray(h *ArrayHandle) error {
	co := h.co
	co.mu.Lock()
	defer co.mu.Unlock()
	if err := co.checkHandle(h); err != nil {
		return err
	}
	if err := co.flushTree(); err != nil {
		return err
	}
	co.open = false
	return co.unlock()
}

func (co *Consolidator) flushTree() error {
	path := filepath.Join(co.dir, treeFileName)
	if err := overwrite(path, marshalTree(co.tree)); err != nil {
		return &errs.IoError{Op: "flushTree", Fragment: path, Err: err}
	}
	return nil
}

// DeleteArray removes every fragment and the tree file for the array at
// dir. The caller must have closed any open handle on dir first.
func DeleteArray(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return &errs.IoError{Op: "DeleteArray", Fragment: dir, Err: err}
	}
	return nil
}

// NextFragmentName returns the "s_s" fragment name that AddFragment will assign to
// the next fragment written through h.
func NextFragmentName(h *ArrayHandle) (string, error) {
	co := h.co
	co.mu.Lock()
	defer co.mu.Unlock()
	if err := co.checkHandle(h); err != nil {
		return "", err
	}
	return nextFragmentName(co.tree.NextSeq), nil
}

// AllFragmentSuffixes reconstructs the list of live fragment suffixes by
// walking the tree from newest entry to oldest, each producing count
// consecutive _lo_hi windows of c^level sequence numbers.
func AllFragmentSuffixes(h *ArrayHandle) ([]string, error) {
	co := h.co
	co.mu.Lock()
	defer co.mu.Unlock()
	if err := co.checkHandle(h); err != nil {
		return nil, err
	}
	var suffixes []string
	cursor := co.tree.NextSeq
	for i := len(co.tree.Entries) - 1; i >= 0; i-- {
		e := co.tree.Entries[i]
		span := power(co.step, e.Level)
		for j := uint32(0); j < e.Count; j++ {
			hi := cursor - 1
			lo := cursor - span
			suffixes = append(suffixes, fragmentSuffix(lo, hi))
			cursor = lo
		}
	}
	return suffixes, nil
}

// AddFragment writes cells (accepted in any order) as a new base fragment
// under h's array, assigns it the next sequence number, and runs the
// add_fragment tree-fusion algorithm: while the tree's tail level is full
// (count == c), the c most recent sub-fragments at that level are merged
// into one fragment at the next level up. Returns the name of the
// newly-written base fragment (before any subsequent merge folds it away).
func AddFragment(h *ArrayHandle, cells []tile.Cell) (string, error) {
	co := h.co
	co.mu.Lock()
	defer co.mu.Unlock()
	if err := co.checkHandle(h); err != nil {
		return "", err
	}

	name := nextFragmentName(co.tree.NextSeq)
	if err := co.writeFragment(name, cells); err != nil {
		return "", err
	}
	co.tree.NextSeq++
	co.tree.fuseBase()

	if err := co.mergeLoop(); err != nil {
		return "", err
	}
	if err := co.flushTree(); err != nil {
		return "", err
	}
	return name, nil
}

// writeFragment drives the Fragment Writer's ACCUMULATE/SORT&SPILL/MERGE
// pipeline to pack cells into a new fragment directory named name.
func (co *Consolidator) writeFragment(name string, cells []tile.Cell) error {
	fragDir := filepath.Join(co.dir, name)
	wh, err := co.mgr.CreateFragment(co.schema, fragDir)
	if err != nil {
		return err
	}
	fw, err := writer.NewFragmentWriter(co.schema, fragDir+"-runs", 0)
	if err != nil {
		_ = wh.Abandon()
		return err
	}
	for _, c := range cells {
		if err := fw.Add(c); err != nil {
			return err
		}
	}
	return fw.Seal(wh)
}

// mergeLoop repeatedly fuses a full tail level into the level above it
// until the tail is no longer full, per the add_fragment algorithm.
func (co *Consolidator) mergeLoop() error {
	for {
		n := len(co.tree.Entries)
		if n == 0 {
			return nil
		}
		tail := co.tree.Entries[n-1]
		if uint64(tail.Count) != co.step {
			return nil
		}
		lo, hi := tailRange(co.step, tail, co.tree.NextSeq)
		start := time.Now()
		if err := co.mergeRange(tail.Level, lo, hi); err != nil {
			return err
		}
		co.mergeDuration.Add(float64(time.Since(start) / time.Millisecond))
		co.tree.popTail()
		co.tree.fuse(entry{Level: tail.Level + 1, Count: 1})
		klog.V(1).Infof("consolidator: merged level %d fragments [%d,%d] into %s", tail.Level, lo, hi, fragmentSuffix(lo, hi))
	}
}

// mergeRange merges the c level-level sub-fragments covering [lo, hi] into
// one output fragment named by the whole range.
func (co *Consolidator) mergeRange(level uint32, lo, hi uint64) error {
	span := power(co.step, level)
	inputNames := make([]string, co.step)
	for j := uint64(0); j < co.step; j++ {
		subLo := lo + j*span
		inputNames[j] = fragmentSuffix(subLo, subLo+span-1)
	}
	return co.mergeFragments(inputNames, fragmentSuffix(lo, hi))
}

// mergeFragments opens every named input fragment, merges them cell-by-cell
// in global order with fragment-recency tie-breaking via the merge
// package, packs the result into a fragment named outName, and — only
// after the output fragment's marker file exists — deletes the inputs.
func (co *Consolidator) mergeFragments(inputNames []string, outName string) error {
	inputs := make([]merge.Input, 0, len(inputNames))
	readers := make([]*storage.ReadHandle, 0, len(inputNames))
	closeReaders := func() {
		for _, rh := range readers {
			_ = rh.Close()
		}
	}
	for _, name := range inputNames {
		_, hi, err := parseSuffix(name)
		if err != nil {
			closeReaders()
			return err
		}
		dir := filepath.Join(co.dir, name)
		rh, err := storage.OpenFragmentRead(co.mgr, co.schema, dir)
		if err != nil {
			closeReaders()
			return &errs.IoError{Op: "mergeFragments", Fragment: dir, Err: err}
		}
		readers = append(readers, rh)
		inputs = append(inputs, merge.Input{RH: rh, Rank: hi})
	}

	m, err := merge.New(co.schema, inputs)
	if err != nil {
		closeReaders()
		return err
	}

	outDir := filepath.Join(co.dir, outName)
	wh, err := co.mgr.CreateFragment(co.schema, outDir)
	if err != nil {
		closeReaders()
		return err
	}
	fw, err := writer.NewFragmentWriter(co.schema, outDir+"-runs", 0)
	if err != nil {
		closeReaders()
		_ = wh.Abandon()
		return err
	}
	for m.Next() {
		if err := fw.Add(m.Cell()); err != nil {
			closeReaders()
			return err
		}
	}
	if err := m.Err(); err != nil {
		closeReaders()
		return err
	}
	if err := fw.Seal(wh); err != nil {
		closeReaders()
		return err
	}
	closeReaders()

	for _, name := range inputNames {
		if err := os.RemoveAll(filepath.Join(co.dir, name)); err != nil {
			return &errs.IoError{Op: "mergeFragments", Fragment: name, Err: err}
		}
	}
	return nil
}

// parseSuffix splits a fragment directory name of the form "lo_hi".
func parseSuffix(name string) (lo, hi uint64, err error) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return 0, 0, &errs.FormatError{Op: "parseSuffix", Err: fmt.Errorf("malformed fragment name %q", name)}
	}
	lo, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, &errs.FormatError{Op: "parseSuffix", Err: fmt.Errorf("malformed fragment name %q: %w", name, err)}
	}
	hi, err = strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, 0, &errs.FormatError{Op: "parseSuffix", Err: fmt.Errorf("malformed fragment name %q: %w", name, err)}
	}
	return lo, hi, nil
}
