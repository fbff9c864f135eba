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

// Package storage is the only component that touches the filesystem: it
// owns per-fragment book-keeping, segment buffering, the tile cache, and
// the forward/reverse tile iterators used by readers.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"k8s.io/klog/v2"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// fragmentMarker is the empty file whose presence announces "this
	// directory is a fragment".
	fragmentMarker = "__fragment"
)

// syncDir fsyncs a directory so that a preceding rename/link into it is
// durable, not just visible.
func syncDir(d string) error {
	fd, err := os.Open(d)
	if err != nil {
		return fmt.Errorf("open %q: %w", d, err)
	}
	if err := fd.Sync(); err != nil {
		_ = fd.Close()
		return fmt.Errorf("fsync %q: %w", d, err)
	}
	return fd.Close()
}

// overwrite atomically replaces (or creates) the file at p with d: write to
// a temp name in the same directory, then rename into place and fsync the
// directory. Used for every book-keeping file, whose readers must never
// observe a partial write.
func overwrite(p string, d []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, d, filePerm); err != nil {
		return fmt.Errorf("write temp file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %q to %q: %w", tmp, p, err)
	}
	return syncDir(dir)
}

// createExclusive atomically creates a new file at p containing d, failing
// with an error satisfying os.IsExist if one is already there.
func createExclusive(p string, d []byte) error {
	dir, f := filepath.Split(p)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	tmpF, err := os.CreateTemp(dir, f+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmpF.Name()
	defer func() {
		if tmpF != nil {
			_ = tmpF.Close()
		}
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			klog.Warningf("remove temp file %q: %v", tmpName, err)
		}
	}()
	if err := tmpF.Chmod(filePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if n, err := tmpF.Write(d); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	} else if n != len(d) {
		return fmt.Errorf("short write (%d < %d bytes) on temp file", n, len(d))
	}
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpF = nil
	if err := os.Link(tmpName, p); err != nil {
		return fmt.Errorf("link temp file to %q: %w", p, err)
	}
	return syncDir(dir)
}

// lockFile takes a blocking, exclusive fcntl write lock (F_SETLKW) on the
// file at p (creating it if necessary) and returns a function to release
// it. A second process locking the same file waits until the first one
// releases it. Nothing in this module calls it.
func lockFile(p string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", filepath.Dir(p), err)
	}
	f, err := os.OpenFile(p, syscall.O_CREAT|syscall.O_RDWR|syscall.O_CLOEXEC, filePerm)
	if err != nil {
		return nil, err
	}
	flockT := syscall.Flock_t{Type: syscall.F_WRLCK, Whence: io.SeekStart, Start: 0, Len: 0}
	for {
		if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLKW, &flockT); err != syscall.EINTR {
			if err != nil {
				_ = f.Close()
				return nil, err
			}
			return f.Close, nil
		}
	}
}
