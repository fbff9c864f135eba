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
	"syscall"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// syncDir fsyncs a directory so that a preceding rename into it is durable.
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
// directory. The fragment tree file is rewritten whole on every change, so
// readers must never observe a partial write.
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

// tryLockFile attempts a non-blocking exclusive flock on p (created if
// necessary), returning a release function on success or an error
// satisfying errLocked if another process (or another OpenArray in this
// one) already holds it. This resolves the otherwise-undefined behavior of
// two writers racing on the same array's next_fragment_seq: the second
// open is refused outright rather than serialized.
func tryLockFile(p string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", filepath.Dir(p), err)
	}
	f, err := os.OpenFile(p, syscall.O_CREAT|syscall.O_RDWR|syscall.O_CLOEXEC, filePerm)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, errLocked
	}
	return f.Close, nil
}
