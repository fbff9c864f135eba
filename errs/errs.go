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

// Package errs holds the typed error kinds shared by every component, so
// that callers can distinguish failure classes with errors.As regardless of
// which package produced them.
package errs

import "fmt"

// StateError reports misuse of a handle: a write on a read-mode descriptor,
// reuse after close, or a double-open.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("state error during %s", e.Op)
}

func (e *StateError) Unwrap() error { return e.Err }

// FormatError reports an on-disk layout inconsistency discovered during
// load: a book-keeping file whose size isn't a whole multiple of its record
// size, a cross-index length mismatch, or tree-file corruption.
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("format error in %s", e.Op)
}

func (e *FormatError) Unwrap() error { return e.Err }

// IoError wraps an underlying filesystem call failure with the operation
// name, fragment and attribute that were involved,
// propagation policy ("every failure is surfaced... with enough context to
// diagnose").
type IoError struct {
	Op       string
	Fragment string
	Attr     string
	Err      error
}

func (e *IoError) Error() string {
	s := "io error during " + e.Op
	if e.Fragment != "" {
		s += " fragment=" + e.Fragment
	}
	if e.Attr != "" {
		s += " attr=" + e.Attr
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *IoError) Unwrap() error { return e.Err }

// OverflowError reports a query-result buffer that ran out of room during a
// copy. The core itself never sizes user buffers, and no package in this
// module (csvio included) returns one.
type OverflowError struct {
	Op  string
	Err error
}

func (e *OverflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("overflow during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("overflow during %s", e.Op)
}

func (e *OverflowError) Unwrap() error { return e.Err }
