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
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/TileDB-Inc/TileDB-sub035/schema"
)

// compressSegment compresses one flushed segment buffer with the attribute's
// configured codec. NoCompression returns raw unchanged, so the on-disk
// layout for an uncompressed attribute stays a flat, offset-addressable
// concatenation of tile payloads.
func compressSegment(c schema.Compressor, level int, raw []byte) ([]byte, error) {
	switch c {
	case schema.NoCompression:
		return raw, nil
	case schema.Snappy:
		return snappy.Encode(nil, raw), nil
	case schema.Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, fmt.Errorf("new zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
	}
	return nil, fmt.Errorf("unknown compressor %v", c)
}

func decompressSegment(c schema.Compressor, raw []byte) ([]byte, error) {
	switch c {
	case schema.NoCompression:
		return raw, nil
	case schema.Snappy:
		return snappy.Decode(nil, raw)
	case schema.Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("new zstd decoder: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	}
	return nil, fmt.Errorf("unknown compressor %v", c)
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}
