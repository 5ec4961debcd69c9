// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package packing

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies the compression applied to a packed payload.
// Values are stored in the blob header and must not change.
type Algorithm uint8

const (
	// None stores the payload uncompressed.
	None Algorithm = 0
	// LZ4 is block-mode LZ4. Fast, for mixed binary content.
	LZ4 Algorithm = 1
	// Zstd is zstd at the default level. Used for scene JSON.
	Zstd Algorithm = 2
)

// MaxUnpackedSize bounds the declared uncompressed length accepted by
// Unpack.
const MaxUnpackedSize = 256 << 20

// String returns the algorithm's configuration name.
func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses a configuration name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd", "":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("packing: unknown algorithm %q", name)
	}
}

var errIncompressible = errors.New("incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("packing: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxUnpackedSize))
	if err != nil {
		panic("packing: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack compresses data with the given algorithm and prepends the
// header. When compression does not reduce the size the payload is
// stored with None.
func Pack(data []byte, algorithm Algorithm) ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	switch algorithm {
	case None:
		payload = data
	case LZ4:
		payload, err = compressLZ4(data)
	case Zstd:
		payload, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("packing: unsupported algorithm %d", algorithm)
	}
	if errors.Is(err, errIncompressible) {
		algorithm, payload, err = None, data, nil
	}
	if err != nil {
		return nil, err
	}

	header := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	header[0] = byte(algorithm)
	header = binary.AppendUvarint(header, uint64(len(data)))
	return append(header, payload...), nil
}

// Unpack reverses Pack.
func Unpack(blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, fmt.Errorf("packing: blob is %d bytes, too short for a header", len(blob))
	}
	algorithm := Algorithm(blob[0])
	size, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return nil, fmt.Errorf("packing: malformed length header")
	}
	if size > MaxUnpackedSize {
		return nil, fmt.Errorf("packing: declared size %d exceeds limit %d", size, MaxUnpackedSize)
	}
	payload := blob[1+n:]

	switch algorithm {
	case None:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("packing: stored payload is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case LZ4:
		return decompressLZ4(payload, int(size))
	case Zstd:
		return decompressZstd(payload, int(size))
	default:
		return nil, fmt.Errorf("packing: unsupported algorithm %s", algorithm)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("packing: lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("packing: lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("packing: lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("packing: zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("packing: zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
