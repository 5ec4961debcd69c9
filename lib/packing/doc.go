// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package packing compresses scene and file payloads before they are
// encrypted for the durable store.
//
// A packed blob is self-describing:
//
//	[algorithm: 1 byte] [uncompressed length: uvarint] [payload]
//
// Scene documents are JSON and compress well with zstd. Embedded image
// files are usually already compressed; [Pack] falls back to storing
// them as-is when compression would not shrink them, so [Unpack]
// must accept every algorithm regardless of what the writer chose.
package packing
