// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds sketchroom's CBOR configuration.
//
// Two serialization formats meet in sketchroom:
//
//   - JSON for everything the editing surface and the durable store
//     see: scene envelopes, stored scene documents, file metadata.
//     These bytes are encrypted before they leave the client.
//   - CBOR for relay frames: the routing envelope that carries an
//     event name, a room id, and the opaque ciphertext between client
//     and relay. The relay decodes only this layer.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same frame always produces the same bytes. Decoding ignores unknown
// fields so relays and clients of different versions interoperate.
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
package codec
