// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomkey is the encryption codec every relay and storage
// payload passes through.
//
// A room [Key] is a symmetric secret created with the room and
// distributed only inside the share link. It never reaches the relay
// or the storage backend's access-control layer: both see ciphertext
// plus routing metadata.
//
// Payloads are sealed with XChaCha20-Poly1305 under a subkey derived
// from the room key with HKDF-SHA256. The [Purpose] selects the
// derivation path, so a relay frame can never be replayed into the
// durable store as a scene object and vice versa. Blob layout:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext + tag]
//
// The version byte is authenticated as additional data. Every
// decryption failure, whatever the cause, is reported as [ErrDecrypt]
// so callers can drop the offending message and continue.
package roomkey
