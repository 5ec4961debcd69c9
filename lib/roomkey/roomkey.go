// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomkey

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Size is the length in bytes of a generated room key.
const Size = 32

// MinSize is the shortest key Parse accepts. Links minted with
// 128-bit keys remain valid.
const MinSize = 16

// BlobVersion prefixes every sealed blob.
const BlobVersion byte = 0x01

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// ErrDecrypt reports a blob that could not be opened: wrong key,
// corruption, truncation, or an unknown version.
var ErrDecrypt = errors.New("roomkey: decryption failed")

// Purpose separates the subkeys derived from one room key.
type Purpose string

const (
	// Relay seals scene and cursor envelopes sent through the relay.
	Relay Purpose = "sketchroom.relay.v1"
	// Storage seals scene and file objects in the durable store.
	Storage Purpose = "sketchroom.storage.v1"
)

// Key is a room's symmetric secret.
type Key struct {
	raw []byte
}

// Generate returns a fresh random key.
func Generate() (Key, error) {
	raw := make([]byte, Size)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return Key{}, fmt.Errorf("roomkey: generating key: %w", err)
	}
	return Key{raw: raw}, nil
}

// Parse decodes a key from its share-link form (unpadded base64url).
func Parse(encoded string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Key{}, fmt.Errorf("roomkey: decoding key: %w", err)
	}
	if len(raw) < MinSize {
		return Key{}, fmt.Errorf("roomkey: key is %d bytes, minimum is %d", len(raw), MinSize)
	}
	return Key{raw: raw}, nil
}

// String returns the unpadded base64url encoding used in share links.
func (k Key) String() string {
	return base64.RawURLEncoding.EncodeToString(k.raw)
}

// IsZero reports whether k holds no key material.
func (k Key) IsZero() bool { return len(k.raw) == 0 }

// Fingerprint returns a short public identifier for the key, safe to
// log. Two participants holding the same key see the same fingerprint.
func (k Key) Fingerprint() string {
	sum := blake3.Sum256(append([]byte("sketchroom.fingerprint.v1"), k.raw...))
	return hex.EncodeToString(sum[:6])
}

// Seal encrypts plaintext for the given purpose.
func (k Key) Seal(purpose Purpose, plaintext []byte) ([]byte, error) {
	aead, err := k.aead(purpose)
	if err != nil {
		return nil, err
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, Overhead+len(plaintext))
	output[0] = BlobVersion
	if _, err := io.ReadFull(rand.Reader, output[1:]); err != nil {
		return nil, fmt.Errorf("roomkey: generating nonce: %w", err)
	}
	nonce := output[1 : 1+chacha20poly1305.NonceSizeX]
	return aead.Seal(output, nonce, plaintext, output[:1]), nil
}

// Open decrypts a blob produced by Seal with the same key and purpose.
func (k Key) Open(purpose Purpose, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecrypt, len(blob), Overhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecrypt, blob[0])
	}
	aead, err := k.aead(purpose)
	if err != nil {
		return nil, err
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], blob[:1])
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (k Key) aead(purpose Purpose) (cipher.AEAD, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("%w: no room key", ErrDecrypt)
	}
	subkey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.raw, nil, []byte(purpose)), subkey); err != nil {
		return nil, fmt.Errorf("roomkey: deriving %s subkey: %w", purpose, err)
	}
	aead, err := chacha20poly1305.NewX(subkey)
	if err != nil {
		return nil, fmt.Errorf("roomkey: creating cipher: %w", err)
	}
	return aead, nil
}
