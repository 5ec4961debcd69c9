// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package packing

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	scene := []byte(`{"type":"scene","elements":[` +
		strings.Repeat(`{"id":"rect","version":3,"versionNonce":7,"isDeleted":false},`, 200) +
		`{"id":"last","version":1,"versionNonce":1}]}`)
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		data      []byte
		algorithm Algorithm
		stored    Algorithm
	}{
		{"zstd json", scene, Zstd, Zstd},
		{"lz4 json", scene, LZ4, LZ4},
		{"none", scene, None, None},
		{"zstd random falls back", random, Zstd, None},
		{"lz4 random falls back", random, LZ4, None},
		{"empty", []byte{}, Zstd, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.data, tt.algorithm)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if Algorithm(packed[0]) != tt.stored {
				t.Errorf("stored algorithm = %s, want %s", Algorithm(packed[0]), tt.stored)
			}
			unpacked, err := Unpack(packed)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if !bytes.Equal(unpacked, tt.data) {
				t.Error("unpacked data differs from input")
			}
		})
	}
}

func TestUnpackRejectsMalformed(t *testing.T) {
	packed, err := Pack([]byte(strings.Repeat("scene ", 100)), Zstd)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"unknown algorithm", append([]byte{9}, packed[1:]...)},
		{"truncated payload", packed[:len(packed)-4]},
		{"none length mismatch", []byte{0, 5, 'a', 'b'}},
		{"oversized", []byte{0, 0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpack(tt.blob); err == nil {
				t.Error("Unpack succeeded on malformed blob")
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, algorithm := range []Algorithm{None, LZ4, Zstd} {
		parsed, err := ParseAlgorithm(algorithm.String())
		if err != nil || parsed != algorithm {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", algorithm.String(), parsed, err)
		}
	}
	if _, err := ParseAlgorithm("brotli"); err == nil {
		t.Error("ParseAlgorithm accepted brotli")
	}
}
