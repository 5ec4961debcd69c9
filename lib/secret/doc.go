// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds storage credentials outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM and excluded
// from core dumps. Close zeroes, unlocks, and unmaps it; any later
// access panics. The Dropbox access token and the Redis password are
// loaded with [ReadFromPath] and live in a Buffer for the lifetime of
// the client that uses them.
//
// Depends on golang.org/x/sys/unix.
package secret
