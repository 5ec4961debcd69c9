// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer watches a room folder in the durable store and merges
// scenes written by other clients into the local scene.
//
// A Manager moves through three states. Start acquires a change
// cursor for the room folder (INIT); failure aborts the start. The
// poll loop then long-polls the backend (POLLING): when changes
// include the scene object it downloads, decrypts, and merges it
// through the scene capability it was given. Stop cancels the
// in-flight poll and waits for the loop to exit (STOPPED), so no merge
// or callback happens after Stop returns.
//
// An expired cursor is replaced with a fresh one, followed by one
// scene pull to cover changes made in the gap. Transient failures
// wait RetryDelay before the next poll; a backoff hint from the
// backend is honored before polling again.
package syncer
