// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the durable storage contract sketchroom
// persists rooms into, and an in-memory implementation of it.
//
// A [Backend] is a revisioned object store with folders and a change
// feed:
//
//   - [Backend.Upload] writes an object under a [Precondition]. A
//     revision mismatch fails with a [*ConflictError] that matches
//     [ErrConflict]. Every successful write returns a new opaque
//     revision tag.
//   - [Backend.Download] returns the bytes and the current revision,
//     or [ErrNotFound].
//   - [Backend.LatestCursor], [Backend.LongPoll], and
//     [Backend.ListChanges] expose the change feed for one folder
//     tree. A cursor the backend can no longer serve fails with
//     [ErrCursorReset]; callers acquire a fresh one and carry on.
//   - [Backend.CreateFolder] and [Backend.ShareFolder] manage room
//     folders, failing with [ErrAlreadyExists] and [ErrAlreadyShared]
//     when there is nothing to do.
//
// Paths are slash-separated and absolute ("/rooms/<roomId>/scene.enc").
// Backends never see plaintext: everything written is already
// compressed and encrypted by the caller.
//
// Implementations: [Memory] (this package, for tests and single-process
// use), store/sqlitestore, store/redisstore, and store/dropbox. Package
// store/storetest holds the conformance suite they all pass.
package store
