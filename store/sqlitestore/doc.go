// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore implements store.Backend on a SQLite file.
//
// Objects, folders, share members, and the change log are tables in
// one database. Each mutation and its change rows commit in a single
// IMMEDIATE transaction. Several processes on one machine may open
// the same file: a long poll wakes at once for writes made through
// its own Store and within PollInterval for writes made by another
// process.
//
// The change log is trimmed to Retain entries. Cursors older than the
// first retained entry fail with store.ErrCursorReset.
package sqlitestore
