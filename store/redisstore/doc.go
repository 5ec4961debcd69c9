// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package redisstore implements store.Backend on Redis.
//
// Objects live in hashes holding their data and revision. Every
// mutation appends to one change stream, trimmed to a fixed length,
// from which cursors are served. Conditional writes and their change
// entries are applied together by Lua scripts, so a reader never sees
// an object without its change or the reverse.
//
// Keys, under a configurable prefix:
//
//	<prefix>:object:<path>   hash {data, rev}
//	<prefix>:folders         set of folder paths
//	<prefix>:shared          set of shared folder paths
//	<prefix>:members:<path>  set of share recipients
//	<prefix>:changes         stream of {seq, kind, path, rev}
//	<prefix>:seq             change sequence counter
package redisstore
