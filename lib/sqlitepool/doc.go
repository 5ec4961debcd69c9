// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the pragmas every
// sketchroom component expects and hands out connections from a fixed
// pool.
//
// Connections come from zombiezen.com/go/sqlite. A connection is not
// safe for concurrent use: take one, use it from a single goroutine,
// and put it back. [Pool.Write] and [Pool.Read] do that bookkeeping
// for the common case of one function per transaction.
//
// Every connection runs in WAL mode with synchronous=NORMAL and a
// five second busy timeout, so readers never block the single writer
// and a second process opening the same file waits for the write lock
// instead of failing with SQLITE_BUSY.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path: filepath.Join(root, "store.db"),
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT INTO t (v) VALUES (?)",
//	        &sqlitex.ExecOptions{Args: []any{value}})
//	})
package sqlitepool
