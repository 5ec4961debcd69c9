// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

// change_log holds a single row: the last sequence handed out and the
// first sequence still present in changes.
const schema = `
CREATE TABLE IF NOT EXISTS objects (
	path     TEXT PRIMARY KEY,
	data     BLOB,
	revision TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	path   TEXT PRIMARY KEY,
	shared INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS members (
	folder    TEXT NOT NULL,
	recipient TEXT NOT NULL,
	PRIMARY KEY (folder, recipient)
);

CREATE TABLE IF NOT EXISTS changes (
	sequence INTEGER PRIMARY KEY,
	kind     TEXT NOT NULL,
	path     TEXT NOT NULL,
	revision TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS change_log (
	id       INTEGER PRIMARY KEY CHECK (id = 0),
	sequence INTEGER NOT NULL,
	oldest   INTEGER NOT NULL
);

INSERT OR IGNORE INTO folders (path) VALUES ('/');
INSERT OR IGNORE INTO change_log (id, sequence, oldest) VALUES (0, 0, 1);
`
