// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/lib/sqlitepool"
	"github.com/sketchroom/sketchroom/store"
)

// Options configures a Store.
type Options struct {
	// Path is the database file. Its directory must exist. Required.
	Path string

	// PoolSize is the number of connections. Zero picks a default.
	PoolSize int

	// Retain caps the change log. Default: 10000.
	Retain int

	// PollInterval bounds how late a long poll notices a write made by
	// another process. Default: 1s.
	PollInterval time.Duration

	// Clock bounds long polls. Nil means the real clock.
	Clock clock.Clock

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Store is a store.Backend backed by SQLite.
type Store struct {
	pool         *sqlitepool.Pool
	retain       int64
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu sync.Mutex
	// changed is closed and replaced after every committed write.
	changed chan struct{}
}

var _ store.Backend = (*Store)(nil)

// Open opens or creates the database at options.Path.
func Open(options Options) (*Store, error) {
	if options.Path == "" {
		return nil, errors.New("sqlitestore: Path is required")
	}
	if options.Retain <= 0 {
		options.Retain = 10000
	}
	if options.PollInterval <= 0 {
		options.PollInterval = time.Second
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     options.Path,
		PoolSize: options.PoolSize,
		Logger:   options.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	return &Store{
		pool:         pool,
		retain:       int64(options.Retain),
		pollInterval: options.PollInterval,
		clock:        options.Clock,
		logger:       options.Logger,
		changed:      make(chan struct{}),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Upload implements store.Backend.
func (s *Store) Upload(ctx context.Context, objectPath string, data []byte, precondition store.Precondition) (string, error) {
	objectPath = store.Clean(objectPath)
	var revision string
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		isFolder, err := exists(conn, "SELECT 1 FROM folders WHERE path = ?", objectPath)
		if err != nil {
			return err
		}
		if isFolder {
			return fmt.Errorf("sqlitestore: %s is a folder", objectPath)
		}

		current, found, err := objectRevision(conn, objectPath)
		if err != nil {
			return err
		}
		if !precondition.Overwrite {
			if precondition.Revision == "" && found {
				return &store.ConflictError{Path: objectPath, Actual: current}
			}
			if precondition.Revision != "" && (!found || current != precondition.Revision) {
				return &store.ConflictError{Path: objectPath, Expected: precondition.Revision, Actual: current}
			}
		}

		if err := s.ensureParents(conn, objectPath); err != nil {
			return err
		}
		sequence, err := nextSequence(conn)
		if err != nil {
			return err
		}
		revision = newRevision(sequence, objectPath, data)
		if err := sqlitex.Execute(conn,
			`INSERT INTO objects (path, data, revision) VALUES (?, ?, ?)
			 ON CONFLICT (path) DO UPDATE SET data = excluded.data, revision = excluded.revision`,
			&sqlitex.ExecOptions{Args: []any{objectPath, data, revision}}); err != nil {
			return fmt.Errorf("sqlitestore: writing %s: %w", objectPath, err)
		}
		return recordChange(conn, sequence, store.Entry{Kind: store.KindFile, Path: objectPath, Revision: revision})
	})
	if err != nil {
		return "", err
	}
	return revision, nil
}

// Download implements store.Backend.
func (s *Store) Download(ctx context.Context, objectPath string) (store.Object, error) {
	objectPath = store.Clean(objectPath)
	var (
		object store.Object
		found  bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT data, revision FROM objects WHERE path = ?", &sqlitex.ExecOptions{
			Args: []any{objectPath},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				object.Data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, object.Data)
				object.Revision = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return store.Object{}, fmt.Errorf("sqlitestore: download %s: %w", objectPath, err)
	}
	if !found {
		return store.Object{}, fmt.Errorf("%w: %s", store.ErrNotFound, objectPath)
	}
	return object, nil
}

// LatestCursor implements store.Backend.
func (s *Store) LatestCursor(ctx context.Context, folder string) (string, error) {
	folder = store.Clean(folder)
	var (
		state logState
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		found, err = exists(conn, "SELECT 1 FROM folders WHERE path = ?", folder)
		if err != nil || !found {
			return err
		}
		state, err = readLog(conn)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("sqlitestore: cursor for %s: %w", folder, err)
	}
	if !found {
		return "", fmt.Errorf("%w: folder %s", store.ErrNotFound, folder)
	}
	return cursor{sequence: state.sequence, folder: folder}.String(), nil
}

// LongPoll implements store.Backend.
func (s *Store) LongPoll(ctx context.Context, encoded string, timeout time.Duration) (store.PollResult, error) {
	position, err := parseCursor(encoded)
	if err != nil {
		return store.PollResult{}, err
	}
	deadline := make(chan struct{})
	timer := s.clock.AfterFunc(timeout, func() { close(deadline) })
	defer timer.Stop()

	for {
		changed := s.signal()
		entries, _, err := s.changesAfter(ctx, position)
		if err != nil {
			return store.PollResult{}, err
		}
		if len(entries) > 0 {
			return store.PollResult{Changed: true}, nil
		}

		select {
		case <-changed:
		case <-s.clock.After(s.pollInterval):
		case <-deadline:
			return store.PollResult{}, nil
		case <-ctx.Done():
			return store.PollResult{}, ctx.Err()
		}
	}
}

// ListChanges implements store.Backend.
func (s *Store) ListChanges(ctx context.Context, encoded string) ([]store.Entry, string, error) {
	position, err := parseCursor(encoded)
	if err != nil {
		return nil, "", err
	}
	entries, latest, err := s.changesAfter(ctx, position)
	if err != nil {
		return nil, "", err
	}
	return entries, cursor{sequence: latest, folder: position.folder}.String(), nil
}

// CreateFolder implements store.Backend.
func (s *Store) CreateFolder(ctx context.Context, folder string) error {
	folder = store.Clean(folder)
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if found, err := exists(conn, "SELECT 1 FROM folders WHERE path = ?", folder); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: folder %s", store.ErrAlreadyExists, folder)
		}
		if found, err := exists(conn, "SELECT 1 FROM objects WHERE path = ?", folder); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: file %s", store.ErrAlreadyExists, folder)
		}
		if err := s.ensureParents(conn, folder); err != nil {
			return err
		}
		_, err := insertFolder(conn, folder)
		return err
	})
}

// ShareFolder implements store.Backend.
func (s *Store) ShareFolder(ctx context.Context, folder string, recipients []string) error {
	folder = store.Clean(folder)
	var (
		found         bool
		alreadyShared bool
	)
	err := s.write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "SELECT shared FROM folders WHERE path = ?", &sqlitex.ExecOptions{
			Args: []any{folder},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				alreadyShared = stmt.ColumnInt(0) != 0
				return nil
			},
		})
		if err != nil || !found {
			return err
		}
		for _, recipient := range recipients {
			if err := sqlitex.Execute(conn,
				"INSERT OR IGNORE INTO members (folder, recipient) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{folder, recipient}}); err != nil {
				return err
			}
		}
		return sqlitex.Execute(conn, "UPDATE folders SET shared = 1 WHERE path = ?",
			&sqlitex.ExecOptions{Args: []any{folder}})
	})
	switch {
	case err != nil:
		return fmt.Errorf("sqlitestore: share %s: %w", folder, err)
	case !found:
		return fmt.Errorf("%w: folder %s", store.ErrNotFound, folder)
	case alreadyShared:
		return fmt.Errorf("%w: folder %s", store.ErrAlreadyShared, folder)
	}
	s.logger.Info("shared folder", "folder", folder, "recipients", len(recipients))
	return nil
}

// Members returns the recipients a folder was shared with, in the
// order they were first added.
func (s *Store) Members(ctx context.Context, folder string) ([]string, error) {
	var members []string
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT recipient FROM members WHERE folder = ? ORDER BY rowid", &sqlitex.ExecOptions{
			Args: []any{store.Clean(folder)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				members = append(members, stmt.ColumnText(0))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: members of %s: %w", folder, err)
	}
	return members, nil
}

// ExpireCursors drops the whole change log, so every cursor issued
// before the call fails with store.ErrCursorReset.
func (s *Store) ExpireCursors(ctx context.Context) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "DELETE FROM changes", nil); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "UPDATE change_log SET sequence = sequence + 1, oldest = sequence + 2 WHERE id = 0", nil)
	})
}

// write runs fn in a write transaction, trims the change log, and
// wakes local long polls once the transaction commits.
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := fn(conn); err != nil {
			return err
		}
		return s.trim(conn)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
	return nil
}

func (s *Store) signal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Store) trim(conn *sqlite.Conn) error {
	state, err := readLog(conn)
	if err != nil {
		return err
	}
	cutoff := state.sequence - s.retain
	if cutoff < state.oldest {
		return nil
	}
	if err := sqlitex.Execute(conn, "DELETE FROM changes WHERE sequence <= ?",
		&sqlitex.ExecOptions{Args: []any{cutoff}}); err != nil {
		return fmt.Errorf("sqlitestore: trimming change log: %w", err)
	}
	return sqlitex.Execute(conn, "UPDATE change_log SET oldest = ? WHERE id = 0",
		&sqlitex.ExecOptions{Args: []any{cutoff + 1}})
}

// changesAfter returns the entries inside position.folder with a
// sequence above position.sequence, and the latest sequence.
func (s *Store) changesAfter(ctx context.Context, position cursor) ([]store.Entry, int64, error) {
	var (
		entries []store.Entry
		state   logState
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		state, err = readLog(conn)
		if err != nil {
			return err
		}
		if position.sequence+1 < state.oldest {
			return fmt.Errorf("%w: cursor at %d, log starts at %d", store.ErrCursorReset, position.sequence, state.oldest)
		}
		return sqlitex.Execute(conn, "SELECT kind, path, revision FROM changes WHERE sequence > ? ORDER BY sequence", &sqlitex.ExecOptions{
			Args: []any{position.sequence},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry := store.Entry{
					Kind:     store.EntryKind(stmt.ColumnText(0)),
					Path:     stmt.ColumnText(1),
					Revision: stmt.ColumnText(2),
				}
				if store.Within(entry.Path, position.folder) {
					entries = append(entries, entry)
				}
				return nil
			},
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrCursorReset) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("sqlitestore: listing changes: %w", err)
	}
	return entries, state.sequence, nil
}

func (s *Store) ensureParents(conn *sqlite.Conn, objectPath string) error {
	var missing []string
	for parent := path.Dir(objectPath); parent != "/"; parent = path.Dir(parent) {
		found, err := exists(conn, "SELECT 1 FROM folders WHERE path = ?", parent)
		if err != nil {
			return err
		}
		if found {
			break
		}
		missing = append(missing, parent)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if _, err := insertFolder(conn, missing[i]); err != nil {
			return err
		}
	}
	return nil
}

func insertFolder(conn *sqlite.Conn, folder string) (int64, error) {
	if err := sqlitex.Execute(conn, "INSERT INTO folders (path) VALUES (?)",
		&sqlitex.ExecOptions{Args: []any{folder}}); err != nil {
		return 0, fmt.Errorf("sqlitestore: creating folder %s: %w", folder, err)
	}
	sequence, err := nextSequence(conn)
	if err != nil {
		return 0, err
	}
	return sequence, recordChange(conn, sequence, store.Entry{Kind: store.KindFolder, Path: folder})
}

func nextSequence(conn *sqlite.Conn) (int64, error) {
	var sequence int64
	err := sqlitex.Execute(conn, "UPDATE change_log SET sequence = sequence + 1 WHERE id = 0 RETURNING sequence", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sequence = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: allocating sequence: %w", err)
	}
	return sequence, nil
}

func recordChange(conn *sqlite.Conn, sequence int64, entry store.Entry) error {
	err := sqlitex.Execute(conn, "INSERT INTO changes (sequence, kind, path, revision) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{sequence, string(entry.Kind), entry.Path, entry.Revision}})
	if err != nil {
		return fmt.Errorf("sqlitestore: recording change %d: %w", sequence, err)
	}
	return nil
}

type logState struct {
	sequence int64
	oldest   int64
}

func readLog(conn *sqlite.Conn) (logState, error) {
	var state logState
	err := sqlitex.Execute(conn, "SELECT sequence, oldest FROM change_log WHERE id = 0", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			state.sequence = stmt.ColumnInt64(0)
			state.oldest = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return logState{}, fmt.Errorf("sqlitestore: reading change log: %w", err)
	}
	return state, nil
}

func objectRevision(conn *sqlite.Conn, objectPath string) (string, bool, error) {
	var (
		revision string
		found    bool
	)
	err := sqlitex.Execute(conn, "SELECT revision FROM objects WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{objectPath},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			revision = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("sqlitestore: reading %s: %w", objectPath, err)
	}
	return revision, found, nil
}

func exists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	var found bool
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func newRevision(sequence int64, objectPath string, data []byte) string {
	hasher := blake3.New()
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(sequence))
	hasher.Write(prefix[:])
	hasher.Write([]byte(objectPath))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

type cursor struct {
	sequence int64
	folder   string
}

func (c cursor) String() string {
	return "sqlite1:" + strconv.FormatInt(c.sequence, 10) + ":" + c.folder
}

func parseCursor(encoded string) (cursor, error) {
	parts := strings.SplitN(encoded, ":", 3)
	if len(parts) != 3 || parts[0] != "sqlite1" || parts[2] == "" {
		return cursor{}, fmt.Errorf("%w: malformed cursor %q", store.ErrCursorReset, encoded)
	}
	sequence, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || sequence < 0 {
		return cursor{}, fmt.Errorf("%w: malformed cursor %q", store.ErrCursorReset, encoded)
	}
	return cursor{sequence: sequence, folder: parts[2]}, nil
}
