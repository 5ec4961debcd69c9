// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/sketchroom/sketchroom/lib/clock"
)

// MemoryOptions configures a Memory backend.
type MemoryOptions struct {
	// Clock bounds long polls. Nil means the real clock.
	Clock clock.Clock

	// Retain caps the change log. Cursors older than the retained
	// entries fail with ErrCursorReset. Zero keeps everything.
	Retain int
}

// Memory is an in-process Backend.
type Memory struct {
	clock  clock.Clock
	retain int

	mu      sync.Mutex
	objects map[string]Object
	folders map[string]struct{}
	shares  map[string][]string

	// changes holds log entries with sequence numbers oldest..sequence.
	changes  []change
	sequence uint64
	oldest   uint64

	// changed is closed and replaced on every append.
	changed chan struct{}
}

type change struct {
	sequence uint64
	entry    Entry
}

// NewMemory returns an empty backend holding only the root folder.
func NewMemory(options MemoryOptions) *Memory {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Memory{
		clock:   options.Clock,
		retain:  options.Retain,
		objects: make(map[string]Object),
		folders: map[string]struct{}{"/": {}},
		shares:  make(map[string][]string),
		oldest:  1,
		changed: make(chan struct{}),
	}
}

// Upload implements Backend.
func (m *Memory) Upload(ctx context.Context, objectPath string, data []byte, precondition Precondition) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	objectPath = Clean(objectPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, isFolder := m.folders[objectPath]; isFolder {
		return "", fmt.Errorf("store: %s is a folder", objectPath)
	}
	current, exists := m.objects[objectPath]
	if !precondition.Overwrite {
		if precondition.Revision == "" && exists {
			return "", &ConflictError{Path: objectPath, Actual: current.Revision}
		}
		if precondition.Revision != "" && (!exists || current.Revision != precondition.Revision) {
			return "", &ConflictError{Path: objectPath, Expected: precondition.Revision, Actual: current.Revision}
		}
	}

	m.ensureParentsLocked(objectPath)
	revision := m.revisionLocked(objectPath, data)
	m.objects[objectPath] = Object{Data: slices.Clone(data), Revision: revision}
	m.appendLocked(Entry{Kind: KindFile, Path: objectPath, Revision: revision})
	return revision, nil
}

// Download implements Backend.
func (m *Memory) Download(ctx context.Context, objectPath string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	object, ok := m.objects[Clean(objectPath)]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	return Object{Data: slices.Clone(object.Data), Revision: object.Revision}, nil
}

// LatestCursor implements Backend.
func (m *Memory) LatestCursor(ctx context.Context, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	folder = Clean(folder)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder]; !ok {
		return "", fmt.Errorf("%w: folder %s", ErrNotFound, folder)
	}
	return formatMemoryCursor(m.sequence, folder), nil
}

// LongPoll implements Backend.
func (m *Memory) LongPoll(ctx context.Context, cursor string, timeout time.Duration) (PollResult, error) {
	sequence, folder, err := parseMemoryCursor(cursor)
	if err != nil {
		return PollResult{}, err
	}
	deadline := make(chan struct{})
	timer := m.clock.AfterFunc(timeout, func() { close(deadline) })
	defer timer.Stop()
	for {
		m.mu.Lock()
		if sequence+1 < m.oldest {
			m.mu.Unlock()
			return PollResult{}, fmt.Errorf("%w: cursor at %d, log starts at %d", ErrCursorReset, sequence, m.oldest)
		}
		if len(m.entriesAfterLocked(sequence, folder)) > 0 {
			m.mu.Unlock()
			return PollResult{Changed: true}, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			return PollResult{}, nil
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		}
	}
}

// ListChanges implements Backend.
func (m *Memory) ListChanges(ctx context.Context, cursor string) ([]Entry, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	sequence, folder, err := parseMemoryCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sequence+1 < m.oldest {
		return nil, "", fmt.Errorf("%w: cursor at %d, log starts at %d", ErrCursorReset, sequence, m.oldest)
	}
	return m.entriesAfterLocked(sequence, folder), formatMemoryCursor(m.sequence, folder), nil
}

// CreateFolder implements Backend.
func (m *Memory) CreateFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder = Clean(folder)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder]; ok {
		return fmt.Errorf("%w: folder %s", ErrAlreadyExists, folder)
	}
	if _, ok := m.objects[folder]; ok {
		return fmt.Errorf("%w: file %s", ErrAlreadyExists, folder)
	}
	m.ensureParentsLocked(folder)
	m.folders[folder] = struct{}{}
	m.appendLocked(Entry{Kind: KindFolder, Path: folder})
	return nil
}

// ShareFolder implements Backend.
func (m *Memory) ShareFolder(ctx context.Context, folder string, recipients []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folder = Clean(folder)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folder]; !ok {
		return fmt.Errorf("%w: folder %s", ErrNotFound, folder)
	}
	members, alreadyShared := m.shares[folder]
	for _, recipient := range recipients {
		if !slices.Contains(members, recipient) {
			members = append(members, recipient)
		}
	}
	m.shares[folder] = members
	if alreadyShared {
		return fmt.Errorf("%w: folder %s", ErrAlreadyShared, folder)
	}
	return nil
}

// Members returns the recipients a folder was shared with.
func (m *Memory) Members(folder string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.shares[Clean(folder)])
}

// ExpireCursors drops the whole change log, so every cursor issued
// before the call fails with ErrCursorReset.
func (m *Memory) ExpireCursors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = nil
	m.oldest = m.sequence + 2
	m.sequence++
}

func (m *Memory) ensureParentsLocked(objectPath string) {
	for parent := path.Dir(objectPath); ; parent = path.Dir(parent) {
		if _, ok := m.folders[parent]; ok {
			return
		}
		m.folders[parent] = struct{}{}
		m.appendLocked(Entry{Kind: KindFolder, Path: parent})
	}
}

func (m *Memory) revisionLocked(objectPath string, data []byte) string {
	hasher := blake3.New()
	var sequence [8]byte
	binary.BigEndian.PutUint64(sequence[:], m.sequence+1)
	hasher.Write(sequence[:])
	hasher.Write([]byte(objectPath))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

func (m *Memory) appendLocked(entry Entry) {
	m.sequence++
	m.changes = append(m.changes, change{sequence: m.sequence, entry: entry})
	if m.retain > 0 && len(m.changes) > m.retain {
		m.changes = slices.Clone(m.changes[len(m.changes)-m.retain:])
	}
	if len(m.changes) > 0 {
		m.oldest = m.changes[0].sequence
	}
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Memory) entriesAfterLocked(sequence uint64, folder string) []Entry {
	var entries []Entry
	for _, change := range m.changes {
		if change.sequence > sequence && Within(change.entry.Path, folder) {
			entries = append(entries, change.entry)
		}
	}
	return entries
}

func formatMemoryCursor(sequence uint64, folder string) string {
	return "mem1:" + strconv.FormatUint(sequence, 10) + ":" + folder
}

func parseMemoryCursor(cursor string) (uint64, string, error) {
	parts := strings.SplitN(cursor, ":", 3)
	if len(parts) != 3 || parts[0] != "mem1" {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", ErrCursorReset, cursor)
	}
	sequence, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: malformed cursor %q", ErrCursorReset, cursor)
	}
	return sequence, parts[2], nil
}
