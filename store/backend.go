// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound reports a missing object or folder.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict reports a failed upload precondition. Upload returns
	// it as a *ConflictError.
	ErrConflict = errors.New("store: revision conflict")

	// ErrCursorReset reports a change cursor the backend can no longer
	// serve.
	ErrCursorReset = errors.New("store: cursor reset")

	// ErrAlreadyExists reports a folder that already exists.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrAlreadyShared reports a folder that was already shared.
	// Recipients passed with the call are still added.
	ErrAlreadyShared = errors.New("store: already shared")
)

// ConflictError describes a failed upload precondition.
type ConflictError struct {
	Path string
	// Expected is the revision the caller required; empty for a
	// create-if-absent upload.
	Expected string
	// Actual is the stored revision; empty when the object is absent.
	Actual string
}

func (e *ConflictError) Error() string {
	switch {
	case e.Expected == "":
		return fmt.Sprintf("store: revision conflict on %s: object exists at revision %s", e.Path, e.Actual)
	case e.Actual == "":
		return fmt.Sprintf("store: revision conflict on %s: expected revision %s, object is absent", e.Path, e.Expected)
	default:
		return fmt.Sprintf("store: revision conflict on %s: expected revision %s, stored %s", e.Path, e.Expected, e.Actual)
	}
}

// Is makes errors.Is(err, ErrConflict) hold for a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Precondition constrains an Upload.
type Precondition struct {
	// Revision, when set, requires the stored object to be at exactly
	// this revision. When empty and Overwrite is false the object must
	// not exist.
	Revision string

	// Overwrite writes unconditionally.
	Overwrite bool
}

// IfAbsent creates the object only if it does not exist.
func IfAbsent() Precondition { return Precondition{} }

// IfRevision updates the object only if it is still at revision.
func IfRevision(revision string) Precondition { return Precondition{Revision: revision} }

// Always writes unconditionally.
func Always() Precondition { return Precondition{Overwrite: true} }

// Object is a downloaded object.
type Object struct {
	Data     []byte
	Revision string
}

// EntryKind classifies a change entry.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindFolder  EntryKind = "folder"
	KindDeleted EntryKind = "deleted"
)

// Entry is one change in a folder tree.
type Entry struct {
	Kind EntryKind
	// Path is as the backend reports it. Dropbox reports lowercased
	// paths; compare with SamePath.
	Path     string
	Revision string
}

// PollResult is the outcome of a long poll.
type PollResult struct {
	// Changed reports that entries are available from ListChanges.
	Changed bool
	// Backoff asks the caller to wait before polling again.
	Backoff time.Duration
}

// Backend is a revisioned object store with a change feed.
type Backend interface {
	// Upload writes data to path under precondition and returns the
	// new revision. Missing parent folders are created.
	Upload(ctx context.Context, path string, data []byte, precondition Precondition) (string, error)

	// Download returns the object at path, or ErrNotFound.
	Download(ctx context.Context, path string) (Object, error)

	// LatestCursor returns a cursor positioned after every change so
	// far in the tree rooted at folder. A missing folder is
	// ErrNotFound.
	LatestCursor(ctx context.Context, folder string) (string, error)

	// LongPoll waits up to timeout for changes after cursor. It
	// returns early when ctx is done.
	LongPoll(ctx context.Context, cursor string, timeout time.Duration) (PollResult, error)

	// ListChanges returns the changes after cursor and a cursor
	// positioned after them.
	ListChanges(ctx context.Context, cursor string) ([]Entry, string, error)

	// CreateFolder creates a folder. An existing folder is
	// ErrAlreadyExists.
	CreateFolder(ctx context.Context, path string) error

	// ShareFolder grants recipients access to a folder. A folder that
	// was already shared is ErrAlreadyShared.
	ShareFolder(ctx context.Context, path string, recipients []string) error
}

// Clean normalizes a storage path: absolute, slash-separated, no
// trailing slash.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// SamePath compares storage paths case-insensitively.
func SamePath(a, b string) bool {
	return strings.EqualFold(Clean(a), Clean(b))
}

// Within reports whether p is folder or inside it, ignoring case.
func Within(p, folder string) bool {
	p, folder = strings.ToLower(Clean(p)), strings.ToLower(Clean(folder))
	if folder == "/" {
		return true
	}
	return p == folder || strings.HasPrefix(p, folder+"/")
}
