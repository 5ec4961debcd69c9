// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest is the conformance suite for store.Backend
// implementations.
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Backend { return newBackend(t) }, storetest.Options{})
//	}
package storetest

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sketchroom/sketchroom/lib/testutil"
	"github.com/sketchroom/sketchroom/store"
)

// Options adjusts the suite to a backend's limits.
type Options struct {
	// PollTimeout is the long-poll bound used when a change is
	// expected. Default: 5s.
	PollTimeout time.Duration

	// IdlePollTimeout is the bound used when no change is expected.
	// Zero skips the idle poll test, for backends whose minimum poll
	// is too long for a unit test.
	IdlePollTimeout time.Duration

	// ExpireCursors, when set, makes every outstanding cursor invalid.
	ExpireCursors func()
}

// Run executes the suite. newBackend returns an empty backend per
// subtest.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend, options Options) {
	if options.PollTimeout == 0 {
		options.PollTimeout = 5 * time.Second
	}

	t.Run("UploadDownload", func(t *testing.T) { testUploadDownload(t, newBackend(t)) })
	t.Run("Preconditions", func(t *testing.T) { testPreconditions(t, newBackend(t)) })
	t.Run("Folders", func(t *testing.T) { testFolders(t, newBackend(t)) })
	t.Run("ChangeFeed", func(t *testing.T) { testChangeFeed(t, newBackend(t), options) })
	t.Run("LongPollWakes", func(t *testing.T) { testLongPollWakes(t, newBackend(t), options) })
	if options.IdlePollTimeout > 0 {
		t.Run("LongPollIdle", func(t *testing.T) { testLongPollIdle(t, newBackend(t), options) })
	}
	if options.ExpireCursors != nil {
		t.Run("CursorReset", func(t *testing.T) { testCursorReset(t, newBackend(t), options) })
	}
}

func roomFolder(t *testing.T) string {
	return "/rooms/" + strings.ToLower(testutil.UniqueID("room"))
}

func testUploadDownload(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	objectPath := roomFolder(t) + "/scene.enc"

	if _, err := backend.Download(ctx, objectPath); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Download of missing object: %v, want ErrNotFound", err)
	}

	first, err := backend.Upload(ctx, objectPath, []byte("v1"), store.IfAbsent())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if first == "" {
		t.Fatal("Upload returned an empty revision")
	}
	object, err := backend.Download(ctx, objectPath)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(object.Data, []byte("v1")) || object.Revision != first {
		t.Errorf("Download = %q@%s, want v1@%s", object.Data, object.Revision, first)
	}

	// Identical content still produces a new revision.
	second, err := backend.Upload(ctx, objectPath, []byte("v1"), store.IfRevision(first))
	if err != nil {
		t.Fatalf("Upload update: %v", err)
	}
	if second == first {
		t.Error("rewrite kept the old revision")
	}

	third, err := backend.Upload(ctx, objectPath, []byte("v3"), store.Always())
	if err != nil {
		t.Fatalf("Upload overwrite: %v", err)
	}
	object, err = backend.Download(ctx, objectPath)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(object.Data) != "v3" || object.Revision != third {
		t.Errorf("Download = %q@%s, want v3@%s", object.Data, object.Revision, third)
	}
}

func testPreconditions(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	objectPath := roomFolder(t) + "/scene.enc"

	if _, err := backend.Upload(ctx, objectPath, []byte("x"), store.IfRevision("no-such-revision")); !errors.Is(err, store.ErrConflict) {
		t.Errorf("update of missing object: %v, want ErrConflict", err)
	}
	revision, err := backend.Upload(ctx, objectPath, []byte("a"), store.IfAbsent())
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	_, err = backend.Upload(ctx, objectPath, []byte("b"), store.IfAbsent())
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("create over existing object: %v, want ErrConflict", err)
	}

	if _, err := backend.Upload(ctx, objectPath, []byte("b"), store.IfRevision(revision)); err != nil {
		t.Fatalf("update at current revision: %v", err)
	}
	_, err = backend.Upload(ctx, objectPath, []byte("c"), store.IfRevision(revision))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("update at stale revision: %v, want ErrConflict", err)
	}
	object, err := backend.Download(ctx, objectPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(object.Data) != "b" {
		t.Errorf("stale update was applied: %q", object.Data)
	}
}

func testFolders(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	folder := roomFolder(t)

	if _, err := backend.LatestCursor(ctx, folder); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("cursor for missing folder: %v, want ErrNotFound", err)
	}
	if err := backend.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if err := backend.CreateFolder(ctx, folder+"/files"); err != nil {
		t.Fatalf("CreateFolder files: %v", err)
	}
	if err := backend.CreateFolder(ctx, folder); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("second CreateFolder: %v, want ErrAlreadyExists", err)
	}
	if _, err := backend.LatestCursor(ctx, folder); err != nil {
		t.Errorf("LatestCursor after create: %v", err)
	}

	if err := backend.ShareFolder(ctx, folder, []string{"ada@example.com"}); err != nil {
		t.Fatalf("ShareFolder: %v", err)
	}
	if err := backend.ShareFolder(ctx, folder, []string{"grace@example.com"}); !errors.Is(err, store.ErrAlreadyShared) {
		t.Errorf("second ShareFolder: %v, want ErrAlreadyShared", err)
	}
}

func testChangeFeed(t *testing.T, backend store.Backend, options Options) {
	ctx := context.Background()
	folder := roomFolder(t)
	other := roomFolder(t)
	for _, f := range []string{folder, other} {
		if err := backend.CreateFolder(ctx, f); err != nil {
			t.Fatalf("CreateFolder: %v", err)
		}
	}

	cursor, err := backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatalf("LatestCursor: %v", err)
	}
	entries, cursor, err := backend.ListChanges(ctx, cursor)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh cursor listed %d entries", len(entries))
	}

	if _, err := backend.Upload(ctx, other+"/scene.enc", []byte("elsewhere"), store.Always()); err != nil {
		t.Fatal(err)
	}
	revision, err := backend.Upload(ctx, folder+"/scene.enc", []byte("here"), store.Always())
	if err != nil {
		t.Fatal(err)
	}

	result, err := backend.LongPoll(ctx, cursor, options.PollTimeout)
	if err != nil {
		t.Fatalf("LongPoll: %v", err)
	}
	if !result.Changed {
		t.Fatal("LongPoll did not report the upload")
	}
	entries, next, err := backend.ListChanges(ctx, cursor)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	var sawScene bool
	for _, entry := range entries {
		if !store.Within(entry.Path, folder) {
			t.Errorf("entry %s is outside %s", entry.Path, folder)
		}
		if store.SamePath(entry.Path, folder+"/scene.enc") && entry.Kind == store.KindFile {
			sawScene = true
			if entry.Revision != "" && entry.Revision != revision {
				t.Errorf("entry revision %s, want %s", entry.Revision, revision)
			}
		}
	}
	if !sawScene {
		t.Errorf("entries %+v do not include the scene upload", entries)
	}

	entries, _, err = backend.ListChanges(ctx, next)
	if err != nil {
		t.Fatalf("ListChanges from advanced cursor: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("advanced cursor listed %d entries again", len(entries))
	}
}

func testLongPollWakes(t *testing.T, backend store.Backend, options Options) {
	ctx := context.Background()
	folder := roomFolder(t)
	if err := backend.CreateFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	cursor, err := backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}

	type outcome struct {
		result store.PollResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := backend.LongPoll(ctx, cursor, options.PollTimeout)
		done <- outcome{result, err}
	}()

	if _, err := backend.Upload(ctx, folder+"/scene.enc", []byte("wake"), store.Always()); err != nil {
		t.Fatal(err)
	}
	got := testutil.RequireReceive(t, done, options.PollTimeout+5*time.Second, "waiting for long poll")
	if got.err != nil || !got.result.Changed {
		t.Fatalf("LongPoll = %+v, %v; want changed", got.result, got.err)
	}

	// A cancelled context ends the poll.
	cancelled, cancel := context.WithCancel(ctx)
	cursor, err = backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		result, err := backend.LongPoll(cancelled, cursor, time.Hour)
		done <- outcome{result, err}
	}()
	cancel()
	got = testutil.RequireReceive(t, done, 10*time.Second, "waiting for cancelled poll")
	if got.err == nil {
		t.Fatalf("cancelled LongPoll returned %+v without error", got.result)
	}
}

func testLongPollIdle(t *testing.T, backend store.Backend, options Options) {
	ctx := context.Background()
	folder := roomFolder(t)
	if err := backend.CreateFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	cursor, err := backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	result, err := backend.LongPoll(ctx, cursor, options.IdlePollTimeout)
	if err != nil {
		t.Fatalf("LongPoll: %v", err)
	}
	if result.Changed {
		t.Error("idle LongPoll reported a change")
	}
}

func testCursorReset(t *testing.T, backend store.Backend, options Options) {
	ctx := context.Background()
	folder := roomFolder(t)
	if err := backend.CreateFolder(ctx, folder); err != nil {
		t.Fatal(err)
	}
	stale, err := backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Upload(ctx, folder+"/scene.enc", []byte("a"), store.Always()); err != nil {
		t.Fatal(err)
	}
	options.ExpireCursors()

	if _, _, err := backend.ListChanges(ctx, stale); !errors.Is(err, store.ErrCursorReset) {
		t.Errorf("ListChanges with expired cursor: %v, want ErrCursorReset", err)
	}
	if _, err := backend.LongPoll(ctx, stale, options.PollTimeout); !errors.Is(err, store.ErrCursorReset) {
		t.Errorf("LongPoll with expired cursor: %v, want ErrCursorReset", err)
	}

	fresh, err := backend.LatestCursor(ctx, folder)
	if err != nil {
		t.Fatalf("LatestCursor after reset: %v", err)
	}
	if _, err := backend.Upload(ctx, folder+"/scene.enc", []byte("b"), store.Always()); err != nil {
		t.Fatal(err)
	}
	entries, _, err := backend.ListChanges(ctx, fresh)
	if err != nil {
		t.Fatalf("ListChanges with fresh cursor: %v", err)
	}
	if !slices.ContainsFunc(entries, func(entry store.Entry) bool {
		return store.SamePath(entry.Path, folder+"/scene.enc")
	}) {
		t.Errorf("fresh cursor missed the upload: %+v", entries)
	}
}
