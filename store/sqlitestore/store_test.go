// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sketchroom/sketchroom/lib/testutil"
	"github.com/sketchroom/sketchroom/store"
	"github.com/sketchroom/sketchroom/store/storetest"
)

func openTestStore(t *testing.T, databasePath string, options Options) *Store {
	t.Helper()
	options.Path = databasePath
	s, err := Open(options)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestConformance(t *testing.T) {
	var current *Store
	storetest.Run(t, func(t *testing.T) store.Backend {
		current = openTestStore(t, filepath.Join(t.TempDir(), "store.db"), Options{PollInterval: 20 * time.Millisecond})
		return current
	}, storetest.Options{
		IdlePollTimeout: 100 * time.Millisecond,
		ExpireCursors: func() {
			if err := current.ExpireCursors(context.Background()); err != nil {
				panic(err)
			}
		},
	})
}

func TestRetainTrimsCursors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"), Options{Retain: 2})
	if err := s.CreateFolder(ctx, "/rooms/r"); err != nil {
		t.Fatal(err)
	}
	cursor, err := s.LatestCursor(ctx, "/rooms/r")
	if err != nil {
		t.Fatal(err)
	}
	for range 4 {
		if _, err := s.Upload(ctx, "/rooms/r/scene.enc", []byte("x"), store.Always()); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := s.ListChanges(ctx, cursor); !errors.Is(err, store.ErrCursorReset) {
		t.Fatalf("ListChanges = %v, want ErrCursorReset", err)
	}
}

func TestSharedFileAcrossStores(t *testing.T) {
	ctx := context.Background()
	databasePath := filepath.Join(t.TempDir(), "store.db")
	reader := openTestStore(t, databasePath, Options{PollInterval: 20 * time.Millisecond})
	writer := openTestStore(t, databasePath, Options{})

	if err := writer.CreateFolder(ctx, "/rooms/r"); err != nil {
		t.Fatal(err)
	}
	cursor, err := reader.LatestCursor(ctx, "/rooms/r")
	if err != nil {
		t.Fatalf("LatestCursor through the second store: %v", err)
	}

	type outcome struct {
		result store.PollResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := reader.LongPoll(ctx, cursor, 10*time.Second)
		done <- outcome{result, err}
	}()

	revision, err := writer.Upload(ctx, "/rooms/r/scene.enc", []byte("shared"), store.IfAbsent())
	if err != nil {
		t.Fatal(err)
	}
	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for cross-store poll")
	if got.err != nil || !got.result.Changed {
		t.Fatalf("LongPoll = %+v, %v; want changed", got.result, got.err)
	}

	object, err := reader.Download(ctx, "/rooms/r/scene.enc")
	if err != nil {
		t.Fatal(err)
	}
	if string(object.Data) != "shared" || object.Revision != revision {
		t.Errorf("Download = %q@%s, want shared@%s", object.Data, object.Revision, revision)
	}
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.db"), Options{})
	if err := s.CreateFolder(ctx, "/rooms/r"); err != nil {
		t.Fatal(err)
	}
	if err := s.ShareFolder(ctx, "/rooms/r", []string{"a@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ShareFolder(ctx, "/rooms/r", []string{"b@example.com", "a@example.com"}); !errors.Is(err, store.ErrAlreadyShared) {
		t.Fatalf("second ShareFolder = %v, want ErrAlreadyShared", err)
	}
	members, err := s.Members(ctx, "/rooms/r")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != "a@example.com" || members[1] != "b@example.com" {
		t.Errorf("members = %v, want [a@example.com b@example.com]", members)
	}
	if err := s.ShareFolder(ctx, "/rooms/missing", []string{"a@example.com"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ShareFolder on a missing folder = %v, want ErrNotFound", err)
	}
}

func TestParseCursor(t *testing.T) {
	original := cursor{sequence: 42, folder: "/rooms/a:b"}
	parsed, err := parseCursor(original.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != original {
		t.Errorf("parseCursor = %+v, want %+v", parsed, original)
	}
	for _, bad := range []string{"", "mem1:0:/", "sqlite1:x:/", "sqlite1:-1:/", "sqlite1:3:"} {
		if _, err := parseCursor(bad); !errors.Is(err, store.ErrCursorReset) {
			t.Errorf("parseCursor(%q) = %v, want ErrCursorReset", bad, err)
		}
	}
}
