// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package redisstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/store"
)

// Options configures a Store.
type Options struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Prefix namespaces every key. Default: "sketchroom".
	Prefix string

	// StreamLength caps the change stream. Cursors older than the
	// retained entries fail with store.ErrCursorReset. Default: 10000.
	StreamLength int64

	// Clock bounds long polls. Nil means the real clock.
	Clock clock.Clock

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Store is a store.Backend backed by Redis.
type Store struct {
	client       redis.UniversalClient
	prefix       string
	streamLength int64
	clock        clock.Clock
	logger       *slog.Logger
}

var _ store.Backend = (*Store)(nil)

// New returns a Store using options.Client.
func New(options Options) (*Store, error) {
	if options.Client == nil {
		return nil, errors.New("redisstore: Client is required")
	}
	if options.Prefix == "" {
		options.Prefix = "sketchroom"
	}
	if options.StreamLength <= 0 {
		options.StreamLength = 10000
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Store{
		client:       options.Client,
		prefix:       options.Prefix,
		streamLength: options.StreamLength,
		clock:        options.Clock,
		logger:       options.Logger,
	}, nil
}

func (s *Store) objectKey(p string) string { return s.prefix + ":object:" + p }
func (s *Store) foldersKey() string        { return s.prefix + ":folders" }
func (s *Store) sharedKey() string         { return s.prefix + ":shared" }
func (s *Store) membersKey(p string) string {
	return s.prefix + ":members:" + p
}
func (s *Store) streamKey() string   { return s.prefix + ":changes" }
func (s *Store) sequenceKey() string { return s.prefix + ":seq" }

// Upload implements store.Backend.
func (s *Store) Upload(ctx context.Context, objectPath string, data []byte, precondition store.Precondition) (string, error) {
	objectPath = store.Clean(objectPath)
	mode := "create"
	switch {
	case precondition.Overwrite:
		mode = "overwrite"
	case precondition.Revision != "":
		mode = "update"
	}
	revision := newRevision(data)

	args := []any{s.streamLength, mode, precondition.Revision, revision, data, objectPath}
	args = append(args, parents(objectPath)...)
	result, err := uploadScript.Run(ctx, s.client,
		[]string{s.objectKey(objectPath), s.streamKey(), s.sequenceKey(), s.foldersKey()},
		args...).StringSlice()
	if err != nil {
		return "", fmt.Errorf("redisstore: upload %s: %w", objectPath, err)
	}
	if len(result) != 2 {
		return "", fmt.Errorf("redisstore: upload %s: unexpected script result %v", objectPath, result)
	}
	switch result[0] {
	case "ok":
		return result[1], nil
	case "conflict":
		return "", &store.ConflictError{Path: objectPath, Expected: precondition.Revision, Actual: result[1]}
	case "folder":
		return "", fmt.Errorf("redisstore: %s is a folder", objectPath)
	default:
		return "", fmt.Errorf("redisstore: upload %s: unexpected script status %q", objectPath, result[0])
	}
}

// Download implements store.Backend.
func (s *Store) Download(ctx context.Context, objectPath string) (store.Object, error) {
	objectPath = store.Clean(objectPath)
	fields, err := s.client.HGetAll(ctx, s.objectKey(objectPath)).Result()
	if err != nil {
		return store.Object{}, fmt.Errorf("redisstore: download %s: %w", objectPath, err)
	}
	revision, ok := fields["rev"]
	if !ok {
		return store.Object{}, fmt.Errorf("%w: %s", store.ErrNotFound, objectPath)
	}
	return store.Object{Data: []byte(fields["data"]), Revision: revision}, nil
}

// LatestCursor implements store.Backend.
func (s *Store) LatestCursor(ctx context.Context, folder string) (string, error) {
	folder = store.Clean(folder)
	exists, err := s.folderExists(ctx, folder)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: folder %s", store.ErrNotFound, folder)
	}

	position := cursor{streamID: "0-0", folder: folder}
	last, err := s.client.XRevRangeN(ctx, s.streamKey(), "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("redisstore: read change stream: %w", err)
	}
	if len(last) > 0 {
		position.streamID = last[0].ID
		position.sequence = messageSequence(last[0])
	} else {
		// An empty stream after trimming still has a sequence.
		counter, err := s.client.Get(ctx, s.sequenceKey()).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("redisstore: read sequence: %w", err)
		}
		position.sequence = counter
	}
	return position.String(), nil
}

// LongPoll implements store.Backend.
func (s *Store) LongPoll(ctx context.Context, encoded string, timeout time.Duration) (store.PollResult, error) {
	position, err := parseCursor(encoded)
	if err != nil {
		return store.PollResult{}, err
	}
	if err := s.checkRetained(ctx, position); err != nil {
		return store.PollResult{}, err
	}

	deadline := s.clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(s.clock.Now())
		if remaining < time.Millisecond {
			return store.PollResult{}, nil
		}
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.streamKey(), position.streamID},
			Count:   100,
			Block:   remaining,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return store.PollResult{}, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return store.PollResult{}, ctxErr
			}
			return store.PollResult{}, fmt.Errorf("redisstore: long poll: %w", err)
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				position.streamID = message.ID
				if store.Within(messageEntry(message).Path, position.folder) {
					return store.PollResult{Changed: true}, nil
				}
			}
		}
	}
}

// ListChanges implements store.Backend.
func (s *Store) ListChanges(ctx context.Context, encoded string) ([]store.Entry, string, error) {
	position, err := parseCursor(encoded)
	if err != nil {
		return nil, "", err
	}
	if err := s.checkRetained(ctx, position); err != nil {
		return nil, "", err
	}

	var entries []store.Entry
	for {
		messages, err := s.client.XRangeN(ctx, s.streamKey(), "("+position.streamID, "+", 500).Result()
		if err != nil {
			return nil, "", fmt.Errorf("redisstore: list changes: %w", err)
		}
		for _, message := range messages {
			position.streamID = message.ID
			position.sequence = messageSequence(message)
			entry := messageEntry(message)
			if store.Within(entry.Path, position.folder) {
				entries = append(entries, entry)
			}
		}
		if len(messages) < 500 {
			return entries, position.String(), nil
		}
	}
}

// CreateFolder implements store.Backend.
func (s *Store) CreateFolder(ctx context.Context, folder string) error {
	folder = store.Clean(folder)
	if folder == "/" {
		return fmt.Errorf("%w: folder /", store.ErrAlreadyExists)
	}
	args := append([]any{s.streamLength, folder}, parents(folder)...)
	status, err := createFolderScript.Run(ctx, s.client,
		[]string{s.objectKey(folder), s.streamKey(), s.sequenceKey(), s.foldersKey()},
		args...).Text()
	if err != nil {
		return fmt.Errorf("redisstore: create folder %s: %w", folder, err)
	}
	if status == "exists" {
		return fmt.Errorf("%w: folder %s", store.ErrAlreadyExists, folder)
	}
	return nil
}

// ShareFolder implements store.Backend.
func (s *Store) ShareFolder(ctx context.Context, folder string, recipients []string) error {
	folder = store.Clean(folder)
	exists, err := s.folderExists(ctx, folder)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: folder %s", store.ErrNotFound, folder)
	}

	var added *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.SAdd(ctx, s.sharedKey(), folder)
		if len(recipients) > 0 {
			members := make([]any, len(recipients))
			for i, recipient := range recipients {
				members[i] = recipient
			}
			pipe.SAdd(ctx, s.membersKey(folder), members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: share folder %s: %w", folder, err)
	}
	if added.Val() == 0 {
		return fmt.Errorf("%w: folder %s", store.ErrAlreadyShared, folder)
	}
	s.logger.Info("shared folder", "folder", folder, "recipients", len(recipients))
	return nil
}

// Members returns the recipients a folder was shared with.
func (s *Store) Members(ctx context.Context, folder string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.membersKey(store.Clean(folder))).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: members of %s: %w", folder, err)
	}
	return members, nil
}

func (s *Store) folderExists(ctx context.Context, folder string) (bool, error) {
	if folder == "/" {
		return true, nil
	}
	exists, err := s.client.SIsMember(ctx, s.foldersKey(), folder).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: check folder %s: %w", folder, err)
	}
	return exists, nil
}

// checkRetained fails with store.ErrCursorReset when entries after
// the cursor have been trimmed from the stream.
func (s *Store) checkRetained(ctx context.Context, position cursor) error {
	first, err := s.client.XRangeN(ctx, s.streamKey(), "-", "+", 1).Result()
	if err != nil {
		return fmt.Errorf("redisstore: read change stream: %w", err)
	}
	var oldest uint64
	if len(first) > 0 {
		oldest = messageSequence(first[0])
	} else {
		counter, err := s.client.Get(ctx, s.sequenceKey()).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redisstore: read sequence: %w", err)
		}
		oldest = counter + 1
	}
	if position.sequence+1 < oldest {
		return fmt.Errorf("%w: cursor at %d, stream starts at %d", store.ErrCursorReset, position.sequence, oldest)
	}
	return nil
}

// parents lists the ancestors of p, nearest first, excluding the root.
func parents(p string) []any {
	var result []any
	for parent := path.Dir(p); parent != "/"; parent = path.Dir(parent) {
		result = append(result, parent)
	}
	return result
}

func newRevision(data []byte) string {
	hasher := blake3.New()
	hasher.Write(data)
	nonce := uuid.New()
	hasher.Write(nonce[:])
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

func messageSequence(message redis.XMessage) uint64 {
	sequence, _ := strconv.ParseUint(fmt.Sprint(message.Values["seq"]), 10, 64)
	return sequence
}

func messageEntry(message redis.XMessage) store.Entry {
	field := func(name string) string {
		value, _ := message.Values[name].(string)
		return value
	}
	return store.Entry{
		Kind:     store.EntryKind(field("kind")),
		Path:     field("path"),
		Revision: field("rev"),
	}
}

// cursor is a position in the change stream scoped to a folder.
type cursor struct {
	sequence uint64
	streamID string
	folder   string
}

const cursorPrefix = "redis1"

func (c cursor) String() string {
	return strings.Join([]string{cursorPrefix, strconv.FormatUint(c.sequence, 10), c.streamID, c.folder}, "|")
}

func parseCursor(encoded string) (cursor, error) {
	parts := strings.SplitN(encoded, "|", 4)
	if len(parts) != 4 || parts[0] != cursorPrefix || parts[2] == "" || parts[3] == "" {
		return cursor{}, fmt.Errorf("%w: malformed cursor %q", store.ErrCursorReset, encoded)
	}
	sequence, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return cursor{}, fmt.Errorf("%w: malformed cursor %q", store.ErrCursorReset, encoded)
	}
	return cursor{sequence: sequence, streamID: parts[2], folder: parts[3]}, nil
}
