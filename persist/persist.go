// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/sketchroom/sketchroom/lib/clock"
	"github.com/sketchroom/sketchroom/lib/packing"
	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/sharelink"
	"github.com/sketchroom/sketchroom/store"
)

// SceneObject is the name of the scene object inside a room folder.
const SceneObject = "scene.enc"

// DefaultAttempts bounds save attempts when Options.Attempts is zero.
const DefaultAttempts = 3

// ErrSaveExhausted reports a save that kept conflicting with other
// writers until the attempt bound.
var ErrSaveExhausted = errors.New("persist: save attempts exhausted")

// Options configures a Persister.
type Options struct {
	// Backend is the durable store. Required.
	Backend store.Backend

	// RoomsFolder holds one folder per room. Default: "rooms".
	RoomsFolder string

	// Compression names the packing algorithm for stored objects.
	// Empty means zstd.
	Compression string

	// Attempts bounds save attempts on revision conflicts. Zero means
	// DefaultAttempts.
	Attempts int

	// Clock stamps file metadata. Nil means the real clock.
	Clock clock.Clock

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger
}

// Persister saves and loads scenes. It remembers, per room, the
// revision and scene it last saved or loaded.
type Persister struct {
	backend     store.Backend
	roomsFolder string
	compression packing.Algorithm
	attempts    int
	clock       clock.Clock
	logger      *slog.Logger

	mu    sync.Mutex
	saved map[string]savedScene
}

// savedScene is the last scene this client persisted or loaded for a
// room.
type savedScene struct {
	revision  string
	version   int64
	signature string
}

// New creates a Persister.
func New(options Options) (*Persister, error) {
	if options.Backend == nil {
		return nil, errors.New("persist: Backend is required")
	}
	if options.RoomsFolder == "" {
		options.RoomsFolder = "rooms"
	}
	compression, err := packing.ParseAlgorithm(options.Compression)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	if options.Attempts <= 0 {
		options.Attempts = DefaultAttempts
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Persister{
		backend:     options.Backend,
		roomsFolder: store.Clean(options.RoomsFolder),
		compression: compression,
		attempts:    options.Attempts,
		clock:       options.Clock,
		logger:      options.Logger,
		saved:       make(map[string]savedScene),
	}, nil
}

// Backend returns the durable store the persister writes to.
func (p *Persister) Backend() store.Backend {
	return p.backend
}

// RoomFolder returns the folder holding a room's objects.
func (p *Persister) RoomFolder(roomID string) (string, error) {
	if err := sharelink.ValidateRoomID(roomID); err != nil {
		return "", fmt.Errorf("persist: %w", err)
	}
	return store.Clean(p.roomsFolder + "/" + roomID), nil
}

// ScenePath returns the path of a room's scene object.
func (p *Persister) ScenePath(roomID string) (string, error) {
	folder, err := p.RoomFolder(roomID)
	if err != nil {
		return "", err
	}
	return folder + "/" + SceneObject, nil
}

// CreateRoom creates the room folder and its files folder. Folders
// that already exist are not an error.
func (p *Persister) CreateRoom(ctx context.Context, roomID string) error {
	folder, err := p.RoomFolder(roomID)
	if err != nil {
		return err
	}
	for _, path := range []string{folder, folder + "/files"} {
		if err := p.backend.CreateFolder(ctx, path); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("persist: creating %s: %w", path, err)
		}
	}
	p.logger.Info("created room folder", "room_id", roomID, "folder", folder)
	return nil
}

// ShareRoom grants recipients access to the room folder. A folder
// that was already shared still gets the new recipients.
func (p *Persister) ShareRoom(ctx context.Context, roomID string, recipients []string) error {
	folder, err := p.RoomFolder(roomID)
	if err != nil {
		return err
	}
	if err := p.backend.ShareFolder(ctx, folder, recipients); err != nil && !errors.Is(err, store.ErrAlreadyShared) {
		return fmt.Errorf("persist: sharing %s: %w", folder, err)
	}
	return nil
}

// Save persists elements for a room and returns the scene that was
// written: elements reconciled against whatever was stored.
func (p *Persister) Save(ctx context.Context, roomID string, key roomkey.Key, elements []scene.Element) ([]scene.Element, error) {
	scenePath, err := p.ScenePath(roomID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		merged, revision, err := p.saveOnce(ctx, scenePath, key, elements)
		if err == nil {
			p.record(roomID, revision, merged)
			p.logger.Debug("saved scene",
				"room_id", roomID,
				"revision", revision,
				"version", scene.Version(merged),
				"attempt", attempt,
			)
			return merged, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
		p.logger.Debug("scene save conflicted, retrying",
			"room_id", roomID,
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: room %s after %d attempts: %w", ErrSaveExhausted, roomID, p.attempts, lastErr)
}

// saveOnce runs one read-reconcile-upload cycle.
func (p *Persister) saveOnce(ctx context.Context, scenePath string, key roomkey.Key, elements []scene.Element) ([]scene.Element, string, error) {
	precondition := store.IfAbsent()
	merged := elements
	var appState json.RawMessage

	object, err := p.backend.Download(ctx, scenePath)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, "", fmt.Errorf("persist: reading %s: %w", scenePath, err)
	default:
		stored, err := p.decodeScene(key, object.Data)
		if err != nil {
			return nil, "", fmt.Errorf("persist: reading %s: %w", scenePath, err)
		}
		merged = scene.Reconcile(elements, scene.Restore(stored.Elements))
		appState = stored.AppState
		precondition = store.IfRevision(object.Revision)
	}

	document := scene.NewDocument(merged)
	document.AppState = appState
	blob, err := p.encodeScene(key, document)
	if err != nil {
		return nil, "", err
	}
	revision, err := p.backend.Upload(ctx, scenePath, blob, precondition)
	if err != nil {
		return nil, "", fmt.Errorf("persist: writing %s: %w", scenePath, err)
	}
	return merged, revision, nil
}

// Load returns the stored scene with invalid elements removed, and
// records it as the room's baseline. A room with no stored scene
// returns nil and no error.
func (p *Persister) Load(ctx context.Context, roomID string, key roomkey.Key) ([]scene.Element, error) {
	scenePath, err := p.ScenePath(roomID)
	if err != nil {
		return nil, err
	}
	object, err := p.backend.Download(ctx, scenePath)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: reading %s: %w", scenePath, err)
	}
	stored, err := p.decodeScene(key, object.Data)
	if err != nil {
		return nil, fmt.Errorf("persist: reading %s: %w", scenePath, err)
	}
	elements := scene.Restore(stored.Elements)
	p.record(roomID, object.Revision, elements)
	return elements, nil
}

// Decode opens a scene object downloaded by a caller that watches the
// store directly, returning its valid elements.
func (p *Persister) Decode(key roomkey.Key, data []byte) ([]scene.Element, error) {
	stored, err := p.decodeScene(key, data)
	if err != nil {
		return nil, err
	}
	return scene.Restore(stored.Elements), nil
}

// IsSceneSaved reports whether elements match the scene last saved or
// loaded for the room. Comparing the scene version alone misses edits
// below the highest version, so the per-element versions are compared
// too.
func (p *Persister) IsSceneSaved(roomID string, elements []scene.Element) bool {
	p.mu.Lock()
	saved, ok := p.saved[roomID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return saved.version == scene.Version(elements) && saved.signature == signature(elements)
}

// Forget drops the room's baseline, as when a session ends.
func (p *Persister) Forget(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, roomID)
}

func (p *Persister) record(roomID, revision string, elements []scene.Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[roomID] = savedScene{
		revision:  revision,
		version:   scene.Version(elements),
		signature: signature(elements),
	}
}

func (p *Persister) encodeScene(key roomkey.Key, document scene.Document) ([]byte, error) {
	plaintext, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("persist: encoding scene: %w", err)
	}
	return p.seal(key, plaintext)
}

func (p *Persister) decodeScene(key roomkey.Key, blob []byte) (scene.Document, error) {
	plaintext, err := p.open(key, blob)
	if err != nil {
		return scene.Document{}, err
	}
	var document scene.Document
	if err := json.Unmarshal(plaintext, &document); err != nil {
		return scene.Document{}, fmt.Errorf("persist: decoding scene: %w", err)
	}
	return document, nil
}

func (p *Persister) seal(key roomkey.Key, plaintext []byte) ([]byte, error) {
	packed, err := packing.Pack(plaintext, p.compression)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return key.Seal(roomkey.Storage, packed)
}

func (p *Persister) open(key roomkey.Key, blob []byte) ([]byte, error) {
	packed, err := key.Open(roomkey.Storage, blob)
	if err != nil {
		return nil, err
	}
	plaintext, err := packing.Unpack(packed)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return plaintext, nil
}

// signature digests the (id, version, nonce) of every element.
func signature(elements []scene.Element) string {
	hasher := blake3.New()
	var number [8]byte
	for _, element := range elements {
		hasher.Write([]byte(element.ID))
		hasher.Write([]byte{0})
		binary.BigEndian.PutUint64(number[:], uint64(element.Version))
		hasher.Write(number[:])
		binary.BigEndian.PutUint64(number[:], uint64(element.VersionNonce))
		hasher.Write(number[:])
	}
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}
