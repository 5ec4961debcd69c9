// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sketchroom/sketchroom/lib/roomkey"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/store"
)

// fileMetadata is the sealed sidecar stored next to each file.
type fileMetadata struct {
	MimeType      string `json:"mimeType"`
	Created       int64  `json:"created"`
	LastRetrieved int64  `json:"lastRetrieved"`
}

// FilePath returns the path of an embedded file's object.
func (p *Persister) FilePath(roomID, fileID string) (string, error) {
	folder, err := p.RoomFolder(roomID)
	if err != nil {
		return "", err
	}
	if fileID == "" || fileID == "." || fileID == ".." || strings.ContainsAny(fileID, `/\`) {
		return "", fmt.Errorf("persist: invalid file id %q", fileID)
	}
	return folder + "/files/" + fileID + ".enc", nil
}

// SaveFiles stores files for a room, overwriting earlier copies. It
// returns the ids that were saved and the ids that failed; failures
// are logged and do not stop the remaining files.
func (p *Persister) SaveFiles(ctx context.Context, roomID string, key roomkey.Key, files []scene.File) (saved, failed []string) {
	for _, file := range files {
		if err := p.saveFile(ctx, roomID, key, file); err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("saving file failed", "room_id", roomID, "file_id", file.ID, "error", err)
			}
			failed = append(failed, file.ID)
			continue
		}
		saved = append(saved, file.ID)
	}
	return saved, failed
}

func (p *Persister) saveFile(ctx context.Context, roomID string, key roomkey.Key, file scene.File) error {
	path, err := p.FilePath(roomID, file.ID)
	if err != nil {
		return err
	}
	created := file.Created
	if created == 0 {
		created = p.clock.Now().UnixMilli()
	}
	metadata, err := json.Marshal(fileMetadata{
		MimeType:      file.MimeType,
		Created:       created,
		LastRetrieved: file.LastRetrieved,
	})
	if err != nil {
		return fmt.Errorf("persist: encoding file metadata: %w", err)
	}

	sealedData, err := p.seal(key, file.Data)
	if err != nil {
		return err
	}
	sealedMetadata, err := p.seal(key, metadata)
	if err != nil {
		return err
	}
	if _, err := p.backend.Upload(ctx, path, sealedData, store.Always()); err != nil {
		return fmt.Errorf("persist: writing %s: %w", path, err)
	}
	if _, err := p.backend.Upload(ctx, path+".meta", sealedMetadata, store.Always()); err != nil {
		return fmt.Errorf("persist: writing %s.meta: %w", path, err)
	}
	return nil
}

// LoadFiles fetches files by id. Files that are not stored, or that
// fail to download or open, are returned in failed; only unexpected
// failures are logged. LastRetrieved is set to now.
func (p *Persister) LoadFiles(ctx context.Context, roomID string, key roomkey.Key, fileIDs []string) (loaded []scene.File, failed []string) {
	for _, fileID := range fileIDs {
		file, err := p.loadFile(ctx, roomID, key, fileID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				p.logger.Warn("loading file failed", "room_id", roomID, "file_id", fileID, "error", err)
			}
			failed = append(failed, fileID)
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded, failed
}

func (p *Persister) loadFile(ctx context.Context, roomID string, key roomkey.Key, fileID string) (scene.File, error) {
	path, err := p.FilePath(roomID, fileID)
	if err != nil {
		return scene.File{}, err
	}
	object, err := p.backend.Download(ctx, path)
	if err != nil {
		return scene.File{}, fmt.Errorf("persist: reading %s: %w", path, err)
	}
	data, err := p.open(key, object.Data)
	if err != nil {
		return scene.File{}, fmt.Errorf("persist: reading %s: %w", path, err)
	}

	file := scene.File{ID: fileID, Data: data, LastRetrieved: p.clock.Now().UnixMilli()}
	metaObject, err := p.backend.Download(ctx, path+".meta")
	switch {
	case errors.Is(err, store.ErrNotFound):
		file.MimeType = "application/octet-stream"
	case err != nil:
		return scene.File{}, fmt.Errorf("persist: reading %s.meta: %w", path, err)
	default:
		plaintext, err := p.open(key, metaObject.Data)
		if err != nil {
			return scene.File{}, fmt.Errorf("persist: reading %s.meta: %w", path, err)
		}
		var metadata fileMetadata
		if err := json.Unmarshal(plaintext, &metadata); err != nil {
			return scene.File{}, fmt.Errorf("persist: decoding %s.meta: %w", path, err)
		}
		file.MimeType = metadata.MimeType
		file.Created = metadata.Created
	}
	return file, nil
}
