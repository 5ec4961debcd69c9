// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"encoding/json"
	"fmt"
)

// Envelope types carried inside encrypted relay broadcasts.
const (
	TypeScene  = "scene"
	TypeCursor = "cursor"
)

// Envelope is the plaintext of a relay broadcast before encryption.
// Scene envelopes carry Elements; cursor envelopes carry the pointer
// fields.
type Envelope struct {
	Type     string    `json:"type"`
	Elements []Element `json:"elements,omitempty"`

	Pointer     *Pointer        `json:"pointer,omitempty"`
	Button      string          `json:"button,omitempty"`
	SelectedIDs map[string]bool `json:"selectedIds,omitempty"`
	Username    string          `json:"username,omitempty"`
	SocketID    string          `json:"socketId,omitempty"`
}

// Pointer is a cursor position in scene coordinates.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Cursor is the collaborator-facing view of a cursor envelope.
type Cursor struct {
	Pointer     Pointer
	Button      string
	SelectedIDs map[string]bool
	Username    string
	SocketID    string
}

// SceneEnvelope builds a scene envelope.
func SceneEnvelope(elements []Element) Envelope {
	if elements == nil {
		elements = []Element{}
	}
	return Envelope{Type: TypeScene, Elements: elements}
}

// CursorEnvelope builds a cursor envelope.
func CursorEnvelope(cursor Cursor) Envelope {
	pointer := cursor.Pointer
	return Envelope{
		Type:        TypeCursor,
		Pointer:     &pointer,
		Button:      cursor.Button,
		SelectedIDs: cursor.SelectedIDs,
		Username:    cursor.Username,
		SocketID:    cursor.SocketID,
	}
}

// Cursor extracts the cursor fields of a cursor envelope.
func (e Envelope) Cursor() Cursor {
	cursor := Cursor{
		Button:      e.Button,
		SelectedIDs: e.SelectedIDs,
		Username:    e.Username,
		SocketID:    e.SocketID,
	}
	if e.Pointer != nil {
		cursor.Pointer = *e.Pointer
	}
	return cursor
}

// DecodeEnvelope parses envelope JSON and checks its type.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("scene: decoding envelope: %w", err)
	}
	switch envelope.Type {
	case TypeScene, TypeCursor:
		return envelope, nil
	default:
		return Envelope{}, fmt.Errorf("scene: unknown envelope type %q", envelope.Type)
	}
}

// Document is the stored form of a scene in the durable store and the
// scene import format.
type Document struct {
	Elements []Element `json:"elements"`
	// AppState is view state saved alongside the elements by other
	// clients. It is carried, not interpreted.
	AppState json.RawMessage `json:"appState,omitempty"`
	Version  int64           `json:"version"`
}

// NewDocument builds a document whose Version is the scene version.
func NewDocument(elements []Element) Document {
	if elements == nil {
		elements = []Element{}
	}
	return Document{Elements: elements, Version: Version(elements)}
}

// ViewState is the subset of editor view state kept in the local
// cache.
type ViewState struct {
	ViewBackgroundColor string  `json:"viewBackgroundColor,omitempty"`
	GridSize            *int    `json:"gridSize,omitempty"`
	ScrollX             float64 `json:"scrollX"`
	ScrollY             float64 `json:"scrollY"`
	Zoom                *Zoom   `json:"zoom,omitempty"`
	Theme               string  `json:"theme,omitempty"`
}

// Zoom is the editor zoom factor.
type Zoom struct {
	Value float64 `json:"value"`
}

// File is an image embedded in a scene, referenced from elements by
// its ID through the payload field "fileId".
type File struct {
	ID       string
	MimeType string
	Data     []byte
	// Created and LastRetrieved are Unix milliseconds.
	Created       int64
	LastRetrieved int64
}
