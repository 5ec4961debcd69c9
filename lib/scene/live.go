// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import "sync"

// Surface is the editing collaborator: the thing that renders the
// scene and owns element versioning. Sketchroom only reads the
// current elements and replaces them wholesale with a merge result.
type Surface interface {
	Elements() []Element
	ApplyElements(elements []Element)
}

// FileSink is implemented by surfaces that display embedded images.
type FileSink interface {
	AddFiles(files []File)
}

// Live serializes every merge into a Surface. Elements always reads
// the surface itself, so callers never act on a stale copy.
type Live struct {
	mu      sync.Mutex
	surface Surface
}

// NewLive wraps surface.
func NewLive(surface Surface) *Live {
	return &Live{surface: surface}
}

// Elements returns the surface's current elements.
func (l *Live) Elements() []Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.surface.Elements()
}

// Merge reconciles remote against the current elements, applies the
// result, and returns it. An empty remote set is a no-op.
func (l *Live) Merge(remote []Element) []Element {
	l.mu.Lock()
	defer l.mu.Unlock()
	local := l.surface.Elements()
	if len(remote) == 0 {
		return local
	}
	merged := Reconcile(local, remote)
	l.surface.ApplyElements(merged)
	return merged
}

// AddFiles forwards files to the surface when it accepts them.
func (l *Live) AddFiles(files []File) {
	sink, ok := l.surface.(FileSink)
	if !ok || len(files) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sink.AddFiles(files)
}
