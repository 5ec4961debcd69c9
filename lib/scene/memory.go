// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"encoding/json"
	"math/rand/v2"
	"slices"
	"sync"
)

// Memory is an in-process Surface. The headless client uses it as its
// editor, and tests use it as a participant's screen. Upsert and
// Delete behave like an editor's local mutations: each bumps the
// element's version and draws a fresh nonce.
type Memory struct {
	mu       sync.Mutex
	elements []Element
	files    map[string]File
	onApply  func([]Element)
}

// NewMemory returns a surface holding a copy of initial.
func NewMemory(initial []Element) *Memory {
	return &Memory{
		elements: slices.Clone(initial),
		files:    make(map[string]File),
	}
}

// OnApply registers a function called after every ApplyElements with
// the applied elements. It runs with the surface unlocked.
func (m *Memory) OnApply(callback func([]Element)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onApply = callback
}

// Elements returns a copy of the current elements.
func (m *Memory) Elements() []Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.elements)
}

// ApplyElements replaces the current elements.
func (m *Memory) ApplyElements(elements []Element) {
	m.mu.Lock()
	m.elements = slices.Clone(elements)
	callback := m.onApply
	m.mu.Unlock()
	if callback != nil {
		callback(slices.Clone(elements))
	}
}

// AddFiles records embedded files by id.
func (m *Memory) AddFiles(files []File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, file := range files {
		m.files[file.ID] = file
	}
}

// File returns a file previously added.
func (m *Memory) File(id string) (File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	return file, ok
}

// Upsert creates or edits an element and returns the whole scene
// after the edit.
func (m *Memory) Upsert(id string, payload json.RawMessage) []Element {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		m.elements = append(m.elements, Element{ID: id})
		index = len(m.elements) - 1
	}
	element := &m.elements[index]
	element.Version++
	element.VersionNonce = rand.Int64N(1 << 31)
	element.IsDeleted = false
	element.Payload = slices.Clone(payload)
	return slices.Clone(m.elements)
}

// Delete soft-deletes an element. It reports false when the id is
// unknown.
func (m *Memory) Delete(id string) ([]Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index := m.indexLocked(id)
	if index < 0 {
		return slices.Clone(m.elements), false
	}
	element := &m.elements[index]
	element.Version++
	element.VersionNonce = rand.Int64N(1 << 31)
	element.IsDeleted = true
	return slices.Clone(m.elements), true
}

func (m *Memory) indexLocked(id string) int {
	return slices.IndexFunc(m.elements, func(element Element) bool {
		return element.ID == id
	})
}
