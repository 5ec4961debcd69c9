// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

// Reconcile merges remote into local. The result holds exactly the
// union of ids in both inputs: local order first, then ids only
// remote has, in remote order. Neither input is modified.
//
// Inputs are expected to have unique ids. If an id repeats within
// one input, its first occurrence is used.
func Reconcile(local, remote []Element) []Element {
	remoteByID := make(map[string]Element, len(remote))
	for _, element := range remote {
		if _, ok := remoteByID[element.ID]; !ok {
			remoteByID[element.ID] = element
		}
	}

	merged := make([]Element, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(local)+len(remote))
	for _, element := range local {
		if _, ok := seen[element.ID]; ok {
			continue
		}
		seen[element.ID] = struct{}{}
		if other, ok := remoteByID[element.ID]; ok && Wins(other, element) {
			element = other
		}
		merged = append(merged, element)
	}
	for _, element := range remote {
		if _, ok := seen[element.ID]; ok {
			continue
		}
		seen[element.ID] = struct{}{}
		merged = append(merged, element)
	}
	return merged
}

// Wins reports whether candidate replaces current. It is a strict
// order over (Version, VersionNonce): higher version wins, then lower
// nonce. Identical pairs never replace.
func Wins(candidate, current Element) bool {
	if candidate.Version != current.Version {
		return candidate.Version > current.Version
	}
	return candidate.VersionNonce < current.VersionNonce
}

// Version returns the scene version: the highest element version, or
// zero for an empty scene.
func Version(elements []Element) int64 {
	var version int64
	for _, element := range elements {
		version = max(version, element.Version)
	}
	return version
}

// Restore drops structurally invalid elements from a scene loaded
// from outside: empty ids, negative versions, and repeated ids (the
// first occurrence is kept). It returns a new slice.
func Restore(elements []Element) []Element {
	restored := make([]Element, 0, len(elements))
	seen := make(map[string]struct{}, len(elements))
	for _, element := range elements {
		if element.ID == "" || element.Version < 0 {
			continue
		}
		if _, ok := seen[element.ID]; ok {
			continue
		}
		seen[element.ID] = struct{}{}
		restored = append(restored, element)
	}
	return restored
}

// NonDeleted returns the elements that are not soft-deleted.
func NonDeleted(elements []Element) []Element {
	result := make([]Element, 0, len(elements))
	for _, element := range elements {
		if !element.IsDeleted {
			result = append(result, element)
		}
	}
	return result
}

// FileIDs returns the distinct image file ids referenced by
// non-deleted elements, in first-seen order.
func FileIDs(elements []Element) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, element := range elements {
		if element.IsDeleted {
			continue
		}
		var fileID string
		if !element.Field("fileId", &fileID) || fileID == "" {
			continue
		}
		if _, ok := seen[fileID]; ok {
			continue
		}
		seen[fileID] = struct{}{}
		ids = append(ids, fileID)
	}
	return ids
}
