// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist saves and loads room scenes in a store.Backend with
// optimistic concurrency.
//
// A save never overwrites blindly. It reads the stored scene and its
// revision, reconciles the local elements against it, and uploads the
// merge conditioned on that revision. A conflict means another client
// wrote in between; the whole cycle repeats up to a fixed number of
// attempts, after which Save returns [ErrSaveExhausted].
//
// Stored objects, under the rooms folder:
//
//	<rooms>/<roomID>/scene.enc               sealed, packed scene.Document JSON
//	<rooms>/<roomID>/files/<fileID>.enc      sealed, packed file bytes
//	<rooms>/<roomID>/files/<fileID>.enc.meta sealed file metadata JSON
//
// Every object is sealed with the room key's storage subkey, so the
// backend holds only ciphertext.
package persist
