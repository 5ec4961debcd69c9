// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package scene defines the whiteboard data model and the element
// reconciler.
//
// An [Element] is a fixed envelope around an opaque payload: the
// id, version, versionNonce, and isDeleted fields are lifted out of
// the element's JSON object and everything else is carried through
// byte-for-byte in Payload. Nothing in sketchroom interprets the
// payload except [FileIDs], which looks for image file references.
//
// [Reconcile] is the single merge function for every delivery path.
// It is pure and stateless. For each element id the winner is the
// element with the higher version; equal versions resolve to the
// lower versionNonce, and an exact (version, versionNonce) match
// keeps the local element. The winner therefore depends only on the
// two elements, not on which side is local, and peers that have seen
// the same elements hold the same set after merging.
//
// [Live] wraps the editing surface as the single mutation point for
// merged scenes. Relay deliveries, durable-store deliveries, and the
// initial load all go through [Live.Merge], which reads the current
// elements, reconciles, and applies the result under one lock.
package scene
