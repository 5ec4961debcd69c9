// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package collab runs a collaboration session: one room, one relay
// connection, one durable-store watcher, and the throttled saves that
// tie them together.
//
// A [Controller] moves between Idle, Joining, and Active. Local edits
// reach other participants twice: immediately through the relay, and
// within one save window through the durable store. Remote edits
// arrive from the relay ([portal.Handlers.OnScene]) and from the
// durable store ([syncer.Manager]); both paths apply through the same
// scene.Live, which serializes every merge into the editing surface.
package collab
