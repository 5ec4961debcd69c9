// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomview is a read-only terminal monitor for a room. It is a
// bubbletea [Model] fed by messages: [SceneMsg] when the merged scene
// changes, [PresenceMsg] when the participant list changes, and
// [CursorMsg] and [IdleMsg] for pointer and activity updates.
// [LogHandler] routes warnings from the session into the status line.
//
// The model never talks to the network. The caller wires a session
// controller's callbacks to tea.Program.Send.
package roomview
