// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule provides a cancel-and-reschedule task: one logical
// timer with at most one pending run at any instant.
//
// A [Task] wraps a function and a [clock.Clock]. Two scheduling modes
// cover sketchroom's timers:
//
//   - [Task.Schedule] debounces: any pending run is cancelled and a
//     new one is set d from now. The local cache uses this so rapid
//     edits coalesce into one write after the edits stop.
//   - [Task.ScheduleIfIdle] throttles: a run is set only when none is
//     pending. The session controller uses this so the first local
//     edit opens a save window and later edits in that window ride
//     along with the same save.
//
// Runs never overlap. [Task.Flush] runs a pending task immediately on
// the caller's goroutine and waits for a run already in progress, so
// after Flush returns no scheduled work is outstanding. [Task.Cancel]
// drops a pending run without executing it.
package schedule
