// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"sync"
	"time"

	"github.com/sketchroom/sketchroom/lib/clock"
)

// Task is a function with at most one pending scheduled run.
type Task struct {
	clock clock.Clock
	run   func()

	mu         sync.Mutex
	timer      *clock.Timer
	generation uint64
	pending    bool

	// running serializes executions of run.
	running sync.Mutex
}

// New returns an idle task that calls run when it fires.
func New(c clock.Clock, run func()) *Task {
	return &Task{clock: c, run: run}
}

// Schedule cancels any pending run and schedules a new one d from
// now.
func (t *Task) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.armLocked(d)
}

// ScheduleIfIdle schedules a run d from now unless one is already
// pending. It reports whether a new run was scheduled.
func (t *Task) ScheduleIfIdle(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending {
		return false
	}
	t.armLocked(d)
	return true
}

// Pending reports whether a run is scheduled.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Cancel drops the pending run, if any, and reports whether there was
// one.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked()
}

// Flush runs the pending run now, if any, and reports whether it did.
// It first waits for a run already executing on the timer goroutine.
func (t *Task) Flush() bool {
	t.mu.Lock()
	wasPending := t.cancelLocked()
	t.mu.Unlock()

	t.running.Lock()
	defer t.running.Unlock()
	if wasPending {
		t.run()
	}
	return wasPending
}

func (t *Task) armLocked(d time.Duration) {
	t.generation++
	generation := t.generation
	t.pending = true
	t.timer = t.clock.AfterFunc(d, func() { t.fire(generation) })
}

func (t *Task) cancelLocked() bool {
	if !t.pending {
		return false
	}
	t.pending = false
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return true
}

// fire runs the task if generation is still the current pending run.
// A timer that fired concurrently with Cancel, Schedule or Flush finds
// a newer generation and does nothing. running is held across the
// check so a run never stays pending-but-invisible to Flush.
func (t *Task) fire(generation uint64) {
	t.running.Lock()
	defer t.running.Unlock()

	t.mu.Lock()
	if !t.pending || t.generation != generation {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.mu.Unlock()

	t.run()
}
