// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sketchroom/sketchroom/lib/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduleDebounces(t *testing.T) {
	fake := clock.Fake(epoch)
	var runs atomic.Int32
	task := New(fake, func() { runs.Add(1) })

	task.Schedule(300 * time.Millisecond)
	fake.Advance(200 * time.Millisecond)
	task.Schedule(300 * time.Millisecond)
	fake.Advance(200 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("ran %d times before the debounce window closed", runs.Load())
	}
	if fake.PendingCount() != 1 {
		t.Fatalf("pending timers = %d, want 1", fake.PendingCount())
	}

	fake.Advance(100 * time.Millisecond)
	if runs.Load() != 1 {
		t.Fatalf("ran %d times, want 1", runs.Load())
	}
	if task.Pending() {
		t.Error("task still pending after firing")
	}
}

func TestScheduleIfIdleThrottles(t *testing.T) {
	fake := clock.Fake(epoch)
	var runs atomic.Int32
	task := New(fake, func() { runs.Add(1) })

	if !task.ScheduleIfIdle(20 * time.Second) {
		t.Fatal("first ScheduleIfIdle did not schedule")
	}
	for range 5 {
		fake.Advance(time.Second)
		if task.ScheduleIfIdle(20 * time.Second) {
			t.Fatal("ScheduleIfIdle scheduled while a run was pending")
		}
	}
	fake.Advance(15 * time.Second)
	if runs.Load() != 1 {
		t.Fatalf("ran %d times, want 1", runs.Load())
	}
	if !task.ScheduleIfIdle(20 * time.Second) {
		t.Fatal("ScheduleIfIdle did not open a new window after firing")
	}
}

func TestCancel(t *testing.T) {
	fake := clock.Fake(epoch)
	var runs atomic.Int32
	task := New(fake, func() { runs.Add(1) })

	if task.Cancel() {
		t.Error("Cancel reported a pending run on an idle task")
	}
	task.Schedule(time.Second)
	if !task.Cancel() {
		t.Error("Cancel did not report the pending run")
	}
	fake.Advance(time.Minute)
	if runs.Load() != 0 {
		t.Fatalf("cancelled task ran %d times", runs.Load())
	}
}

func TestFlush(t *testing.T) {
	fake := clock.Fake(epoch)
	var runs atomic.Int32
	task := New(fake, func() { runs.Add(1) })

	if task.Flush() {
		t.Error("Flush ran an idle task")
	}
	task.ScheduleIfIdle(20 * time.Second)
	if !task.Flush() {
		t.Fatal("Flush did not run the pending task")
	}
	if runs.Load() != 1 {
		t.Fatalf("ran %d times, want 1", runs.Load())
	}
	fake.Advance(time.Minute)
	if runs.Load() != 1 {
		t.Fatalf("flushed run fired again from its timer")
	}
}

func TestFlushWaitsForInFlightRun(t *testing.T) {
	fake := clock.Fake(epoch)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	task := New(fake, func() {
		close(started)
		<-release
		finished.Store(true)
	})

	task.Schedule(time.Second)
	go fake.Advance(time.Second)
	<-started

	flushed := make(chan bool)
	go func() { flushed <- task.Flush() }()
	close(release)
	if <-flushed {
		t.Error("Flush reported running a task that had already fired")
	}
	if !finished.Load() {
		t.Error("Flush returned before the in-flight run finished")
	}
}

func TestFlushClaimsRunParkedBehindInFlightRun(t *testing.T) {
	fake := clock.Fake(epoch)
	var runs atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	task := New(fake, func() {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
	})

	task.Schedule(time.Second)
	go fake.Advance(time.Second)
	<-started

	// The second timer fires while the first run still executes, so its
	// callback waits for the running lock.
	task.Schedule(time.Second)
	secondFired := make(chan struct{})
	go func() {
		fake.Advance(time.Second)
		close(secondFired)
	}()

	flushed := make(chan bool)
	go func() { flushed <- task.Flush() }()
	for task.Pending() {
		time.Sleep(time.Millisecond)
	}
	close(release)

	if !<-flushed {
		t.Fatal("Flush did not claim the run waiting behind the in-flight one")
	}
	if runs.Load() != 2 {
		t.Fatalf("runs after Flush = %d, want 2", runs.Load())
	}
	<-secondFired
	if runs.Load() != 2 {
		t.Fatalf("runs after the timer callback returned = %d, want 2", runs.Load())
	}
}
