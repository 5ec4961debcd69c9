// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// timer in sketchroom: the session save throttle, the local cache
// debounce, the sync manager's retry delay and backoff, and the relay's
// keepalive pings.
//
// Production code holds a Clock field set to [Real]. Tests construct a
// [FakeClock] with [Fake] and drive it explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	controller := collab.New(collab.Config{Clock: fake, ...})
//	controller.LocalEdit(elements)
//	fake.WaitForTimers(1)          // the throttle timer is registered
//	fake.Advance(20 * time.Second) // the save fires deterministically
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
