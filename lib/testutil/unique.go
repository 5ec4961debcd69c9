// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// tests need room ids or element ids that must not collide across
// tests sharing a relay or backend.
//
//	roomID := testutil.UniqueID("room")  // "room-1", "room-2", ...
//	id := testutil.UniqueID("rect")      // "rect-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
