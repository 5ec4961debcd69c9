// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sketchroom
// packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only place in the test suite where real wall-clock timeouts
// are used; everything under test takes a [clock.Clock].
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: room ids, element ids, and usernames that must be
// distinguishable when tests share a relay or a backend.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
