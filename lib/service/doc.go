// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the serving scaffolding shared by
// sketchroom daemons.
//
// [HTTPServer] owns a TCP listener and an http.Server: Serve binds,
// signals readiness, and on context cancellation shuts down
// gracefully. Hijacked connections such as websockets are not tracked
// by http.Server, so daemons that upgrade connections register an
// OnShutdown hook to close them.
package service
