// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Sketchroom-relay serves the realtime relay: clients join rooms over
// a websocket at /socket and the relay fans their encrypted broadcasts
// out to the other members. It never sees plaintext scene content.
//
// Configuration comes from the file named by --config or
// SKETCHROOM_CONFIG; the relay section sets the listen address,
// allowed origins, frame size bound, and per-connection queue depth.
// --listen overrides the configured address.
package main
