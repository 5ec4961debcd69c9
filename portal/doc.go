// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package portal is a client's connection to the relay, bound to one
// room.
//
// Open dials the relay, waits for the init-room acknowledgement (which
// carries the connection's socket ID), joins the room, and announces
// the username. From then on a read goroutine decodes relay frames and
// calls the registered [Handlers].
//
// Broadcast payloads are sealed with the room key (purpose
// roomkey.Relay) before they leave the client and opened on receipt.
// A payload that fails to open or decode is dropped with a warning;
// the connection stays up. The relay only ever sees ciphertext and
// routing metadata.
//
// Close is idempotent. It closes the socket, clears the handlers, and
// waits for the read goroutine, so no handler runs after Close
// returns. Handlers must therefore not call Close themselves.
package portal
