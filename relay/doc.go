// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the sketchroom relay server: websocket
// fan-out and presence for rooms of collaborating clients.
//
// The relay holds no document content. Clients send encrypted payloads
// with routing metadata (room ID, volatility) and the relay forwards
// them to the other members of the room. The wire format is defined in
// lib/relayproto.
//
// Each room is an actor: one goroutine owns the room's membership and
// presence and processes join, leave, username, and broadcast
// operations from its inbox in order. Connections never touch another
// connection's state; they post operations to their room. Different
// rooms run in parallel. The server's registry lock only guards
// creating and discarding rooms.
//
// Every connection has a bounded outbound queue drained by its write
// pump. A volatile frame (cursor, idle state, presence) that finds the
// queue full is dropped. A non-volatile frame (scene content, join
// notices) that finds it full disconnects the slow member instead, so
// scene content is never silently lost at the relay: the member
// rejoins and converges through the durable store.
package relay
