// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package relayproto defines the frames exchanged between clients and
// the relay server.
//
// Every websocket message carries one CBOR-encoded [Frame] in a binary
// message. The Event field names the operation; the remaining fields
// are populated per event as listed on the event constants. Broadcast
// payloads are ciphertext: the relay routes them by room and never
// looks inside.
package relayproto
