// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharelink encodes the room id and room key into the link
// participants share out of band.
//
// The key travels only in the URL fragment:
//
//	https://draw.example.com/#room=<roomId>,<roomKey>
//
// Browsers never send fragments to servers, so the relay and the
// storage backend see the room id through routing and folder paths
// but never the key.
//
// A link can also be sealed to recipients' age public keys with
// [Seal], producing an invitation that is safe to paste into any
// channel. [Open] reverses it with the recipient's age identity.
//
// Room ids are 128-bit random hex strings minted by [NewRoomID].
// [ValidateRoomID] is the check every component that puts a room id
// into a storage path applies first.
package sharelink
