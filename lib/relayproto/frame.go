// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package relayproto

import (
	"fmt"

	"github.com/sketchroom/sketchroom/lib/codec"
)

// Client to server events.
const (
	// EventInitRoom asks the relay for an acknowledgement. The relay
	// answers with EventInitRoom carrying the connection ID.
	EventInitRoom = "init-room"

	// EventJoinRoom moves the connection into RoomID.
	EventJoinRoom = "join-room"

	// EventRoomUserChange sets the connection's Username. From the
	// relay it carries the room's Usernames.
	EventRoomUserChange = "room-user-change"

	// EventServerBroadcast sends Data to the other members of RoomID.
	// Volatile marks it droppable.
	EventServerBroadcast = "server-broadcast"

	// EventServerVolatileBroadcast sends Data to the other members of
	// RoomID as a droppable frame.
	EventServerVolatileBroadcast = "server-volatile-broadcast"

	// EventIdleState reports that the participant ID is Idle or
	// active. The relay forwards it, volatile, to the rest of RoomID.
	EventIdleState = "idle-state"

	// EventUserFollow forwards Data to the rest of the sender's room.
	EventUserFollow = "user-follow"

	// EventUserFollowRoomChange forwards Data to the rest of RoomID.
	EventUserFollowRoomChange = "user-follow-room-change"
)

// Server to client events.
const (
	// EventFirstInRoom tells a joiner the room was empty.
	EventFirstInRoom = "first-in-room"

	// EventNewUser tells existing members that ID joined.
	EventNewUser = "new-user"

	// EventClientBroadcast delivers another member's Data.
	EventClientBroadcast = "client-broadcast"
)

// Frame is one relay message.
type Frame struct {
	Event     string   `cbor:"event"`
	RoomID    string   `cbor:"room_id,omitempty"`
	Data      []byte   `cbor:"data,omitempty"`
	Volatile  bool     `cbor:"volatile,omitempty"`
	Username  string   `cbor:"username,omitempty"`
	Usernames []string `cbor:"usernames,omitempty"`
	ID        string   `cbor:"id,omitempty"`
	Idle      bool     `cbor:"idle,omitempty"`
}

// Encode returns the wire form of f.
func Encode(f Frame) ([]byte, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("relayproto: encoding %s frame: %w", f.Event, err)
	}
	return data, nil
}

// Decode parses one frame and rejects frames without an event.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := codec.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("relayproto: decoding frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("relayproto: frame has no event")
	}
	return f, nil
}
