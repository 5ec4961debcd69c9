// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package sharelink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/sketchroom/sketchroom/lib/roomkey"
)

// MaxRoomIDLength bounds room ids accepted from links and the relay.
const MaxRoomIDLength = 128

// fragmentPrefix introduces the room parameters in a link fragment.
const fragmentPrefix = "room="

// Link identifies a room and carries the key that unlocks it.
type Link struct {
	RoomID string
	Key    roomkey.Key
}

// NewRoomID returns a fresh 128-bit room id in lowercase hex.
func NewRoomID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sharelink: generating room id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ValidateRoomID rejects ids that are empty, too long, or contain
// anything but ASCII letters, digits, '-' and '_'.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("sharelink: room id is empty")
	}
	if len(roomID) > MaxRoomIDLength {
		return fmt.Errorf("sharelink: room id is %d bytes, maximum is %d", len(roomID), MaxRoomIDLength)
	}
	for _, r := range roomID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("sharelink: room id contains %q", r)
		}
	}
	return nil
}

// Fragment returns the link's URL fragment without the leading '#'.
func (l Link) Fragment() string {
	return fragmentPrefix + l.RoomID + "," + l.Key.String()
}

// Format appends the fragment to base. An empty base yields just
// "#room=...".
func (l Link) Format(base string) string {
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#" + l.Fragment()
}

// Parse extracts a Link from a full URL, a "#room=..." fragment, or a
// bare "room=..." value.
func Parse(input string) (Link, error) {
	input = strings.TrimSpace(input)
	fragment := input
	if i := strings.IndexByte(input, '#'); i >= 0 {
		fragment = input[i+1:]
	} else if strings.Contains(input, "://") {
		parsed, err := url.Parse(input)
		if err != nil {
			return Link{}, fmt.Errorf("sharelink: parsing %q: %w", input, err)
		}
		fragment = parsed.Fragment
	}

	value, ok := strings.CutPrefix(fragment, fragmentPrefix)
	if !ok {
		return Link{}, fmt.Errorf("sharelink: no room parameters in %q", input)
	}
	roomID, encodedKey, ok := strings.Cut(value, ",")
	if !ok {
		return Link{}, fmt.Errorf("sharelink: room parameters lack a key")
	}
	if err := ValidateRoomID(roomID); err != nil {
		return Link{}, err
	}
	key, err := roomkey.Parse(encodedKey)
	if err != nil {
		return Link{}, fmt.Errorf("sharelink: %w", err)
	}
	return Link{RoomID: roomID, Key: key}, nil
}
