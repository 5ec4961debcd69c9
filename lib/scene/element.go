// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Element is one drawable object in a scene.
type Element struct {
	ID string
	// Version increments on every local mutation of the element.
	Version int64
	// VersionNonce breaks ties between concurrent edits that reached
	// the same Version.
	VersionNonce int64
	IsDeleted    bool
	// Payload is a JSON object holding every other field of the
	// element. Nil means no other fields.
	Payload json.RawMessage
}

// reserved are the JSON keys lifted into the envelope.
var reserved = [...]string{"id", "version", "versionNonce", "isDeleted"}

// MarshalJSON flattens the envelope and payload into one object.
func (e Element) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(e.Payload)) > 0 {
		if err := json.Unmarshal(e.Payload, &fields); err != nil {
			return nil, fmt.Errorf("scene: element %q payload is not a JSON object: %w", e.ID, err)
		}
		if fields == nil {
			fields = make(map[string]json.RawMessage)
		}
	}
	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, err
	}
	fields["id"] = id
	fields["version"] = json.RawMessage(strconv.FormatInt(e.Version, 10))
	fields["versionNonce"] = json.RawMessage(strconv.FormatInt(e.VersionNonce, 10))
	fields["isDeleted"] = json.RawMessage(strconv.FormatBool(e.IsDeleted))
	return json.Marshal(fields)
}

// UnmarshalJSON splits an element object into envelope and payload.
// An element without a version decodes with Version -1, which
// Restore treats as invalid.
func (e *Element) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("scene: element is not a JSON object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("scene: element is null")
	}

	*e = Element{Version: -1}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &e.ID); err != nil {
			return fmt.Errorf("scene: element id: %w", err)
		}
	}
	if raw, ok := fields["version"]; ok {
		version, err := parseInteger(raw)
		if err != nil {
			return fmt.Errorf("scene: element %q version: %w", e.ID, err)
		}
		e.Version = version
	}
	if raw, ok := fields["versionNonce"]; ok {
		nonce, err := parseInteger(raw)
		if err != nil {
			return fmt.Errorf("scene: element %q versionNonce: %w", e.ID, err)
		}
		e.VersionNonce = nonce
	}
	if raw, ok := fields["isDeleted"]; ok {
		if err := json.Unmarshal(raw, &e.IsDeleted); err != nil {
			return fmt.Errorf("scene: element %q isDeleted: %w", e.ID, err)
		}
	}

	for _, key := range reserved {
		delete(fields, key)
	}
	if len(fields) > 0 {
		payload, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		e.Payload = payload
	}
	return nil
}

// Field decodes one payload field into target. It reports false when
// the field is absent or does not decode.
func (e Element) Field(name string, target any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return false
	}
	raw, ok := fields[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// parseInteger accepts JSON numbers written as integers or as
// integral floats ("3" or "3.0").
func parseInteger(raw json.RawMessage) (int64, error) {
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return 0, err
	}
	if value, err := number.Int64(); err == nil {
		return value, nil
	}
	value, err := number.Float64()
	if err != nil {
		return 0, err
	}
	if value != math.Trunc(value) || math.Abs(value) > 1<<53 {
		return 0, fmt.Errorf("%s is not an integer", number)
	}
	return int64(value), nil
}
