// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package dropbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sketchroom/sketchroom/store"
)

// APIError is a structured Dropbox error response.
//
//	var apiErr *dropbox.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests { ... }
type APIError struct {
	// Summary is the error_summary, e.g. "path/not_found/..".
	Summary string `json:"error_summary"`
	// Detail is the raw tagged-union error object.
	Detail json.RawMessage `json:"error"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox: %s (%d)", e.Summary, e.StatusCode)
}

// Is maps error summaries onto the store sentinels.
func (e *APIError) Is(target error) bool {
	summary := e.Summary
	switch target {
	case store.ErrNotFound:
		return strings.Contains(summary, "not_found")
	case store.ErrCursorReset:
		return strings.HasPrefix(summary, "reset")
	case store.ErrAlreadyExists:
		return strings.HasPrefix(summary, "path/conflict/folder")
	case store.ErrAlreadyShared:
		return strings.Contains(summary, "already_shared")
	case store.ErrConflict:
		return strings.HasPrefix(summary, "path/conflict")
	}
	return false
}

// IsAPIError reports whether err is an *APIError whose summary starts
// with prefix.
func IsAPIError(err error, prefix string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return strings.HasPrefix(apiErr.Summary, prefix)
	}
	return false
}

// sharedFolderID digs the shared_folder_id out of an already_shared
// error detail.
func (e *APIError) sharedFolderID() string {
	var detail struct {
		BadPath struct {
			AlreadyShared struct {
				SharedFolderID string `json:"shared_folder_id"`
			} `json:"already_shared"`
		} `json:"bad_path"`
	}
	if json.Unmarshal(e.Detail, &detail) != nil {
		return ""
	}
	return detail.BadPath.AlreadyShared.SharedFolderID
}
