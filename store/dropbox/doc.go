// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package dropbox implements store.Backend on the Dropbox HTTP API.
//
// Uploads use the files/upload modes "add" for create-if-absent,
// "update" with a revision for conditional writes, and "overwrite".
// Change notification uses list_folder cursors: get_latest_cursor,
// the unauthenticated longpoll endpoint on the notify host, and
// list_folder/continue. Sharing uses share_folder followed by
// add_folder_member.
//
// Dropbox reports errors as HTTP 409 with an error_summary such as
// "path/not_found/.." or "reset/..". [APIError] carries the summary
// and maps the ones store callers branch on to the store sentinels, so
// errors.Is(err, store.ErrNotFound) works on any returned error.
package dropbox
