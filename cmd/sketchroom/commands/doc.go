// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the sketchroom client command tree: room
// creation, a line-driven collaboration session, scene import, and
// sealed invitations.
package commands
