// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the relay and
// the client CLI. Fatal is the one place raw output to stderr happens
// before or after the structured logger exists.
package process
