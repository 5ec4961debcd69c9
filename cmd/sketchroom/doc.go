// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Sketchroom is the headless client: it creates and shares rooms,
// imports and exports scenes, and joins a room as a participant
// driven from stdin. Run "sketchroom --help" for the command list.
package main
