// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree behind the sketchroom client. A
// [Command] either runs or dispatches to a subcommand named by the
// first positional argument. Flags are parsed with pflag per command,
// and unknown commands or flags get a closest-match suggestion.
package cli
