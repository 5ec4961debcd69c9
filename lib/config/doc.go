// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the relay and
// the client.
//
// Configuration is loaded from a single file specified by either the
// SKETCHROOM_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). Binaries that receive neither run on
// [Default]. There is no ~/.config discovery and no automatic file
// search.
//
// The file supports environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production without an explicit
// section logs JSON at info level.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SKETCHROOM_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Log, Relay, Client, Storage
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [LogConfig.NewLogger] -- builds the slog logger binaries install
//
// This package depends on no other sketchroom packages.
package config
