// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text, json, or auto. Auto writes text when the output
	// is a terminal and JSON otherwise.
	// Default: auto
	Format string `yaml:"format"`
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: must be one of: debug, info, warn, error", l.Level)
	}
	return level, nil
}

// NewLogger builds a logger writing to output. An invalid level falls
// back to info; Validate reports it.
func (l LogConfig) NewLogger(output io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}

	format := l.Format
	if format == "auto" || format == "" {
		format = "json"
		if file, ok := output.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}
