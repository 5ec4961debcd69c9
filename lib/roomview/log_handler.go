// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomview

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// LogHandler is a slog.Handler that shows records as [StatusMsg] in a
// running monitor. Records below the level, or logged before Attach,
// are dropped. Handlers derived through WithAttrs and WithGroup share
// the attachment.
type LogHandler struct {
	level  slog.Level
	target *target
	attrs  []slog.Attr
	groups []string
}

// target is the send function shared by derived handlers.
type target struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewLogHandler returns a handler for records at or above level.
func NewLogHandler(level slog.Level) *LogHandler {
	return &LogHandler{level: level, target: &target{}}
}

// Attach routes records to send, normally tea.Program.Send.
func (handler *LogHandler) Attach(send func(tea.Msg)) {
	handler.target.mu.Lock()
	defer handler.target.mu.Unlock()
	handler.target.send = send
}

// Enabled implements slog.Handler.
func (handler *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle implements slog.Handler. The summary is the message followed
// by its attributes as key=value pairs.
func (handler *LogHandler) Handle(_ context.Context, record slog.Record) error {
	handler.target.mu.Lock()
	send := handler.target.send
	handler.target.mu.Unlock()
	if send == nil {
		return nil
	}

	prefix := strings.Join(handler.groups, ".")
	if prefix != "" {
		prefix += "."
	}
	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, attr.Key+"="+attr.Value.String())
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, prefix+attr.Key+"="+attr.Value.String())
		return true
	})

	summary := record.Message
	if len(parts) > 0 {
		summary += " (" + strings.Join(parts, ", ") + ")"
	}
	send(StatusMsg{Text: summary, Level: record.Level})
	return nil
}

// WithAttrs implements slog.Handler.
func (handler *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{
		level:  handler.level,
		target: handler.target,
		attrs:  append(slices.Clone(handler.attrs), attrs...),
		groups: slices.Clone(handler.groups),
	}
}

// WithGroup implements slog.Handler.
func (handler *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	return &LogHandler{
		level:  handler.level,
		target: handler.target,
		attrs:  slices.Clone(handler.attrs),
		groups: append(slices.Clone(handler.groups), name),
	}
}
