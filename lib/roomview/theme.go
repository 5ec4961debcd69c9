// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomview

import "github.com/charmbracelet/lipgloss"

// Theme is the color palette of the monitor, in ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Participant names and cursors.
	Accent lipgloss.Color

	// Soft-deleted elements, shown only on request.
	Deleted lipgloss.Color

	// Status line colors by severity.
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme is tuned for dark terminals.
var DefaultTheme = Theme{
	NormalText:       lipgloss.Color("252"),
	FaintText:        lipgloss.Color("243"),
	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("238"),
	HelpText:         lipgloss.Color("241"),
	Accent:           lipgloss.Color("75"),
	Deleted:          lipgloss.Color("131"),
	Warning:          lipgloss.Color("214"),
	Error:            lipgloss.Color("196"),
}
