// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomview

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the monitor's key bindings.
type KeyMap struct {
	Up            key.Binding
	Down          key.Binding
	PageUp        key.Binding
	PageDown      key.Binding
	ToggleDeleted key.Binding
	Quit          key.Binding
}

// DefaultKeyMap uses vim-style movement alongside the arrow keys.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup", "b"),
		key.WithHelp("pgup", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown", "f", " "),
		key.WithHelp("pgdn", "page down"),
	),
	ToggleDeleted: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "show deleted"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// helpLine renders the short help for the bindings a user needs most.
func (keys KeyMap) helpLine() string {
	bindings := []key.Binding{keys.Down, keys.Up, keys.ToggleDeleted, keys.Quit}
	line := ""
	for index, binding := range bindings {
		if index > 0 {
			line += "  "
		}
		help := binding.Help()
		line += help.Key + " " + help.Desc
	}
	return line
}
