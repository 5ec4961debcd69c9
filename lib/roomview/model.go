// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomview

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/sketchroom/sketchroom/lib/scene"
)

// SceneMsg carries the room's scene after a merge.
type SceneMsg struct {
	Elements []scene.Element
}

// PresenceMsg carries the room's participant list.
type PresenceMsg struct {
	Usernames []string
}

// CursorMsg carries one participant's pointer.
type CursorMsg struct {
	Cursor scene.Cursor
}

// IdleMsg reports a participant's activity.
type IdleMsg struct {
	SocketID string
	Idle     bool
}

// StatusMsg replaces the status line. An empty Text restores the key
// help.
type StatusMsg struct {
	Text  string
	Level slog.Level
}

// chromeLines is the number of lines around the element list: title,
// participants, two rules, cursors, and the status line.
const chromeLines = 6

// participant is what the monitor knows about one relay connection.
type participant struct {
	socketID string
	username string
	pointer  scene.Pointer
	seen     bool
	idle     bool
}

// Model is the monitor's bubbletea model.
type Model struct {
	roomID string
	theme  Theme
	keys   KeyMap

	elements     []scene.Element
	usernames    []string
	participants []participant
	showDeleted  bool

	status      string
	statusLevel slog.Level

	list   viewport.Model
	width  int
	height int
}

// NewModel returns a monitor for roomID.
func NewModel(roomID string) Model {
	return Model{
		roomID: roomID,
		theme:  DefaultTheme,
		keys:   DefaultKeyMap,
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.ToggleDeleted):
			model.showDeleted = !model.showDeleted
			model.refreshList()
		case key.Matches(message, model.keys.Up):
			model.list.SetYOffset(model.list.YOffset - 1)
		case key.Matches(message, model.keys.Down):
			model.list.SetYOffset(model.list.YOffset + 1)
		case key.Matches(message, model.keys.PageUp):
			model.list.HalfViewUp()
		case key.Matches(message, model.keys.PageDown):
			model.list.HalfViewDown()
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.list.Width = message.Width
		model.list.Height = max(message.Height-chromeLines, 1)
		model.refreshList()
		return model, nil

	case SceneMsg:
		model.elements = slices.Clone(message.Elements)
		model.refreshList()
		return model, nil

	case PresenceMsg:
		model.usernames = slices.Clone(message.Usernames)
		return model, nil

	case CursorMsg:
		cursor := message.Cursor
		entry := model.participant(cursor.SocketID)
		entry.pointer = cursor.Pointer
		entry.seen = true
		if cursor.Username != "" {
			entry.username = cursor.Username
		}
		return model, nil

	case IdleMsg:
		model.participant(message.SocketID).idle = message.Idle
		return model, nil

	case StatusMsg:
		model.status = message.Text
		model.statusLevel = message.Level
		return model, nil
	}
	return model, nil
}

// participant returns the entry for socketID, adding it if needed.
func (model *Model) participant(socketID string) *participant {
	index := slices.IndexFunc(model.participants, func(p participant) bool {
		return p.socketID == socketID
	})
	if index < 0 {
		model.participants = append(model.participants, participant{socketID: socketID})
		index = len(model.participants) - 1
	}
	return &model.participants[index]
}

// visible returns the elements the list shows, sorted by id.
func (model Model) visible() []scene.Element {
	elements := model.elements
	if !model.showDeleted {
		elements = scene.NonDeleted(elements)
	} else {
		elements = slices.Clone(elements)
	}
	slices.SortFunc(elements, func(a, b scene.Element) int {
		return strings.Compare(a.ID, b.ID)
	})
	return elements
}

func (model *Model) refreshList() {
	elements := model.visible()
	if len(elements) == 0 {
		model.list.SetContent(lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("  (empty scene)"))
		return
	}

	idWidth := 0
	for _, element := range elements {
		idWidth = max(idWidth, lipgloss.Width(element.ID))
	}
	idWidth = min(idWidth, 32)

	normal := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	deleted := lipgloss.NewStyle().Foreground(model.theme.Deleted).Strikethrough(true)

	lines := make([]string, 0, len(elements))
	for _, element := range elements {
		var kind string
		if !element.Field("type", &kind) || kind == "" {
			kind = "?"
		}
		id := ansi.Truncate(element.ID, idWidth, "…")
		id += strings.Repeat(" ", idWidth-lipgloss.Width(id))
		style := normal
		if element.IsDeleted {
			style = deleted
		}
		line := "  " + style.Render(id) + "  " + style.Render(fmt.Sprintf("%-12s", kind)) +
			faint.Render(fmt.Sprintf(" v%d", element.Version))
		lines = append(lines, model.truncate(line))
	}
	model.list.SetContent(strings.Join(lines, "\n"))
}

// truncate clips a rendered line to the window width.
func (model Model) truncate(line string) string {
	if model.width <= 0 {
		return line
	}
	return ansi.Truncate(line, model.width, "…")
}

// View implements tea.Model.
func (model Model) View() string {
	header := lipgloss.NewStyle().Foreground(model.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	accent := lipgloss.NewStyle().Foreground(model.theme.Accent)
	rule := lipgloss.NewStyle().Foreground(model.theme.BorderColor).Render(strings.Repeat("─", max(model.width, 1)))

	live := scene.NonDeleted(model.elements)
	title := header.Render("sketchroom") + faint.Render(fmt.Sprintf("  room %s  version %d  %d elements",
		model.roomID, scene.Version(model.elements), len(live)))

	names := faint.Render("(nobody)")
	if len(model.usernames) > 0 {
		names = accent.Render(strings.Join(model.usernames, ", "))
	}

	var builder strings.Builder
	builder.WriteString(model.truncate(title) + "\n")
	builder.WriteString(model.truncate(faint.Render("in room: ")+names) + "\n")
	builder.WriteString(rule + "\n")
	builder.WriteString(model.list.View() + "\n")
	builder.WriteString(rule + "\n")
	builder.WriteString(model.truncate(model.cursorLine()) + "\n")
	builder.WriteString(model.truncate(model.statusLine()))
	return builder.String()
}

func (model Model) cursorLine() string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	accent := lipgloss.NewStyle().Foreground(model.theme.Accent)

	var parts []string
	for _, entry := range model.participants {
		name := entry.username
		if name == "" {
			name = entry.socketID
		}
		var detail string
		switch {
		case entry.idle:
			detail = "idle"
		case entry.seen:
			detail = fmt.Sprintf("%g,%g", entry.pointer.X, entry.pointer.Y)
		default:
			detail = "active"
		}
		parts = append(parts, accent.Render(name)+faint.Render(" "+detail))
	}
	if len(parts) == 0 {
		return faint.Render("no pointers yet")
	}
	return strings.Join(parts, faint.Render("  "))
}

func (model Model) statusLine() string {
	if model.status == "" {
		return lipgloss.NewStyle().Foreground(model.theme.HelpText).Render(model.keys.helpLine())
	}
	color := model.theme.NormalText
	switch {
	case model.statusLevel >= slog.LevelError:
		color = model.theme.Error
	case model.statusLevel >= slog.LevelWarn:
		color = model.theme.Warning
	}
	return lipgloss.NewStyle().Foreground(color).Render(model.status)
}
