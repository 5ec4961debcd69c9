// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package roomview

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/sketchroom/sketchroom/lib/scene"
)

func element(id, kind string, version int64, deleted bool) scene.Element {
	payload, _ := json.Marshal(map[string]string{"type": kind})
	return scene.Element{ID: id, Version: version, VersionNonce: 1, IsDeleted: deleted, Payload: payload}
}

// sized returns a model that has received a window size.
func sized(t *testing.T, width, height int) Model {
	t.Helper()
	return update(t, NewModel("0f3a9c"), tea.WindowSizeMsg{Width: width, Height: height})
}

func update(t *testing.T, model Model, message tea.Msg) Model {
	t.Helper()
	updated, _ := model.Update(message)
	result, ok := updated.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", updated)
	}
	return result
}

func view(model Model) string {
	return ansi.Strip(model.View())
}

func TestViewShowsScene(t *testing.T) {
	model := sized(t, 80, 20)
	model = update(t, model, SceneMsg{Elements: []scene.Element{
		element("r2", "ellipse", 4, false),
		element("r1", "rectangle", 2, false),
		element("gone", "arrow", 7, true),
	}})

	output := view(model)
	if !strings.Contains(output, "room 0f3a9c") || !strings.Contains(output, "version 7") || !strings.Contains(output, "2 elements") {
		t.Errorf("header wrong:\n%s", output)
	}
	first := strings.Index(output, "r1")
	second := strings.Index(output, "r2")
	if first < 0 || second < 0 || first > second {
		t.Errorf("elements missing or unsorted:\n%s", output)
	}
	if !strings.Contains(output, "rectangle") || !strings.Contains(output, "v4") {
		t.Errorf("element rows missing type or version:\n%s", output)
	}
	if strings.Contains(output, "gone") {
		t.Errorf("deleted element shown by default:\n%s", output)
	}

	model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})
	if !strings.Contains(view(model), "gone") {
		t.Errorf("deleted element hidden after toggle:\n%s", view(model))
	}
}

func TestViewEmptyScene(t *testing.T) {
	output := view(sized(t, 80, 20))
	if !strings.Contains(output, "(empty scene)") || !strings.Contains(output, "(nobody)") {
		t.Errorf("empty view:\n%s", output)
	}
}

func TestPresenceAndCursors(t *testing.T) {
	model := sized(t, 100, 20)
	model = update(t, model, PresenceMsg{Usernames: []string{"ada", "grace"}})
	model = update(t, model, CursorMsg{Cursor: scene.Cursor{
		SocketID: "s1",
		Username: "ada",
		Pointer:  scene.Pointer{X: 12, Y: 34.5},
	}})
	model = update(t, model, IdleMsg{SocketID: "s2", Idle: true})

	output := view(model)
	if !strings.Contains(output, "in room: ada, grace") {
		t.Errorf("presence missing:\n%s", output)
	}
	if !strings.Contains(output, "ada 12,34.5") {
		t.Errorf("cursor missing:\n%s", output)
	}
	if !strings.Contains(output, "s2 idle") {
		t.Errorf("idle participant missing:\n%s", output)
	}

	model = update(t, model, IdleMsg{SocketID: "s1", Idle: true})
	if !strings.Contains(view(model), "ada idle") {
		t.Errorf("idle flag not applied to known participant:\n%s", view(model))
	}
}

func TestStatusLine(t *testing.T) {
	model := sized(t, 80, 20)
	if !strings.Contains(view(model), "q quit") {
		t.Errorf("help line missing:\n%s", view(model))
	}
	model = update(t, model, StatusMsg{Text: "saving scene failed", Level: slog.LevelWarn})
	if !strings.Contains(view(model), "saving scene failed") {
		t.Errorf("status missing:\n%s", view(model))
	}
	model = update(t, model, StatusMsg{})
	if !strings.Contains(view(model), "q quit") {
		t.Errorf("help line not restored:\n%s", view(model))
	}
}

func TestQuitKey(t *testing.T) {
	model := sized(t, 80, 20)
	_, command := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if command == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Errorf("q command produced %T, want tea.QuitMsg", command())
	}
}

func TestLinesFitWidth(t *testing.T) {
	model := sized(t, 30, 12)
	model = update(t, model, SceneMsg{Elements: []scene.Element{
		element(strings.Repeat("x", 60), "rectangle", 1, false),
	}})
	model = update(t, model, PresenceMsg{Usernames: []string{strings.Repeat("n", 80)}})
	for _, line := range strings.Split(view(model), "\n") {
		if width := ansi.StringWidth(line); width > 30 {
			t.Errorf("line is %d cells wide, window is 30: %q", width, line)
		}
	}
}

func TestScrolling(t *testing.T) {
	model := sized(t, 80, 9)
	var elements []scene.Element
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		elements = append(elements, element(id, "text", 1, false))
	}
	model = update(t, model, SceneMsg{Elements: elements})
	if strings.Contains(view(model), "  h ") {
		t.Fatalf("list not clipped to the window:\n%s", view(model))
	}
	for range 8 {
		model = update(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	}
	if !strings.Contains(view(model), "  h ") {
		t.Errorf("scrolling did not reach the last element:\n%s", view(model))
	}
}
