// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/cli"
	"github.com/sketchroom/sketchroom/collab"
	"github.com/sketchroom/sketchroom/lib/roomview"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/sharelink"
)

func viewCommand() *cli.Command {
	var flags configFlags
	var username string
	return &cli.Command{
		Name:    "view",
		Summary: "Watch a room in a terminal UI",
		Description: `Join a room read-only and show its participants, pointers, and
elements as they change. Nothing is broadcast except presence.`,
		Usage: "sketchroom view <link> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("view", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&username, "username", "u", "", "display name (default: client.username)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one share link, got %d arguments", len(args))
			}
			link, err := sharelink.Parse(args[0])
			if err != nil {
				return err
			}
			env, err := openEnvironment(flags)
			if err != nil {
				return err
			}
			defer env.Close()
			if username != "" {
				env.config.Client.Username = username
			}
			return runViewer(env, link)
		},
	}
}

// runViewer runs the monitor until the user quits. Session logging
// at warn and above goes to the monitor's status line.
func runViewer(env *environment, link sharelink.Link) error {
	handler := roomview.NewLogHandler(slog.LevelWarn)
	logger := slog.New(handler)

	program := tea.NewProgram(roomview.NewModel(link.RoomID), tea.WithAltScreen())
	handler.Attach(program.Send)

	surface := scene.NewMemory(nil)
	surface.OnApply(func(elements []scene.Element) {
		program.Send(roomview.SceneMsg{Elements: elements})
	})

	client := env.config.Client
	controller, err := collab.New(collab.Options{
		Persister:   env.persister,
		Surface:     surface,
		RelayURL:    client.RelayURL,
		Username:    client.Username,
		DialTimeout: client.DialTimeout,
		PollTimeout: client.PollTimeout,
		RetryDelay:  client.RetryDelay,
		OnPresence: func(usernames []string) {
			program.Send(roomview.PresenceMsg{Usernames: usernames})
		},
		OnCursor: func(cursor scene.Cursor) {
			program.Send(roomview.CursorMsg{Cursor: cursor})
		},
		OnIdle: func(socketID string, idle bool) {
			program.Send(roomview.IdleMsg{SocketID: socketID, Idle: idle})
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// The program must be running before the session starts: the
	// initial merge sends to it.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan error, 1)
	go func() {
		err := controller.StartSession(ctx, link.RoomID, link.Key)
		if err != nil {
			program.Send(roomview.StatusMsg{Text: err.Error(), Level: slog.LevelError})
		}
		started <- err
	}()

	_, runErr := program.Run()
	cancel()
	if err := <-started; err == nil {
		if err := controller.StopSession(); err != nil && !errors.Is(err, collab.ErrNotActive) {
			env.logger.Warn("stopping session", "error", err)
		}
	}
	return runErr
}
