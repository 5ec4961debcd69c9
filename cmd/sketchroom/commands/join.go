// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/cli"
	"github.com/sketchroom/sketchroom/collab"
	"github.com/sketchroom/sketchroom/lib/localcache"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/sharelink"
)

func joinCommand(stdin io.Reader, stdout io.Writer) *cli.Command {
	var flags configFlags
	var username string
	var relayURL string
	var keepLocal bool
	return &cli.Command{
		Name:    "join",
		Summary: "Join a room and edit it from the terminal",
		Description: `Join a room as a headless participant. Edits typed on stdin are
broadcast to the room and saved to the durable store; edits from other
participants are merged and reported. Type "help" once joined for the
list of session commands.`,
		Usage: "sketchroom join <link> [flags]",
		Examples: []cli.Example{
			{
				Description: "Join and draw a rectangle",
				Command:     `echo 'set r1 {"type":"rectangle","x":0,"y":0}' | sketchroom join '#room=0f3a...,Zm9v...'`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVarP(&username, "username", "u", "", "display name (default: client.username)")
			flagSet.StringVar(&relayURL, "relay", "", "relay websocket URL (default: client.relay_url)")
			flagSet.BoolVar(&keepLocal, "keep-local", false, "start from the locally cached scene and share it")
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
			if relayURL != "" {
				env.config.Client.RelayURL = relayURL
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, env, link, keepLocal, stdin, stdout)
		},
	}
}

// runSession joins the room, runs the console until stdin ends, "quit",
// or ctx is cancelled, and stops the session.
func runSession(ctx context.Context, env *environment, link sharelink.Link, keepLocal bool, stdin io.Reader, stdout io.Writer) error {
	client := env.config.Client
	if err := os.MkdirAll(filepath.Dir(client.CachePath), 0o700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	cache, err := localcache.Open(localcache.Options{
		Path:     client.CachePath,
		Debounce: client.LocalDebounce,
		Logger:   env.logger,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	surface := scene.NewMemory(nil)
	if keepLocal {
		if elements, _, ok := cache.LoadScene(); ok {
			surface.ApplyElements(elements)
		}
	}

	printer := &printer{w: stdout}
	surface.OnApply(printer.sceneChanged)

	controller, err := collab.New(collab.Options{
		Persister:    env.persister,
		Surface:      surface,
		RelayURL:     client.RelayURL,
		Username:     client.Username,
		DialTimeout:  client.DialTimeout,
		SaveThrottle: client.SaveThrottle,
		PollTimeout:  client.PollTimeout,
		RetryDelay:   client.RetryDelay,
		Cache:        cache,
		OnPresence:   printer.presence,
		OnCursor:     printer.cursor,
		OnIdle:       printer.idle,
		Logger:       env.logger,
	})
	if err != nil {
		return err
	}
	if err := controller.StartSession(ctx, link.RoomID, link.Key); err != nil {
		return err
	}
	defer func() {
		if err := controller.StopSession(); err != nil {
			env.logger.Warn("stopping session", "error", err)
		}
	}()

	if keepLocal {
		controller.SyncElements(surface.Elements())
	}
	printer.printf("joined room %s as %s\n", link.RoomID, client.Username)

	console := &console{session: controller, surface: surface, out: printer}
	return console.run(ctx, stdin)
}

// sessionControls is the part of the session controller the console
// drives.
type sessionControls interface {
	SyncElements(elements []scene.Element)
	BroadcastCursor(cursor scene.Cursor)
	BroadcastIdle(idle bool)
	SaveNow() bool
	Presence() []string
}

// editor is the local scene the console edits.
type editor interface {
	Elements() []scene.Element
	Upsert(id string, payload json.RawMessage) []scene.Element
	Delete(id string) ([]scene.Element, bool)
}

// console interprets one session command per line.
type console struct {
	session sessionControls
	surface editor
	out     *printer
}

const consoleHelp = `commands:
  set <id> <json-object>   create or edit an element
  delete <id>              delete an element
  list                     print the current elements
  cursor <x> <y>           move your pointer
  idle | active            report your activity
  who                      list participants
  save                     save to the store now
  quit                     leave the room
`

// run executes lines from in until it ends, "quit", or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading commands: %w", err)
			}
			return nil
		case line := <-lines:
			quit, err := c.execute(line)
			if err != nil {
				c.out.printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// execute runs one command line and reports whether the session
// should end.
func (c *console) execute(line string) (bool, error) {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	if command == "" || strings.HasPrefix(command, "#") {
		return false, nil
	}

	switch command {
	case "set":
		id, payload, ok := strings.Cut(rest, " ")
		if !ok || id == "" {
			return false, fmt.Errorf("usage: set <id> <json-object>")
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &fields); err != nil || fields == nil {
			return false, fmt.Errorf("element payload must be a JSON object")
		}
		c.session.SyncElements(c.surface.Upsert(id, json.RawMessage(strings.TrimSpace(payload))))
		return false, nil

	case "delete":
		if rest == "" {
			return false, fmt.Errorf("usage: delete <id>")
		}
		elements, ok := c.surface.Delete(rest)
		if !ok {
			return false, fmt.Errorf("no element %q", rest)
		}
		c.session.SyncElements(elements)
		return false, nil

	case "list":
		for _, element := range scene.NonDeleted(c.surface.Elements()) {
			encoded, err := json.Marshal(element)
			if err != nil {
				return false, err
			}
			c.out.printf("%s\n", encoded)
		}
		return false, nil

	case "cursor":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: cursor <x> <y>")
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return false, fmt.Errorf("cursor coordinates must be numbers")
		}
		c.session.BroadcastCursor(scene.Cursor{Pointer: scene.Pointer{X: x, Y: y}, Button: "up"})
		return false, nil

	case "idle", "active":
		c.session.BroadcastIdle(command == "idle")
		return false, nil

	case "who":
		c.out.presence(c.session.Presence())
		return false, nil

	case "save":
		if !c.session.SaveNow() {
			c.out.printf("nothing to save\n")
		}
		return false, nil

	case "help":
		c.out.printf("%s", consoleHelp)
		return false, nil

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q (type help)", command)
	}
}

// printer serializes session output from the console and the relay
// callbacks.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) sceneChanged(elements []scene.Element) {
	p.printf("~ scene: %d elements, version %d\n", len(scene.NonDeleted(elements)), scene.Version(elements))
}

func (p *printer) presence(usernames []string) {
	names := slices.Clone(usernames)
	if len(names) == 0 {
		names = []string{"(nobody)"}
	}
	p.printf("* in room: %s\n", strings.Join(names, ", "))
}

func (p *printer) cursor(cursor scene.Cursor) {
	name := cursor.Username
	if name == "" {
		name = cursor.SocketID
	}
	p.printf("> %s at (%g, %g)\n", name, cursor.Pointer.X, cursor.Pointer.Y)
}

func (p *printer) idle(socketID string, idle bool) {
	state := "active"
	if idle {
		state = "idle"
	}
	p.printf("> %s is %s\n", socketID, state)
}
