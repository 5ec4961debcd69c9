// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/cli"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/sharelink"
)

func importCommand(stdout io.Writer) *cli.Command {
	var flags configFlags
	var linkText string
	var create bool
	return &cli.Command{
		Name:    "import",
		Summary: "Merge a scene file into a room's stored scene",
		Description: `Read a scene document ({"elements": [...]}) and merge it into the
room's stored scene with the usual reconciliation rules: an imported
element replaces the stored one only when its version is newer. The
file may contain comments and trailing commas. Use "-" for stdin.`,
		Usage: "sketchroom import <file> (--link <link> | --create)",
		Examples: []cli.Example{
			{
				Description: "Seed a new room from a drawing",
				Command:     "sketchroom import drawing.jsonc --create",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&linkText, "link", "", "share link of the target room")
			flagSet.BoolVar(&create, "create", false, "create a new room and print its link")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one scene file, got %d arguments", len(args))
			}
			if (linkText == "") == !create {
				return fmt.Errorf("exactly one of --link and --create is required")
			}
			elements, err := readSceneFile(args[0])
			if err != nil {
				return err
			}

			env, err := openEnvironment(flags)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := context.Background()
			var link sharelink.Link
			if create {
				link, err = createRoom(ctx, env)
			} else {
				link, err = sharelink.Parse(linkText)
			}
			if err != nil {
				return err
			}

			stored, err := importScene(ctx, env, link, elements)
			if err != nil {
				return err
			}
			if create {
				fmt.Fprintln(stdout, link.Format(""))
			}
			fmt.Fprintf(stdout, "imported %d elements (scene version %d)\n",
				len(scene.NonDeleted(stored)), scene.Version(stored))
			return nil
		},
	}
}

func exportCommand(stdout io.Writer) *cli.Command {
	var flags configFlags
	var includeDeleted bool
	return &cli.Command{
		Name:    "export",
		Summary: "Print a room's stored scene",
		Description: `Download and decrypt a room's stored scene and print it as a scene
document. Deleted elements are left out unless --deleted is set.`,
		Usage: "sketchroom export <link>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&includeDeleted, "deleted", false, "include deleted elements")
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
			return exportScene(context.Background(), env, link, includeDeleted, stdout)
		},
	}
}

// readSceneFile parses a JSON-with-comments scene document from path,
// or stdin for "-", and drops structurally invalid elements.
func readSceneFile(path string) ([]scene.Element, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading scene: %w", err)
	}
	return parseSceneDocument(data)
}

func parseSceneDocument(data []byte) ([]scene.Element, error) {
	var document scene.Document
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("parsing scene: %w", err)
	}
	elements := scene.Restore(document.Elements)
	if dropped := len(document.Elements) - len(elements); dropped > 0 {
		fmt.Fprintf(os.Stderr, "warning: skipped %d invalid elements\n", dropped)
	}
	return elements, nil
}

func importScene(ctx context.Context, env *environment, link sharelink.Link, elements []scene.Element) ([]scene.Element, error) {
	stored, err := env.persister.Save(ctx, link.RoomID, link.Key, elements)
	if err != nil {
		return nil, fmt.Errorf("importing into room %s: %w", link.RoomID, err)
	}
	env.logger.Info("scene imported",
		"room_id", link.RoomID,
		"elements", len(elements),
		"version", scene.Version(stored),
	)
	return stored, nil
}

func exportScene(ctx context.Context, env *environment, link sharelink.Link, includeDeleted bool, w io.Writer) error {
	elements, err := env.persister.Load(ctx, link.RoomID, link.Key)
	if err != nil {
		return fmt.Errorf("exporting room %s: %w", link.RoomID, err)
	}
	if !includeDeleted {
		elements = scene.NonDeleted(elements)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(scene.NewDocument(elements))
}
