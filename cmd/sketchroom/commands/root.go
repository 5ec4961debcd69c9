// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/cli"
	"github.com/sketchroom/sketchroom/lib/version"
)

// Root returns the sketchroom command tree wired to the process's
// standard streams.
func Root() *cli.Command {
	return newRoot(os.Stdin, os.Stdout)
}

func newRoot(stdin io.Reader, stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name: "sketchroom",
		Description: `Sketchroom is an end-to-end encrypted collaborative whiteboard.
Rooms are addressed by share links that carry the room key; the relay
and the durable store only ever see ciphertext.`,
		Subcommands: []*cli.Command{
			newCommand(stdout),
			joinCommand(stdin, stdout),
			viewCommand(),
			importCommand(stdout),
			exportCommand(stdout),
			shareCommand(stdout),
			openCommand(stdout),
			identityCommand(stdout),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					fmt.Fprintf(stdout, "sketchroom %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
