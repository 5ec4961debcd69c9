// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/cli"
	"github.com/sketchroom/sketchroom/collab"
	"github.com/sketchroom/sketchroom/lib/scene"
	"github.com/sketchroom/sketchroom/lib/secret"
	"github.com/sketchroom/sketchroom/lib/sharelink"
)

func newCommand(stdout io.Writer) *cli.Command {
	var flags configFlags
	var base string
	return &cli.Command{
		Name:    "new",
		Summary: "Create a room and print its share link",
		Description: `Create a room folder in the durable store with a fresh room id and
key, and print the share link. Anyone holding the link can join and
decrypt the room.`,
		Usage: "sketchroom new [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("new", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&base, "base", "", "URL to prefix the #room= fragment with")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			env, err := openEnvironment(flags)
			if err != nil {
				return err
			}
			defer env.Close()
			link, err := createRoom(context.Background(), env)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, link.Format(base))
			return nil
		},
	}
}

func createRoom(ctx context.Context, env *environment) (sharelink.Link, error) {
	controller, err := collab.New(collab.Options{
		Persister: env.persister,
		Surface:   scene.NewMemory(nil),
		RelayURL:  env.config.Client.RelayURL,
		Logger:    env.logger,
	})
	if err != nil {
		return sharelink.Link{}, err
	}
	link, err := controller.CreateRoom(ctx)
	if err != nil {
		return sharelink.Link{}, fmt.Errorf("creating room: %w", err)
	}
	env.logger.Info("room created",
		"room_id", link.RoomID,
		"key_fingerprint", link.Key.Fingerprint(),
	)
	return link, nil
}

func shareCommand(stdout io.Writer) *cli.Command {
	var flags configFlags
	var recipients []string
	var members []string
	return &cli.Command{
		Name:    "share",
		Summary: "Seal a room link to age recipients",
		Description: `Encrypt a share link to one or more age public keys and print the
sealed invitation. With --member, also share the room folder in the
durable store with those accounts.`,
		Usage: "sketchroom share <link> --recipient age1... [--member account]",
		Examples: []cli.Example{
			{
				Description: "Invite a collaborator by age key",
				Command:     "sketchroom share '#room=0f3a...,Zm9v...' --recipient age1qyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqszqgpqyqs3290gq",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("share", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringSliceVar(&recipients, "recipient", nil, "age public key to seal the link to (repeatable)")
			flagSet.StringSliceVar(&members, "member", nil, "store account to share the room folder with (repeatable)")
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
			if len(recipients) == 0 && len(members) == 0 {
				return fmt.Errorf("--recipient or --member is required")
			}

			if len(members) > 0 {
				env, err := openEnvironment(flags)
				if err != nil {
					return err
				}
				defer env.Close()
				if err := env.persister.ShareRoom(context.Background(), link.RoomID, members); err != nil {
					return fmt.Errorf("sharing room folder: %w", err)
				}
				env.logger.Info("room folder shared", "room_id", link.RoomID, "members", len(members))
			}

			if len(recipients) > 0 {
				sealed, err := sharelink.Seal(link, recipients)
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, sealed)
			}
			return nil
		},
	}
}

func openCommand(stdout io.Writer) *cli.Command {
	var identityPath string
	var base string
	return &cli.Command{
		Name:    "open",
		Summary: "Decrypt a sealed invitation",
		Description: `Decrypt an invitation produced by "sketchroom share" with an age
private key and print the share link it carries.`,
		Usage: "sketchroom open <invitation> --identity <file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("open", pflag.ContinueOnError)
			flagSet.StringVar(&identityPath, "identity", "", `file holding the age private key, or "-" for stdin`)
			flagSet.StringVar(&base, "base", "", "URL to prefix the #room= fragment with")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one invitation, got %d arguments", len(args))
			}
			if identityPath == "" {
				return fmt.Errorf("--identity is required")
			}
			identity, err := secret.ReadFromPath(identityPath)
			if err != nil {
				return err
			}
			defer identity.Close()
			privateKey := privateKeyLine(identity.String())
			if privateKey == "" {
				return fmt.Errorf("%s holds no private key", identityPath)
			}
			link, err := sharelink.Open(args[0], privateKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, link.Format(base))
			return nil
		},
	}
}

func identityCommand(stdout io.Writer) *cli.Command {
	var outputPath string
	return &cli.Command{
		Name:    "identity",
		Summary: "Generate an age keypair for receiving invitations",
		Description: `Generate an age keypair. The private key is written to --output
(mode 0600) or stdout; the public key is always printed and is what
others pass to "sketchroom share --recipient".`,
		Usage: "sketchroom identity [--output file]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("identity", pflag.ContinueOnError)
			flagSet.StringVarP(&outputPath, "output", "o", "", "write the private key to this file")
			return flagSet
		},
		Run: func(args []string) error {
			identity, err := sharelink.GenerateIdentity()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			contents := fmt.Sprintf("# public key: %s\n%s\n", identity.PublicKey, identity.PrivateKey)
			if outputPath == "" {
				fmt.Fprint(stdout, contents)
				return nil
			}
			if err := os.WriteFile(outputPath, []byte(contents), 0o600); err != nil {
				return fmt.Errorf("writing identity: %w", err)
			}
			fmt.Fprintln(stdout, identity.PublicKey)
			return nil
		},
	}
}

// privateKeyLine picks the AGE-SECRET-KEY line out of an identity
// file, skipping comments.
func privateKeyLine(contents string) string {
	for line := range strings.Lines(contents) {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}
