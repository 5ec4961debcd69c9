// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/commands"
	"github.com/sketchroom/sketchroom/lib/process"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
