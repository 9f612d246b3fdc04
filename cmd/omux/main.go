// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: cmd/omux/main.go
// Summary: Entry point for the omux control CLI; delegates the whole
// command tree to internal/cli.
// Notes: Thin main, mirroring getstackit-planq's cmd/<tool>/main.go +
// internal/cli split.

package main

import (
	"os"

	"github.com/openmux/openmux/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
