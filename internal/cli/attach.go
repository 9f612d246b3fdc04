// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/cli/attach.go
// Summary: `omux attach [--session <name>]` — execs the openmux host
// binary directly into the current TTY (spec.md §6).
// Notes: omux itself never owns the terminal; attach is a thin
// syscall.Exec handoff so the host process inherits the controlling
// TTY cleanly, following the same "hand off, don't fork" shape as
// cmd/texelation/main.go's client-mode relaunch.

package cli

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openmux/openmux/internal/control"
)

var attachSessionFlag string

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to (or create) a session in the foreground",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttach()
	},
}

func init() {
	attachCmd.Flags().StringVar(&attachSessionFlag, "session", "", "session name to attach to")
}

func runAttach() error {
	bin, err := exec.LookPath("openmux")
	if err != nil {
		lastExitCode = control.ExitNotFound
		return fmt.Errorf("openmux binary not found on PATH: %w", err)
	}

	argv := []string{"openmux"}
	if attachSessionFlag != "" {
		argv = append(argv, "--session", attachSessionFlag)
	}

	if err := syscall.Exec(bin, argv, os.Environ()); err != nil {
		lastExitCode = control.ExitTransport
		return fmt.Errorf("exec openmux: %w", err)
	}
	return nil // unreachable: syscall.Exec replaces this process on success
}
