// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/cli/root.go
// Summary: Cobra command tree for the omux control CLI (spec.md §6).
// Usage: cmd/omux/main.go calls cli.Execute() and exits with the code
// it returns.
// Notes: Grounded on getstackit-planq's internal/cli package (root
// command + one file per subcommand, package-level *cobra.Command
// vars wired together in init); the exit-code contract is spec.md
// §6's own (0 success, 1 bad args, 2 not found, 3 transport) rather
// than cobra's default os.Exit(1)-on-any-error, since omux callers
// script against specific codes.

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmux/openmux/internal/control"
)

// rootCmd is the base command for omux.
var rootCmd = &cobra.Command{
	Use:           "omux",
	Short:         "Control a running openmux host process",
	Long:          `omux talks to a running openmux attach process over its control socket to manage sessions and panes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var lastExitCode = control.ExitOK

func init() {
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(paneCmd)
}

// Execute runs the command tree and returns the process exit code
// per spec.md §6 (0 ok, 1 bad args, 2 not found, 3 transport).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "omux:", err)
		if lastExitCode == control.ExitOK {
			return int(control.ExitBadArgs)
		}
		return int(lastExitCode)
	}
	return int(control.ExitOK)
}

// sendCommand round-trips one request through the control socket and
// maps transport/application failures to the right exit code.
func sendCommand(command string, args interface{}) (control.Response, error) {
	raw, err := marshalArgs(args)
	if err != nil {
		lastExitCode = control.ExitBadArgs
		return control.Response{}, err
	}

	resp, err := control.Send(control.SocketPath(), control.Request{Command: command, Args: raw})
	if err != nil {
		lastExitCode = control.ExitTransport
		return control.Response{}, fmt.Errorf("could not reach openmux: %w", err)
	}
	if !resp.OK {
		lastExitCode = resp.Code
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}
