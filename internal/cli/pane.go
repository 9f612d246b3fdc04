// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/cli/pane.go
// Summary: `omux pane split|send|capture` (spec.md §6). Pane targets
// use the selector grammar in internal/control/selector.go (focused,
// main, stack:N, pane:<id>, pty:<id>, pane-N).

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmux/openmux/internal/control"
)

var (
	paneTargetFlag  string
	splitDirection  string
	captureLines    int
	captureRawFlag  bool
)

var paneCmd = &cobra.Command{
	Use:   "pane",
	Short: "Operate on panes in the active session",
}

var paneSplitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a pane",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if splitDirection != "vertical" && splitDirection != "horizontal" {
			lastExitCode = control.ExitBadArgs
			return fmt.Errorf("--direction must be \"vertical\" or \"horizontal\", got %q", splitDirection)
		}
		_, err := sendCommand("pane.split", control.PaneSplitArgs{Direction: splitDirection, Pane: paneTargetFlag})
		return err
	},
}

var paneSendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send literal text to a pane's PTY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendCommand("pane.send", control.PaneSendArgs{Text: args[0], Pane: paneTargetFlag})
		return err
	},
}

var paneCaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a pane's visible or scrollback content",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPaneCapture()
	},
}

func init() {
	paneSplitCmd.Flags().StringVar(&splitDirection, "direction", "vertical", "vertical or horizontal")
	paneSplitCmd.Flags().StringVar(&paneTargetFlag, "pane", "", "pane selector (default: focused)")
	paneSendCmd.Flags().StringVar(&paneTargetFlag, "pane", "", "pane selector (default: focused)")
	paneCaptureCmd.Flags().IntVar(&captureLines, "lines", 0, "number of scrollback lines to include (0: viewport only)")
	paneCaptureCmd.Flags().BoolVar(&captureRawFlag, "raw", false, "capture raw cell bytes instead of reconstructed text")
	paneCaptureCmd.Flags().StringVar(&paneTargetFlag, "pane", "", "pane selector (default: focused)")

	paneCmd.AddCommand(paneSplitCmd)
	paneCmd.AddCommand(paneSendCmd)
	paneCmd.AddCommand(paneCaptureCmd)
}

func runPaneCapture() error {
	resp, err := sendCommand("pane.capture", control.PaneCaptureArgs{
		Lines: captureLines,
		Raw:   captureRawFlag,
		Pane:  paneTargetFlag,
	})
	if err != nil {
		return err
	}

	var result control.PaneCaptureResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			lastExitCode = control.ExitTransport
			return fmt.Errorf("parse capture result: %w", err)
		}
	}
	fmt.Print(result.Text)
	return nil
}
