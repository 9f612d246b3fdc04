// Copyright © 2025 Openmux contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/cli/session.go
// Summary: `omux session list|create|rename|delete` (spec.md §6).

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openmux/openmux/internal/control"
)

var sessionJSONFlag bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage openmux sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionList()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendCommand("session.create", control.SessionCreateArgs{Name: args[0]})
		return err
	},
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <from> <to>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendCommand("session.rename", control.SessionRenameArgs{From: args[0], To: args[1]})
		return err
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := sendCommand("session.delete", control.SessionDeleteArgs{Name: args[0]})
		return err
	},
}

func init() {
	sessionListCmd.Flags().BoolVar(&sessionJSONFlag, "json", false, "print the raw JSON result")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionRenameCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func runSessionList() error {
	resp, err := sendCommand("session.list", nil)
	if err != nil {
		return err
	}

	if sessionJSONFlag {
		fmt.Println(string(resp.Result))
		return nil
	}

	var result control.SessionListResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			lastExitCode = control.ExitTransport
			return fmt.Errorf("parse session list: %w", err)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tLAST SWITCHED\tAUTO")
	for _, s := range result.Sessions {
		last := time.Unix(s.LastSwitchedAt, 0).Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", s.Name, s.ID, last, s.AutoNamed)
	}
	return w.Flush()
}
