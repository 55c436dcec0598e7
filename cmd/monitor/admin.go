package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agent-overlay/monitor/internal/client"
)

func newClearCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.NewHTTPClient(url).ClearSessions(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared all sessions")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultServerURL, "Server base URL")
	return cmd
}

func newEndCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "end <session_id>",
		Short: "Mark a session completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.NewHTTPClient(url).EndSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultServerURL, "Server base URL")
	return cmd
}
