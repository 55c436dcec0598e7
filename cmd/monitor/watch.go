package main

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/agent-overlay/monitor/internal/client"
	"github.com/agent-overlay/monitor/internal/overlay"
)

func newWatchCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show active sessions in a terminal overlay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			feed := client.NewWSClient(client.WSURL(url))
			m := overlay.New(feed, client.NewHTTPClient(url))
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", defaultServerURL, "Server base URL")
	return cmd
}
