package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "http://localhost:9147"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "monitor",
		Short:         "Track agent sessions and show the ones that need you",
		Long:          "Collects hook events from coding agents, keeps session status in SQLite and streams it to overlays.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newEndCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
