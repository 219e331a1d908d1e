// Package main is the entry point for the pulsesync CLI.
//
// pulsesync can be used either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulsesync serve -c config.yaml               # Start syncing
//	pulsesync validate -c config.yaml            # Validate configuration
//	pulsesync cursor get -c config.yaml [stream] # Show stored cursors
//	pulsesync version                            # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsesync",
	Short: "A periodic event stream synchronizer",
	Long: `pulsesync keeps a local event journal in sync with a remote server.

It polls one core stream and any number of special streams, applies each
page in order to a SQLite journal and stores a resumption cursor per stream.

Quick start:
  1. Create a config file (pulsesync.yaml)
  2. Run: pulsesync serve -c pulsesync.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  interval: 60s
  port: 8080
  source:
    url: http://localhost:9999/events
  core:
    id: account-1
    seed_cursor: "0"`,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsesync binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulsesync %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
