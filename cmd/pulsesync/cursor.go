package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/config"
	"github.com/jpalmerr/pulsesync/internal/store/sqlite"
)

// cursorCmd groups the cursor maintenance subcommands.
var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect and edit stored cursors",
	Long: `Inspect and edit the cursors stored in the configured database.

A stream that was stopped by a cache invalidation or a missing cursor stays
stopped until its cursor is reset and the server is restarted.

Example:
  pulsesync cursor get -c config.yaml
  pulsesync cursor set -c config.yaml calendar-1 0
  pulsesync cursor reset -c config.yaml calendar-1`,
}

var cursorGetCmd = &cobra.Command{
	Use:   "get [stream]",
	Short: "Print the cursor of one stream, or of every stream",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCursorGet,
}

var cursorSetCmd = &cobra.Command{
	Use:   "set <stream> <cursor>",
	Short: "Overwrite the cursor of a stream",
	Args:  cobra.ExactArgs(2),
	RunE:  runCursorSet,
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset <stream>",
	Short: "Delete the cursor and journaled events of a stream",
	Long: `Delete the cursor and journaled events of a stream.

The configured seed_cursor is written again the next time serve starts.`,
	Args: cobra.ExactArgs(1),
	RunE: runCursorReset,
}

func init() {
	rootCmd.AddCommand(cursorCmd)
	cursorCmd.AddCommand(cursorGetCmd, cursorSetCmd, cursorResetCmd)

	cursorCmd.PersistentFlags().StringP("config", "c", "", "path to config file (required)")
	_ = cursorCmd.MarkPersistentFlagRequired("config")
}

// openDatabase loads the config named by the --config flag and opens its
// database.
func openDatabase(cmd *cobra.Command) (*sqlite.Store, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := sqlite.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func runCursorGet(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	if len(args) == 1 {
		id := pulsesync.StreamID(args[0])
		cursor, ok, err := db.LoadCursor(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no cursor stored for %q", id)
		}
		fmt.Fprintln(out, cursor)
		return nil
	}

	cursors, err := db.Cursors(cmd.Context())
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(cursors))
	for id := range cursors {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		events, err := db.EventCount(cmd.Context(), pulsesync.StreamID(id))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\t%d events\n", id, cursors[pulsesync.StreamID(id)], events)
	}
	return nil
}

func runCursorSet(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveCursor(cmd.Context(), pulsesync.StreamID(args[0]), args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", args[0], args[1])
	return nil
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	db, err := openDatabase(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Delete(cmd.Context(), pulsesync.StreamID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", args[0])
	return nil
}
