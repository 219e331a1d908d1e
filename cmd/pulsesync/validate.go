package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsesync/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a pulsesync configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsesync validate -c config.yaml
  pulsesync validate --config /etc/pulsesync/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	core := "none"
	if cfg.Core != nil {
		core = cfg.Core.ID
	}
	port := "disabled"
	if cfg.Port > 0 {
		port = fmt.Sprintf("%d", cfg.Port)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Source:          %s\n", cfg.Source.URL)
	fmt.Fprintf(out, "  Database:        %s\n", cfg.Database)
	fmt.Fprintf(out, "  Port:            %s\n", port)
	fmt.Fprintf(out, "  Interval:        %s\n", cfg.Interval.Duration())
	fmt.Fprintf(out, "  Core stream:     %s\n", core)
	fmt.Fprintf(out, "  Special streams: %d\n", len(cfg.Streams))

	return nil
}
