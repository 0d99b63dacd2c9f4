// internal/cli/root.go
package cli

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cmux-cli/cdpscript/internal/config"
	"github.com/cmux-cli/cdpscript/internal/registry"
)

var (
	// Global flags
	flagJSON    bool
	flagVerbose bool
	flagConfig  string

	// Global config
	cfg *config.Config

	// Supported CDP methods, shared by validation, execution and generation
	reg = registry.Default()
)

var rootCmd = &cobra.Command{
	Use:   "cdpscript",
	Short: "cdpscript - Validate, run and generate CDP automation scripts",
	Long: `cdpscript runs JSON scripts of Chrome DevTools Protocol commands
against a Chrome instance with remote debugging enabled.

Quick start:
  chrome --remote-debugging-port=9222       # Start Chrome
  cdpscript validate script.json            # Check a script without running it
  cdpscript run script.json                 # Run a script
  cdpscript run script.json --policy=skip   # Mark the rest skipped after a failure
  cdpscript generate "screenshot example.com" --run
  cdpscript commands                        # List supported CDP methods
  cdpscript serve                           # HTTP API on 127.0.0.1:9669

All commands support --json for machine-readable output.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init creates the file Load would otherwise require
		if cmd == configInitCmd {
			cfg = config.DefaultConfig()
		} else {
			var err error
			if cfg, err = config.Load(flagConfig); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		// Auto-detect JSON mode if stdout is not a TTY
		if !isTerminal(os.Stdout) && !cmd.Flags().Changed("json") {
			flagJSON = true
		}
		return nil
	},
	// Silence usage and errors - we handle our own error output
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "",
		"Config file (default: $CDPSCRIPT_HOME/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(commandsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newLogger returns the diagnostic logger: stderr when --verbose or
// log_level=debug, otherwise discarded.
func newLogger() *log.Logger {
	if flagVerbose || (cfg != nil && cfg.Debug()) {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
