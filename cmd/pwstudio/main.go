package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errTestsFailed) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createRunCommand(globalFlags),
		createRecordCommand(globalFlags),
		createCleanCommand(globalFlags),
		createSpecsCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pwstudio",
		Short: "Record, edit and run Playwright tests from a browser UI",
		Long: `pwstudio drives Playwright codegen and the Playwright test runner on
behalf of a web editor: it records browser sessions into test scripts, runs
scripts and keeps a library of saved specs.

Examples:
  pwstudio serve                          # HTTP API on $PORT (default 4000)
  pwstudio serve --config pwstudio.toml
  pwstudio record https://example.com     # record until the browser closes or Ctrl-C
  pwstudio run login.spec.ts              # run one script and print the report
  pwstudio specs list`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
