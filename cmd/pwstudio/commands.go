package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/pwstudio"
	"github.com/loykin/pwstudio/internal/runner"
)

// errTestsFailed makes the process exit 1 after the report was printed.
var errTestsFailed = errors.New("tests failed")

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run one test script and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunCommand(cmd, globalFlags, runFlags, args[0])
		},
	}
	cmd.Flags().DurationVar(&runFlags.Timeout, "timeout", 0, "abort the run after this long (default runner.timeout)")
	cmd.Flags().BoolVar(&runFlags.JSON, "json", false, "print the result as JSON")
	return cmd
}

func runRunCommand(cmd *cobra.Command, globalFlags *GlobalFlags, flags *RunFlags, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	studio, _, cleanup, err := openStudio(globalFlags, func(c *pwstudio.Config) {
		if flags.Timeout > 0 {
			c.Runner.Timeout = flags.Timeout
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := studio.Runner().Execute(cmd.Context(), runner.CleanScript(string(body)))
	out := cmd.OutOrStdout()
	if flags.JSON {
		printJSON(out, res)
	} else if res.Report != "" {
		_, _ = fmt.Fprintln(out, res.Report)
	}
	if err != nil {
		return err
	}
	if !res.Passed() {
		return errTestsFailed
	}
	return nil
}

func createRecordCommand(globalFlags *GlobalFlags) *cobra.Command {
	recordFlags := &RecordFlags{}
	cmd := &cobra.Command{
		Use:   "record <url>",
		Short: "Record a browser session into a test script",
		Long: `Open the recorder on <url> and wait until the browser is closed
or Ctrl-C is pressed, then print the generated script.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecordCommand(ctx, cmd, globalFlags, recordFlags, args[0])
		},
	}
	cmd.Flags().StringVarP(&recordFlags.Out, "out", "o", "", "write the script to this file")
	return cmd
}

func runRecordCommand(ctx context.Context, cmd *cobra.Command, globalFlags *GlobalFlags, flags *RecordFlags, url string) error {
	studio, _, cleanup, err := openStudio(globalFlags, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	rec := studio.Recorder()

	errOut := cmd.ErrOrStderr()
	if err := <-rec.Start(url, func(msg string) { _, _ = fmt.Fprint(errOut, msg) }); err != nil {
		return err
	}

	var code string
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			code = rec.Stop()
			break wait
		case <-tick.C:
			if c, ok := rec.Peek(); ok {
				code = c
				break wait
			}
		}
	}

	if flags.Out != "" {
		return os.WriteFile(flags.Out, []byte(code), 0o644)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
	return err
}

func createCleanCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete generated autogen-test-* scratch files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			studio, _, cleanup, err := openStudio(globalFlags, nil)
			if err != nil {
				return err
			}
			defer cleanup()
			n, err := studio.Store().CleanScratch()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d scratch file(s)\n", n)
			return nil
		},
	}
}

func createSpecsCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "Manage saved specs",
	}
	withStudio := func(fn func(cmd *cobra.Command, studio *pwstudio.Studio, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			studio, _, cleanup, err := openStudio(globalFlags, nil)
			if err != nil {
				return err
			}
			defer cleanup()
			return fn(cmd, studio, args)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved specs",
			Args:  cobra.NoArgs,
			RunE: withStudio(func(cmd *cobra.Command, studio *pwstudio.Studio, _ []string) error {
				names, err := studio.Store().List()
				if err != nil {
					return err
				}
				for _, n := range names {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "show <name>",
			Short: "Print a saved spec",
			Args:  cobra.ExactArgs(1),
			RunE: withStudio(func(cmd *cobra.Command, studio *pwstudio.Studio, args []string) error {
				code, err := studio.Store().Read(args[0])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), code)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "save <name> <file>",
			Short: "Save a script file under name",
			Args:  cobra.ExactArgs(2),
			RunE: withStudio(func(cmd *cobra.Command, studio *pwstudio.Studio, args []string) error {
				b, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}
				return studio.Store().Save(args[0], string(b))
			}),
		},
		&cobra.Command{
			Use:   "rm <name>",
			Short: "Delete a saved spec",
			Args:  cobra.ExactArgs(1),
			RunE: withStudio(func(cmd *cobra.Command, studio *pwstudio.Studio, args []string) error {
				return studio.Store().Delete(args[0])
			}),
		},
	)
	return cmd
}
