package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
	"github.com/datawire/cibuild/pkg/python/pep440"
	"github.com/datawire/cibuild/pkg/python/pypi"
)

func init() {
	var (
		argIndexURL string
		argWait     bool
		argInterval time.Duration
		argTimeout  time.Duration
		argPython   string
	)
	cmd := &cobra.Command{
		Use:   "verify [flags] PROJECT VERSION",
		Short: "Check that a release is visible on a package index",
		Long: "Check that the given release of a project is visible on a package " +
			"index and has not been yanked.  A fresh upload can take a little " +
			"while to show up; --wait polls until it does or the timeout " +
			"expires, which is what a deploy job wants right after twine " +
			"finishes.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: func(flags *cobra.Command, args []string) error {
			ctx := flags.Context()
			project := args[0]
			version, err := pep440.ParseVersion(args[1])
			if err != nil {
				return err
			}

			client := pypi.Client{
				BaseURL: argIndexURL,
			}
			if argPython != "" {
				pyVersion, err := pep440.ParseVersion(argPython)
				if err != nil {
					return fmt.Errorf("invalid --python %q: %w", argPython, err)
				}
				client.Python = pyVersion
			}

			if argWait {
				ctx, cancel := context.WithTimeout(ctx, argTimeout)
				defer cancel()
				if err := client.Await(ctx, project, *version, argInterval); err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return fmt.Errorf("%s==%s did not show up within %v",
							project, version.String(), argTimeout)
					}
					return err
				}
			} else {
				ok, err := client.HasRelease(ctx, project, *version)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s==%s is not available", project, version.String())
				}
			}
			fmt.Fprintf(flags.OutOrStdout(), "%s==%s is available\n", project, version.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&argIndexURL, "index-url", pypi.DefaultBaseURL,
		"Query the Simple Repository API at `URL`")
	cmd.Flags().BoolVar(&argWait, "wait", false,
		"Poll until the release shows up instead of failing immediately")
	cmd.Flags().DurationVar(&argInterval, "interval", 15*time.Second,
		"Poll every `DURATION` with --wait")
	cmd.Flags().DurationVar(&argTimeout, "timeout", 10*time.Minute,
		"Give up after `DURATION` with --wait")
	cmd.Flags().StringVar(&argPython, "python", "",
		"Only count files that data-requires-python says can run on Python `VERSION`")

	argparserPypi.AddCommand(cmd)
}
