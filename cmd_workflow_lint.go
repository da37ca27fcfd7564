package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lint [flags] WORKFLOW_FILE",
		Short: "Check a workflow file for problems",
		Long: "Parse a workflow file and report every problem with it: unknown " +
			"fields, missing or cyclic job dependencies, bad matrices, and " +
			"expressions that don't parse or reference things that won't be in " +
			"scope.  The exit status is non-zero if there are any.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0], flags.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(flags.OutOrStdout(), "%s: OK (%d jobs)\n", args[0], len(wf.Jobs))
			return nil
		},
	}
	argparserWorkflow.AddCommand(cmd)
}
