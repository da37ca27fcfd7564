package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
)

var argparserWorkflow = &cobra.Command{
	Use:   "workflow {[flags]|SUBCOMMAND...}",
	Short: "Inspect workflow files without running them",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserWorkflow)
}
