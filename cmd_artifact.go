package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
)

var argparserArtifact = &cobra.Command{
	Use:   "artifact {[flags]|SUBCOMMAND...}",
	Short: "Work with artifact layers captured by a run",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserArtifact)
}
