package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/cliutil"
)

var argparserPypi = &cobra.Command{
	Use:   "pypi {[flags]|SUBCOMMAND...}",
	Short: "Query Python package indexes",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserPypi)
}
