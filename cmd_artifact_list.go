package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/artifact"
	"github.com/datawire/cibuild/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list [flags] IN_LAYERFILE",
		Short: "List the contents of an artifact layer",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(flags *cobra.Command, args []string) error {
			layer, err := artifact.OpenLayer(args[0])
			if err != nil {
				return err
			}
			return artifact.Listing(flags.OutOrStdout(), layer)
		},
	}
	argparserArtifact.AddCommand(cmd)
}
