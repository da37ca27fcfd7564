package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/artifact"
	"github.com/datawire/cibuild/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "extract [flags] IN_LAYERFILE DEST_DIR",
		Short: "Unpack an artifact layer in to a directory",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: func(flags *cobra.Command, args []string) error {
			layer, err := artifact.OpenLayer(args[0])
			if err != nil {
				return err
			}
			return artifact.Extract(layer, args[1])
		},
	}
	argparserArtifact.AddCommand(cmd)
}
