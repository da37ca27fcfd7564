package main

import (
	"os"

	ociv1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"

	"github.com/datawire/cibuild/pkg/artifact"
	"github.com/datawire/cibuild/pkg/cliutil"
)

func init() {
	var (
		argBase   string
		argSquash bool
	)
	cmd := &cobra.Command{
		Use:   "bundle [flags] OUT_IMAGEFILE IN_LAYERFILES...",
		Short: "Combine artifact layers in to an image tarball",
		Long: "Combine the artifact layers captured by one or more runs in to a " +
			"single image tarball, suitable for `docker load` or for handing to " +
			"anything else that reads OCI image tarballs.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(2)),
		RunE: func(flags *cobra.Command, args []string) error {
			var base ociv1.Image
			if argBase != "" {
				var err error
				base, err = artifact.OpenImage(argBase)
				if err != nil {
					return err
				}
			}

			layers := make([]ociv1.Layer, 0, len(args)-1)
			for _, layerpath := range args[1:] {
				layer, err := artifact.OpenLayer(layerpath)
				if err != nil {
					return err
				}
				layers = append(layers, layer)
			}
			if argSquash {
				layer, err := artifact.Merge(layers)
				if err != nil {
					return err
				}
				layers = []ociv1.Layer{layer}
			}

			out, err := os.Create(args[0])
			if err != nil {
				return err
			}
			err = artifact.Bundle(out, base, layers...)
			if closeErr := out.Close(); err == nil {
				err = closeErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&argBase, "base", "", "Use `IN_IMAGEFILE` as the base of the image")
	cmd.Flags().BoolVar(&argSquash, "squash", false, "Merge the layers in to one before bundling")

	argparserArtifact.AddCommand(cmd)
}
