package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromite/internal/dlc"
)

func newDLCCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlc",
		Short: "Inspect downloadable content artifacts",
	}
	cmd.AddCommand(newDLCListArtifactsCommand(ctx))
	return cmd
}

func newDLCListArtifactsCommand(ctx *commandContext) *cobra.Command {
	var sysroot string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list-artifacts",
		Short: "List the DLC artifacts built into a sysroot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			artifacts, err := dlc.GenerateArtifactsMetadataList(sysroot, logger)
			if err != nil {
				return err
			}
			if asJSON {
				if artifacts == nil {
					artifacts = []dlc.ArtifactsMetadata{}
				}
				return writeJSON(cmd, artifacts)
			}
			out := cmd.OutOrStdout()
			if len(artifacts) == 0 {
				fmt.Fprintln(out, "No DLC artifacts found")
				return nil
			}
			rows := make([][]string, 0, len(artifacts))
			for _, a := range artifacts {
				rows = append(rows, []string{a.ID, a.ImageName, a.ImageHash, a.URIPath})
			}
			fmt.Fprintln(out, renderTable(out, []string{"ID", "Image", "Hash", "URI"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&sysroot, "sysroot", "", "Sysroot path, e.g. /build/amd64-generic")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	_ = cmd.MarkFlagRequired("sysroot")
	return cmd
}
