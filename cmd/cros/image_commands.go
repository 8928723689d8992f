package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chromite/internal/cgpt"
	"chromite/internal/chroot"
)

func newImageCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Inspect disk images",
	}
	cmd.AddCommand(newImagePartitionsCommand(ctx))
	return cmd
}

func newImagePartitionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "partitions <image>",
		Short: "Print an image's GPT partition table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			disk, err := cgpt.FromImage(cmd.Context(), ctx.commandRunner(logger), args[0], chroot.FromConfig(cfg))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, disk.Partitions)
			}
			rows := make([][]string, 0, len(disk.Partitions))
			for _, p := range disk.Partitions {
				rows = append(rows, []string{
					strconv.Itoa(p.Num),
					p.Label,
					strconv.FormatInt(p.Start, 10),
					humanize.IBytes(p.SizeBytes()),
					p.Type,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, []string{"#", "Label", "Start", "Size", "Type"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
