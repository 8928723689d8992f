package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chromite/internal/chroot"
	"chromite/internal/deps"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that host and SDK tools are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sdk := chroot.FromConfig(cfg)
			host := deps.CheckBinaries(deps.HostRequirements())
			inSDK := deps.CheckSDKBinaries(sdk, deps.SDKRequirements())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Inside SDK: %s\n", yesNo(chroot.IsInside()))
			fmt.Fprintf(out, "Chroot:     %s (exists: %s)\n\n", sdk.Path, yesNo(sdk.Exists()))
			fmt.Fprintln(out, renderTable(out, []string{"Scope", "Tool", "Available", "Required", "Detail"},
				append(statusRows("host", host), statusRows("sdk", inSDK)...), nil))

			missing := append(deps.Missing(host), deps.Missing(inSDK)...)
			if len(missing) > 0 {
				return fmt.Errorf("%d required tools missing", len(missing))
			}
			fmt.Fprintln(out, "All required tools found")
			return nil
		},
	}
}

func statusRows(scope string, statuses []deps.Status) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		detail := s.Detail
		if s.Available {
			detail = s.Command
		}
		rows = append(rows, []string{scope, s.Name, yesNo(s.Available), yesNo(!s.Optional), detail})
	}
	return rows
}
