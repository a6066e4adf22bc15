package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vert/internal/deps"
	"vert/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify converter tools and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := isTerminalWriter(out)

			statuses := preflight.CheckSystemDeps(cfg)
			var rows [][]string
			for _, status := range statuses {
				detail := status.Detail
				if status.Available {
					if version, err := preflight.ToolVersion(cmd.Context(), status.Command); err == nil {
						detail = version
					}
				}
				rows = append(rows, []string{
					status.Name,
					status.Command,
					dependencyLabel(status, colorize),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Tool", "Command", "Status", "Detail"}, rows, nil))

			results := preflight.RunAll(cmd.Context(), cfg)
			rows = rows[:0]
			for _, result := range results {
				label := colorStatus("OK", statusOK, colorize)
				if !result.Passed {
					label = colorStatus("FAIL", statusError, colorize)
				}
				rows = append(rows, []string{result.Name, label, result.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Directory", "Status", "Detail"}, rows, nil))

			failures := len(deps.MissingRequired(statuses)) + len(preflight.Failed(results))
			if failures > 0 {
				return fmt.Errorf("%d required check(s) failed", failures)
			}
			return nil
		},
	}
}

func dependencyLabel(status deps.Status, colorize bool) string {
	switch {
	case status.Available:
		return colorStatus("OK", statusOK, colorize)
	case status.Optional:
		return colorStatus("MISSING (optional)", statusWarn, colorize)
	default:
		return colorStatus("MISSING", statusError, colorize)
	}
}
