package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/neurotune/neurotune-api/internal/schedule"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the fallback schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := schedule.DefaultCatalog().Entries()
			if format != "" {
				out := make(map[string]any, len(entries))
				for _, e := range entries {
					out[e.Key] = e.Schedule
				}
				return writeFormatted(cmd.OutOrStdout(), format, out)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSTEPS\tDURATION\tBPM")
			for _, e := range entries {
				first, last := e.Schedule.Steps[0], e.Schedule.Steps[len(e.Schedule.Steps)-1]
				fmt.Fprintf(tw, "%s\t%d\t%ds\t%d→%d\n", e.Key, len(e.Schedule.Steps), e.Schedule.TotalDurationSec, first.TargetBPM, last.TargetBPM)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "print full schedules as json or yaml")
	return cmd
}
