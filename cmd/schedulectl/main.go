// Command schedulectl generates, validates and lists modulation schedules
// without running the HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedulectl",
		Short: "Work with neuro-adaptive modulation schedules",
		Long: `schedulectl talks to the same generation engine as the API.

Examples:
  schedulectl generate --intent "deep focus" --minutes 45
  schedulectl generate --intent sleep --offline --format yaml
  schedulectl validate schedule.json --strict
  schedulectl catalog`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newGenerateCmd(), newValidateCmd(), newCatalogCmd())
	return root
}
