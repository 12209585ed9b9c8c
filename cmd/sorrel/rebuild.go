package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/app"
)

func newRebuildIndexCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the candidate index from stored profiles and report counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), app.Options{}, func(_ context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"indexed":      a.IndexStats.Indexed,
					"skipped":      a.IndexStats.Skipped,
					"size":         a.Index.Size(),
					"salt_version": a.Index.SaltVersion(),
				})
			})
		},
	}
}
