package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/app"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func newRunCommand(c *cli) *cobra.Command {
	var mode, companyID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a matching job in the foreground and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return c.withApp(ctx, app.Options{}, func(ctx context.Context, a *app.App) error {
				summary, err := a.Orchestrator.Run(ctx, models.RunRequest{
					Mode:      models.RunMode(mode),
					CompanyID: companyID,
				})
				if summary != nil {
					if perr := printJSON(cmd.OutOrStdout(), summary); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(models.RunModeIncremental), "run mode: incremental or full")
	cmd.Flags().StringVar(&companyID, "company", "", "limit the run to one company")
	return cmd
}
