package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/app"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and consume employee updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return c.withApp(ctx, app.Options{Serve: true, Consume: true}, func(ctx context.Context, _ *app.App) error {
				c.logger.WithContext(ctx).Info("sorrel is running")
				<-ctx.Done()
				c.logger.Info("Shutting down")
				return nil
			})
		},
	}
}
