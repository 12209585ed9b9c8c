package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/app"
	"github.com/Ramsey-B/sorrel/pkg/connectors"
)

func newImportCommand(c *cli) *cobra.Command {
	var file, companyID, since, name string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Ingest employee records from a JSON or YAML export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sinceTime *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				sinceTime = &t
			}

			registry := connectors.NewRegistry()
			if err := registry.Register(connectors.NewJSONFileProvider(name, file)); err != nil {
				return err
			}
			provider, err := registry.Get(name)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return c.withApp(ctx, app.Options{}, func(ctx context.Context, a *app.App) error {
				stats, err := a.Ingest.Import(ctx, provider, companyID, sinceTime)
				if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to a JSON array or YAML list of employees")
	cmd.Flags().StringVar(&companyID, "company", "", "only import this company")
	cmd.Flags().StringVar(&since, "since", "", "only import records updated at or after this RFC3339 time")
	cmd.Flags().StringVar(&name, "name", "file", "connector name recorded in logs")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
