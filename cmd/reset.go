package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Truncate the crawl database",
		Long:  "Removes every site, page, link, image and page_data row. Lookup tables are kept.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd.Context())
		},
	}
}

func runReset(ctx context.Context) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}
	defer func() {
		if cerr := app.Close(ctx); cerr != nil {
			rt.logger.Warn("failed to close crawler", zap.Error(cerr))
		}
	}()
	return app.Reset(ctx)
}
