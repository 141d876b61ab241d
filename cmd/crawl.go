package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gov-crawler/internal/server"
)

func newCrawlCmd() *cobra.Command {
	var opts server.RunOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured seeds",
		Long: `Seeds the frontier from crawler.seeds and crawls breadth-first until the
frontier is empty, crawler.max_pages pages have been visited or the level
limit is reached. SIGINT and SIGTERM stop the crawl after in-flight pages.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.MaxLevel, "max-level", 0, "stop after this many BFS levels (overrides crawler.max_level)")
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "truncate the crawl database before crawling")
	return cmd
}

func runCrawl(ctx context.Context, opts server.RunOptions) error {
	rt, err := resolveRuntime(ctx)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("build crawler: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.logger.Warn("failed to close crawler", zap.Error(cerr))
		}
	}()

	if err := app.Run(ctx, opts); err != nil {
		if errors.Is(err, context.Canceled) {
			rt.logger.Info("crawl stopped by signal")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	rt.logger.Info("crawl command finished")
	return nil
}
