package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var rootsFile string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every root catalog in the roots file",
		Long: `Reads newline-delimited ArcGIS REST root URLs and crawls each one in
order. Roots already recorded in the checkpoint are skipped. Records for a
root are persisted before the root is checkpointed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, rootsFile)
		},
	}
	cmd.Flags().StringVar(&rootsFile, "roots", "", "roots file (overrides input.roots_file)")
	return cmd
}

func runCrawl(cmd *cobra.Command, rootsFile string) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	if rootsFile == "" {
		rootsFile = e.cfg.Input.RootsFile
	}
	if rootsFile == "" {
		return errors.New("no roots file: set --roots or input.roots_file")
	}
	roots, err := crawler.LoadRoots(rootsFile)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	serverCtx, stopServer := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if e.cfg.Server.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Server().ListenAndServe(serverCtx, e.cfg.Server.Addr); err != nil {
				e.logger.Error("status server failed", zap.Error(err))
			}
		}()
	}

	summary, runErr := a.Runner().Run(ctx, roots)
	stopServer()
	wg.Wait()

	fmt.Fprintf(cmd.OutOrStdout(),
		"run %s: completed=%d partially_failed=%d skipped=%d failed=%d records_written=%d\n",
		summary.RunID, summary.Completed, summary.PartiallyFailed, summary.Skipped, summary.Failed, summary.RecordsWritten)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			e.logger.Warn("Crawl interrupted; unfinished roots will be retried on the next run")
		}
		return fmt.Errorf("run crawler: %w", runErr)
	}
	e.logger.Info("Crawl command finished.")
	return nil
}
