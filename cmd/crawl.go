package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

func newCrawlCmd() *cobra.Command {
	var opts app.CrawlOptions
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Harvest listings until the cap or the last page",
		Long: `Resumes from the persisted progress cursor, walks listing pages and
captures unseen listings. SIGINT or SIGTERM stops the run at the next item
and writes a final checkpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.StartPage, "start-page", 0, "listing page to start from (default: persisted cursor)")
	cmd.Flags().IntVar(&opts.Cap, "cap", 0, "maximum total records (default: crawler.max_records)")
	cmd.Flags().IntVar(&opts.MaxPages, "max-pages", 0, "last listing page to visit (default: crawler.max_pages)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts app.CrawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	stopServer := startStatusServer(ctx, appInstance)
	defer func() {
		if err := stopServer(); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()

	run, err := appInstance.NewCrawl(ctx, opts)
	if err != nil {
		return err
	}
	summary, err := run.Run(ctx)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// startStatusServer serves the status API when enabled. The returned function
// stops the server and blocks until its shutdown has finished.
func startStatusServer(ctx context.Context, appInstance *app.App) func() error {
	var servers errgroup.Group
	serverCtx, cancel := context.WithCancel(ctx)
	cfg := appInstance.Config()
	if cfg.Server.Enabled {
		server := api.NewServer(appInstance.Store(), appInstance.Logger())
		servers.Go(func() error {
			return server.ListenAndServe(serverCtx, cfg.Server.StatusAddr)
		})
	}
	return func() error {
		cancel()
		return servers.Wait()
	}
}
