package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/dedup"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/session"
)

// CrawlOptions override configuration for a single run. Zero values keep
// the configured or persisted value.
type CrawlOptions struct {
	StartPage int
	Cap       int
	MaxPages  int
}

// Crawl is a fully wired run with a live browser session.
type Crawl struct {
	Controller *crawler.Controller
	Session    *session.Session
	Dataset    *crawler.Dataset
	StartPage  int
	Cap        int
}

// NewCrawl loads the checkpoint, rebuilds the dedup index and starts the
// browser session. A session that cannot start is a startup fault.
func (a *App) NewCrawl(ctx context.Context, opts CrawlOptions) (*Crawl, error) {
	logger := a.logger
	dataset, progress, err := a.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if progress.ItemsCollected != dataset.Len() {
		logger.Warn("progress counter disagrees with dataset, using dataset size",
			zap.Int("progress_items", progress.ItemsCollected),
			zap.Int("dataset_items", dataset.Len()),
		)
	}

	startPage := progress.Page
	if a.cfg.Crawler.StartPage > 0 {
		startPage = a.cfg.Crawler.StartPage
	}
	if opts.StartPage > 0 {
		startPage = opts.StartPage
	}
	targetCap := a.cfg.Crawler.MaxRecords
	if opts.Cap > 0 {
		targetCap = opts.Cap
	}
	crawlCfg := a.cfg.CrawlerConfig()
	if opts.MaxPages > 0 {
		crawlCfg.MaxPages = opts.MaxPages
	}

	index := dedup.New(dataset, progress.ItemsCollected, uint(targetCap))
	extractor := extract.New(a.cfg.Extract, logger)

	sess, err := session.New(a.launcher, a.cfg.SessionConfig(), uuid.New(), logger)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	fetcher, err := session.NewFetcher(sess, a.cfg.FetcherConfig(), logger)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	controller, err := crawler.NewController(
		crawlCfg,
		dataset,
		fetcher,
		sess,
		extractor,
		index,
		a.store,
		system.New(),
		logger,
	)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("build controller: %w", err)
	}
	return &Crawl{
		Controller: controller,
		Session:    sess,
		Dataset:    dataset,
		StartPage:  startPage,
		Cap:        targetCap,
	}, nil
}

// Run drives the controller and closes the session afterwards.
func (c *Crawl) Run(ctx context.Context) (crawler.Summary, error) {
	defer func() { _ = c.Session.Close() }()
	summary, err := c.Controller.Run(ctx, c.StartPage, c.Cap)
	if err != nil {
		return summary, fmt.Errorf("crawl: %w", err)
	}
	return summary, nil
}
