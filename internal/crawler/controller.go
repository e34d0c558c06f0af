package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// Restart reasons passed to SessionRestarter.Replace.
const (
	RestartScheduled    = "scheduled"
	RestartSlowPages    = "slow_pages"
	RestartFailingItems = "failing_items"
)

// Controller drives the page loop and the item loop of a crawl run.
type Controller struct {
	cfg       Config
	dataset   *Dataset
	fetcher   PageFetcher
	session   SessionRestarter
	extractor ListingExtractor
	dedup     Deduplicator
	store     CheckpointStore
	clock     Clock
	logger    *zap.Logger

	page      int
	collected int

	// itemFailStreak counts consecutive failed detail pages across listing pages.
	itemFailStreak int
}

// NewController wires a Controller around a dataset loaded from the checkpoint store.
func NewController(
	cfg Config,
	dataset *Dataset,
	fetcher PageFetcher,
	session SessionRestarter,
	extractor ListingExtractor,
	dedup Deduplicator,
	store CheckpointStore,
	clock Clock,
	logger *zap.Logger,
) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case dataset == nil:
		return nil, errors.New("dataset is required")
	case fetcher == nil:
		return nil, errors.New("page fetcher is required")
	case extractor == nil:
		return nil, errors.New("listing extractor is required")
	case dedup == nil:
		return nil, errors.New("deduplicator is required")
	case store == nil:
		return nil, errors.New("checkpoint store is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		dataset:   dataset,
		fetcher:   fetcher,
		session:   session,
		extractor: extractor,
		dedup:     dedup,
		store:     store,
		clock:     clock,
		logger:    logger.Named("controller"),
		collected: dataset.Len(),
	}, nil
}

// Progress returns the current resume cursor.
func (c *Controller) Progress() Progress {
	return Progress{Page: c.page, ItemsCollected: c.collected}
}

// Run crawls from startPage until targetCap records exist in the dataset, the
// page range is exhausted, too many consecutive pages are empty, or ctx ends.
// A final checkpoint is written on every exit path.
func (c *Controller) Run(ctx context.Context, startPage, targetCap int) (summary Summary, err error) {
	if startPage < 1 {
		return Summary{}, fmt.Errorf("start page must be >= 1, got %d", startPage)
	}
	if targetCap <= 0 {
		return Summary{}, fmt.Errorf("target cap must be > 0, got %d", targetCap)
	}
	c.page = startPage
	summary.StartPage = startPage

	c.logger.Info("crawl starting",
		zap.Int("start_page", startPage),
		zap.Int("target_cap", targetCap),
		zap.Int("items_collected", c.collected),
		zap.Int("max_pages", c.cfg.MaxPages),
	)

	defer func() {
		if cerr := c.checkpoint(&summary); cerr != nil {
			err = errors.Join(err, fmt.Errorf("final checkpoint: %w", cerr))
		}
		summary.NextPage = c.page
		c.logger.Info("crawl finished",
			zap.String("reason", string(summary.Reason)),
			zap.Int("next_page", c.page),
			zap.Int("items_collected", c.collected),
			zap.Int("items_new", summary.ItemsCollected),
			zap.Int("pages_failed", summary.PagesFailed),
			zap.Int("session_restarts", summary.SessionRestarts),
		)
	}()

	summary.Reason, err = c.loop(ctx, targetCap, &summary)
	return summary, err
}

func (c *Controller) loop(ctx context.Context, targetCap int, s *Summary) (StopReason, error) {
	emptyStreak := 0
	failStreak := 0
	for c.page <= c.cfg.MaxPages {
		if c.collected >= targetCap {
			return StopCapReached, nil
		}
		if ctx.Err() != nil {
			return StopCanceled, nil
		}
		metrics.SetCurrentPage(c.page)

		pageURL := c.cfg.PageURL(c.page)
		doc, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return StopCanceled, nil
			}
			s.PagesFailed++
			failStreak++
			metrics.ObservePage(metrics.StatusFailed)
			c.logger.Warn("listing page skipped",
				zap.Int("page", c.page),
				zap.String("url", pageURL),
				zap.Int("fail_streak", failStreak),
				zap.Error(err),
			)
			if c.cfg.SlowPageRestartThreshold > 0 && failStreak >= c.cfg.SlowPageRestartThreshold {
				c.restart(ctx, RestartSlowPages, s)
				failStreak = 0
			}
			if err := c.advance(s); err != nil {
				return StopFailed, err
			}
			continue
		}
		failStreak = 0
		s.PagesVisited++

		links := c.extractor.Links(doc)
		if len(links) == 0 {
			emptyStreak++
			s.PagesEmpty++
			metrics.ObservePage(metrics.StatusEmpty)
			c.logger.Info("listing page has no candidates",
				zap.Int("page", c.page),
				zap.Int("empty_streak", emptyStreak),
			)
			if err := c.advance(s); err != nil {
				return StopFailed, err
			}
			if emptyStreak >= c.cfg.EmptyPageStreak {
				return StopEmptyStreak, nil
			}
			continue
		}
		emptyStreak = 0
		metrics.ObservePage(metrics.StatusOK)
		c.logger.Debug("listing page loaded", zap.Int("page", c.page), zap.Int("candidates", len(links)))

		complete, err := c.harvest(ctx, links, targetCap, s)
		if err != nil {
			return StopFailed, err
		}
		if !complete {
			// Cap or cancellation interrupted the page; resume revisits it.
			if ctx.Err() != nil {
				return StopCanceled, nil
			}
			return StopCapReached, nil
		}
		if err := c.advance(s); err != nil {
			return StopFailed, err
		}
	}
	if c.collected >= targetCap {
		return StopCapReached, nil
	}
	return StopPagesExhausted, nil
}

// harvest walks the candidates of one listing page. It reports whether every
// candidate was considered.
func (c *Controller) harvest(ctx context.Context, links []string, targetCap int, s *Summary) (bool, error) {
	onPage := make(map[string]struct{}, len(links))
	for _, link := range links {
		if c.collected >= targetCap || ctx.Err() != nil {
			return false, nil
		}
		if _, dup := onPage[link]; dup {
			continue
		}
		onPage[link] = struct{}{}
		if c.dedup.Seen(link) {
			s.ItemsDuplicate++
			metrics.ObserveItem(metrics.StatusDuplicate)
			continue
		}

		doc, err := c.fetcher.Fetch(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			s.ItemsFailed++
			c.itemFailStreak++
			metrics.ObserveItem(metrics.StatusFailed)
			c.logger.Warn("listing skipped",
				zap.String("url", link),
				zap.Int("fail_streak", c.itemFailStreak),
				zap.Error(err),
			)
			if c.cfg.ItemFailureRestartThreshold > 0 && c.itemFailStreak >= c.cfg.ItemFailureRestartThreshold {
				c.restart(ctx, RestartFailingItems, s)
				c.itemFailStreak = 0
			}
			continue
		}
		c.itemFailStreak = 0

		rec := Record{
			ID:         c.dedup.NextID(),
			SourceURL:  link,
			CapturedAt: c.clock.Now().UTC(),
			Fields:     c.extractor.Extract(doc),
		}
		if err := c.dataset.Add(rec); err != nil {
			return false, fmt.Errorf("add record: %w", err)
		}
		c.dedup.Mark(link, rec.ID)
		c.collected++
		s.ItemsCollected++
		metrics.ObserveItem(metrics.StatusOK)
		metrics.SetItemsCollected(c.collected)
		c.logger.Debug("listing collected",
			zap.Int("id", rec.ID),
			zap.String("url", link),
			zap.Int("items_collected", c.collected),
		)

		if c.collected%c.cfg.CheckpointEvery == 0 {
			if err := c.checkpoint(s); err != nil {
				return false, err
			}
		}
		if c.cfg.RestartEvery > 0 && c.collected%c.cfg.RestartEvery == 0 {
			c.restart(ctx, RestartScheduled, s)
		}
	}
	return true, nil
}

func (c *Controller) advance(s *Summary) error {
	c.page++
	return c.checkpoint(s)
}

func (c *Controller) checkpoint(s *Summary) error {
	progress := c.Progress()
	if err := c.store.Checkpoint(c.dataset, progress); err != nil {
		metrics.ObserveCheckpoint(metrics.StatusFailed)
		c.logger.Error("checkpoint failed", zap.Int("page", progress.Page), zap.Error(err))
		return fmt.Errorf("checkpoint at page %d: %w", progress.Page, err)
	}
	s.Checkpoints++
	metrics.ObserveCheckpoint(metrics.StatusOK)
	c.logger.Debug("checkpoint written",
		zap.Int("page", progress.Page),
		zap.Int("items_collected", progress.ItemsCollected),
	)
	return nil
}

func (c *Controller) restart(ctx context.Context, reason string, s *Summary) {
	if c.session == nil {
		return
	}
	if err := c.session.Replace(ctx, reason); err != nil {
		c.logger.Error("session restart failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.SessionRestarts++
}
