package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// FetcherConfig controls retries and navigation pacing.
type FetcherConfig struct {
	// MaxAttempts is the total number of navigation attempts per URL.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// MinNavigationInterval spaces consecutive navigations. Zero disables pacing.
	MinNavigationInterval time.Duration
}

// DefaultFetcherConfig returns three attempts two seconds apart.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxAttempts:           3,
		RetryDelay:            2 * time.Second,
		MinNavigationInterval: 1500 * time.Millisecond,
	}
}

type driverSource interface {
	Driver(ctx context.Context) (Driver, error)
	Replace(ctx context.Context, reason string) error
	Discard(reason string)
}

// Fetcher implements crawler.PageFetcher on top of a Session.
type Fetcher struct {
	cfg     FetcherConfig
	session driverSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewFetcher builds a Fetcher bound to a session.
func NewFetcher(session driverSource, cfg FetcherConfig, logger *zap.Logger) (*Fetcher, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be > 0")
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retry delay must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.MinNavigationInterval > 0 {
		limit = rate.Every(cfg.MinNavigationInterval)
	}
	return &Fetcher{
		cfg:     cfg,
		session: session,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("fetcher"),
	}, nil
}

// Fetch loads url. Transient failures are retried in place; a dead session
// is replaced before the next attempt. Once attempts are spent a *FetchError
// matching ErrUnrecoverable is returned. Context cancellation is never retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.Document, error) {
	var (
		attempts int
		lastErr  error
	)
	policy := retrypolicy.NewBuilder[crawler.Document]().
		HandleIf(func(_ crawler.Document, err error) bool {
			return err != nil && ctx.Err() == nil && Classify(err) != ClassUnrecoverable
		}).
		WithMaxRetries(f.cfg.MaxAttempts - 1).
		WithDelay(f.cfg.RetryDelay).
		Build()

	doc, err := failsafe.With[crawler.Document](policy).
		WithContext(ctx).
		Get(func() (crawler.Document, error) {
			attempts++
			doc, err := f.attempt(ctx, url, attempts)
			if err != nil {
				lastErr = err
			}
			return doc, err
		})
	if err == nil {
		return doc, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return crawler.Document{}, fmt.Errorf("fetch %s: %w", url, ctxErr)
	}
	if lastErr == nil {
		lastErr = err
	}
	return crawler.Document{}, &FetchError{
		URL:      url,
		Attempts: attempts,
		Class:    Classify(lastErr),
		Err:      lastErr,
	}
}

func (f *Fetcher) attempt(ctx context.Context, url string, n int) (crawler.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return crawler.Document{}, fmt.Errorf("navigation throttle: %w", err)
	}
	drv, err := f.session.Driver(ctx)
	if err != nil {
		return f.fail(ctx, url, n, fmt.Errorf("%w: %v", ErrSessionDead, err))
	}
	if err := drv.Navigate(ctx, url); err != nil {
		return f.fail(ctx, url, n, err)
	}
	html, err := drv.Document(ctx)
	if err != nil {
		return f.fail(ctx, url, n, err)
	}
	metrics.ObserveFetchAttempt(ClassOK.String())
	return crawler.Document{URL: url, HTML: html}, nil
}

func (f *Fetcher) fail(ctx context.Context, url string, n int, err error) (crawler.Document, error) {
	if ctx.Err() != nil {
		return crawler.Document{}, err
	}
	class := Classify(err)
	metrics.ObserveFetchAttempt(class.String())
	f.logger.Warn("navigation attempt failed",
		zap.String("url", url),
		zap.Int("attempt", n),
		zap.Int("max_attempts", f.cfg.MaxAttempts),
		zap.String("class", class.String()),
		zap.Error(err),
	)
	switch {
	case class != ClassSessionDead:
	case n >= f.cfg.MaxAttempts:
		// No retry follows; relaunch only when the next fetch needs a driver.
		f.session.Discard(ReasonSessionDead)
	default:
		if rerr := f.session.Replace(ctx, ReasonSessionDead); rerr != nil {
			f.logger.Error("session replacement failed", zap.String("url", url), zap.Error(rerr))
		}
	}
	return crawler.Document{}, err
}
