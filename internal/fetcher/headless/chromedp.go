// Package headless provides a browser driver backed by chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/session"
)

const defaultNavigationTimeout = 30 * time.Second

// Config controls the headless browser.
type Config struct {
	Headless          bool
	NavigationTimeout time.Duration
	DisableImages     bool
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Launcher starts one Chrome process per session.
type Launcher struct {
	cfg    Config
	logger *zap.Logger
}

// NewLauncher validates cfg and returns a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger.Named("chromedp")}, nil
}

func (l *Launcher) allocatorOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch starts Chrome and opens the tab every navigation reuses.
func (l *Launcher) Launch(ctx context.Context, opts session.LaunchOptions) (session.Driver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(opts.UserAgent)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Chrome lives as long as the context of its first Run, so the startup
	// deadline cancels browserCtx directly instead of a child context.
	timer := time.AfterFunc(l.cfg.NavigationTimeout, browserCancel)
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx, networkSetupAction(opts.UserAgent))
	timedOut := !timer.Stop()
	canceled := !stop()
	switch {
	case err != nil:
	case canceled:
		err = ctx.Err()
	case timedOut:
		err = fmt.Errorf("%w: startup exceeded %s", session.ErrTimeout, l.cfg.NavigationTimeout)
	}
	if err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("start chrome: %w", ctx.Err())
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	l.logger.Debug("chrome started", zap.String("session_id", opts.SessionID))
	return &Driver{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		navTimeout:    l.cfg.NavigationTimeout,
	}, nil
}

func networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Driver is one Chrome process with a single reusable tab.
type Driver struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	navTimeout    time.Duration
}

// Navigate loads url and waits for the body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Document returns the outer HTML of the current page.
func (d *Driver) Document(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := d.browserCtx.Err(); err != nil {
		return fmt.Errorf("%w: browser context: %v", session.ErrSessionDead, err)
	}
	// Canceling a derived context aborts the actions without closing the tab.
	tabCtx, cancel := context.WithTimeout(d.browserCtx, d.navTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return d.classify(ctx, chromedp.Run(tabCtx, actions...))
}

// Close shuts Chrome down. A dead process is not an error.
func (d *Driver) Close() error {
	err := chromedp.Cancel(d.browserCtx)
	d.browserCancel()
	d.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

var deadSessionMarkers = []string{
	"invalid session",
	"disconnected",
	"not connected",
	"websocket",
	"target closed",
	"channel closed",
	"no such target",
}

func (d *Driver) classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("chromedp run: %w", ctx.Err())
	case d.browserCtx.Err() != nil, isDeadSession(err):
		return fmt.Errorf("%w: %v", session.ErrSessionDead, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %v", session.ErrTimeout, d.navTimeout, err)
	default:
		return fmt.Errorf("chromedp run: %w", err)
	}
}

func isDeadSession(err error) bool {
	if errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrInvalidTarget) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range deadSessionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
