// Package collyfetcher provides an HTTP-only browser driver built on gocolly,
// for listing sites that render server-side.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/JakeFAU/listing-harvester/internal/session"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	// RandomUserAgent rotates the user agent per request when the session
	// does not pin one.
	RandomUserAgent bool
}

// Launcher creates one collector per session over a shared transport.
type Launcher struct {
	cfg       Config
	transport *http.Transport
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Launcher{cfg: cfg, transport: newHTTPTransport()}
}

// Launch returns a fresh collector-backed driver.
func (l *Launcher) Launch(_ context.Context, opts session.LaunchOptions) (session.Driver, error) {
	life, kill := context.WithCancel(context.Background())
	return &Driver{
		life:      life,
		kill:      kill,
		transport: l.transport,
		newCollector: func(ctx context.Context) *colly.Collector {
			c := colly.NewCollector(colly.Async(false), colly.StdlibContext(ctx))
			c.AllowURLRevisit = true
			c.WithTransport(l.transport)
			c.SetRequestTimeout(l.cfg.Timeout)
			switch {
			case opts.UserAgent != "":
				c.UserAgent = opts.UserAgent
			case l.cfg.RandomUserAgent:
				extensions.RandomUserAgent(c)
			}
			extensions.Referer(c)
			return c
		},
	}, nil
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Driver holds the last fetched page. Each navigation runs on its own
// collector bound to the caller's context, so cancellation aborts the request.
type Driver struct {
	newCollector func(ctx context.Context) *colly.Collector
	transport    *http.Transport
	life         context.Context
	kill         context.CancelFunc

	mu     sync.Mutex
	body   []byte
	status int
	err    error
}

func (d *Driver) configureCollectorHooks(hooks collectorHooks) {
	hooks.OnResponse(func(r *colly.Response) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.body = append([]byte(nil), r.Body...)
		d.status = r.StatusCode
		d.err = nil
	})
	hooks.OnError(func(r *colly.Response, err error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.body = nil
		d.status = 0
		if r != nil {
			d.status = r.StatusCode
		}
		d.err = err
	})
}

// Navigate performs a GET and keeps the body for Document.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if d.life.Err() != nil {
		return fmt.Errorf("%w: collector closed", session.ErrSessionDead)
	}
	d.mu.Lock()
	d.body, d.status, d.err = nil, 0, nil
	d.mu.Unlock()

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.life, cancel)
	defer stop()

	c := d.newCollector(reqCtx)
	d.configureCollectorHooks(c)
	err := c.Visit(url)

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case d.life.Err() != nil:
		return fmt.Errorf("%w: collector closed during fetch", session.ErrSessionDead)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		err = d.err
	}
	return classify(d.status, err)
}

// Document returns the body of the last successful navigation.
func (d *Driver) Document(context.Context) (string, error) {
	if d.life.Err() != nil {
		return "", fmt.Errorf("%w: collector closed", session.ErrSessionDead)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.body == nil {
		return "", errors.New("no document loaded")
	}
	return string(d.body), nil
}

// Close marks the driver dead, aborts an in-flight request and drops idle connections.
func (d *Driver) Close() error {
	d.kill()
	d.mu.Lock()
	d.body = nil
	d.mu.Unlock()
	d.transport.CloseIdleConnections()
	return nil
}

func classify(status int, err error) error {
	if err == nil {
		return nil
	}
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: status %d: %v", session.ErrPermanent, status, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", session.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", session.ErrTimeout, err)
	}
	return fmt.Errorf("colly visit failed: %w", err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
