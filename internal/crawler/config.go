package crawler

import (
	"fmt"
	"strings"
)

// PagePlaceholder is substituted with the page number in Config.URLTemplate.
const PagePlaceholder = "{page}"

// Config captures every knob that influences a crawl run.
type Config struct {
	// URLTemplate is the listing URL with a {page} placeholder.
	URLTemplate string
	// FirstPageURL optionally replaces the template for page 1.
	FirstPageURL string
	MaxPages     int
	// CheckpointEvery is the item interval between full checkpoints.
	CheckpointEvery int
	// RestartEvery is the item interval between scheduled session restarts.
	RestartEvery int
	// EmptyPageStreak stops the crawl after this many consecutive pages without candidates.
	EmptyPageStreak int
	// SlowPageRestartThreshold restarts the session after this many consecutive failed listing pages.
	SlowPageRestartThreshold int
	// ItemFailureRestartThreshold restarts the session after this many consecutive failed detail pages.
	ItemFailureRestartThreshold int
}

// DefaultConfig mirrors the production cadence.
func DefaultConfig() Config {
	return Config{
		MaxPages:                    400,
		CheckpointEvery:             50,
		RestartEvery:                200,
		EmptyPageStreak:             3,
		SlowPageRestartThreshold:    3,
		ItemFailureRestartThreshold: 5,
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URLTemplate) == "" {
		return fmt.Errorf("crawler.url_template must be set")
	}
	if !strings.Contains(c.URLTemplate, PagePlaceholder) {
		return fmt.Errorf("crawler.url_template must contain %s", PagePlaceholder)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("crawler.checkpoint_every must be > 0")
	}
	if c.RestartEvery < 0 {
		return fmt.Errorf("crawler.restart_every must be >= 0")
	}
	if c.EmptyPageStreak <= 0 {
		return fmt.Errorf("crawler.empty_page_streak must be > 0")
	}
	if c.SlowPageRestartThreshold < 0 {
		return fmt.Errorf("crawler.slow_page_restart_threshold must be >= 0")
	}
	if c.ItemFailureRestartThreshold < 0 {
		return fmt.Errorf("crawler.item_failure_restart_threshold must be >= 0")
	}
	return nil
}

// PageURL builds the listing URL for a page number.
func (c Config) PageURL(page int) string {
	if page <= 1 && c.FirstPageURL != "" {
		return c.FirstPageURL
	}
	return strings.ReplaceAll(c.URLTemplate, PagePlaceholder, fmt.Sprint(page))
}
