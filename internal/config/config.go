// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-harvester/internal/checkpoint"
	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	collyfetcher "github.com/JakeFAU/listing-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/listing-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/listing-harvester/internal/session"
)

// Browser driver names.
const (
	DriverChromedp = "chromedp"
	DriverColly    = "colly"
)

const (
	envPrefix      = "HARVEST"
	avitoBaseURL   = "https://www.avito.ma/fr/maroc/villas_riad-%C3%A0_vendre?cities=8,15,5,12&has_price=true"
	defaultBaseURL = "https://www.mubawab.ma/fr/cc/immobilier-a-louer-all" +
		":ci:1050,1323,417,824" +
		":sc:apartment-rent,commercial-rent,farm-rent,house-rent,land-rent,office-rent,riad-rent,villa-rent"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig     `mapstructure:"crawler"`
	Browser    BrowserConfig     `mapstructure:"browser"`
	Fetch      FetchConfig       `mapstructure:"fetch"`
	Extract    extract.Config    `mapstructure:"extract"`
	Checkpoint checkpoint.Config `mapstructure:"checkpoint"`
	Export     ExportConfig      `mapstructure:"export"`
	Server     ServerConfig      `mapstructure:"server"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// CrawlerConfig governs the page loop and its cadence.
type CrawlerConfig struct {
	URLTemplate                 string `mapstructure:"url_template"`
	FirstPageURL                string `mapstructure:"first_page_url"`
	MaxPages                    int    `mapstructure:"max_pages"`
	MaxRecords                  int    `mapstructure:"max_records"`
	CheckpointEvery             int    `mapstructure:"checkpoint_every"`
	RestartEvery                int    `mapstructure:"restart_every"`
	EmptyPageStreak             int    `mapstructure:"empty_page_streak"`
	SlowPageRestartThreshold    int    `mapstructure:"slow_page_restart_threshold"`
	ItemFailureRestartThreshold int    `mapstructure:"item_failure_restart_threshold"`
	// StartPage overrides the persisted cursor when > 0.
	StartPage int `mapstructure:"start_page"`
}

// BrowserConfig selects and tunes the browser driver.
type BrowserConfig struct {
	Driver                string        `mapstructure:"driver"`
	Headless              bool          `mapstructure:"headless"`
	PageLoadTimeout       time.Duration `mapstructure:"page_load_timeout"`
	RestartCooldown       time.Duration `mapstructure:"restart_cooldown"`
	MinNavigationInterval time.Duration `mapstructure:"min_navigation_interval"`
	UserAgents            []string      `mapstructure:"user_agents"`
	DisableImages         bool          `mapstructure:"disable_images"`
	ExecPath              string        `mapstructure:"exec_path"`
}

// FetchConfig controls per-URL retries.
type FetchConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// ExportConfig names the tabular export destinations. Empty values disable a sink.
type ExportConfig struct {
	CSVPath       string `mapstructure:"csv_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSObject     string `mapstructure:"gcs_object"`
}

// ServerConfig controls the status server started next to a crawl.
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	StatusAddr string `mapstructure:"status_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, the config file at path
// and HARVEST_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	setSiteDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	ext, err := cfg.Extract.WithSiteDefaults()
	if err != nil {
		return Config{}, fmt.Errorf("extract site: %w", err)
	}
	cfg.Extract = ext

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	crawl := crawler.DefaultConfig()
	v.SetDefault("crawler.max_pages", crawl.MaxPages)
	v.SetDefault("crawler.max_records", 5000)
	v.SetDefault("crawler.checkpoint_every", crawl.CheckpointEvery)
	v.SetDefault("crawler.restart_every", crawl.RestartEvery)
	v.SetDefault("crawler.empty_page_streak", crawl.EmptyPageStreak)
	v.SetDefault("crawler.slow_page_restart_threshold", crawl.SlowPageRestartThreshold)
	v.SetDefault("crawler.item_failure_restart_threshold", crawl.ItemFailureRestartThreshold)
	v.SetDefault("crawler.start_page", 0)

	fetch := session.DefaultFetcherConfig()
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.restart_cooldown", "4s")
	v.SetDefault("browser.min_navigation_interval", fetch.MinNavigationInterval)
	v.SetDefault("browser.user_agents", []string{})
	v.SetDefault("browser.disable_images", true)

	v.SetDefault("fetch.max_attempts", fetch.MaxAttempts)
	v.SetDefault("fetch.retry_delay", fetch.RetryDelay)

	v.SetDefault("extract.site", extract.SiteMubawab)

	v.SetDefault("checkpoint.dir", "data")
	v.SetDefault("checkpoint.dataset_file", "listings.json")
	v.SetDefault("checkpoint.backup_file", "listings_backup.json")
	v.SetDefault("checkpoint.progress_file", "progress.json")

	v.SetDefault("export.csv_path", "data/listings.csv")
	v.SetDefault("export.postgres_table", "listings")
	v.SetDefault("export.gcs_object", "listings.csv")

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.status_addr", ":9090")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// setSiteDefaults fills the listing URLs of the configured site. It runs after
// the config file is read so extract.site is known.
func setSiteDefaults(v *viper.Viper) {
	if strings.EqualFold(strings.TrimSpace(v.GetString("extract.site")), extract.SiteAvito) {
		v.SetDefault("crawler.url_template", avitoBaseURL+"&o="+crawler.PagePlaceholder)
		v.SetDefault("crawler.first_page_url", "")
		return
	}
	v.SetDefault("crawler.url_template", defaultBaseURL+":p:"+crawler.PagePlaceholder)
	v.SetDefault("crawler.first_page_url", defaultBaseURL)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.CrawlerConfig().Validate(); err != nil {
		return err
	}
	if c.Crawler.MaxRecords <= 0 {
		return fmt.Errorf("crawler.max_records must be > 0")
	}
	if c.Crawler.StartPage < 0 {
		return fmt.Errorf("crawler.start_page must be >= 0")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverColly:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverColly, c.Browser.Driver)
	}
	if c.Browser.PageLoadTimeout <= 0 {
		return fmt.Errorf("browser.page_load_timeout must be > 0")
	}
	if c.Browser.RestartCooldown < 0 {
		return fmt.Errorf("browser.restart_cooldown must be >= 0")
	}
	if c.Browser.MinNavigationInterval < 0 {
		return fmt.Errorf("browser.min_navigation_interval must be >= 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.RetryDelay < 0 {
		return fmt.Errorf("fetch.retry_delay must be >= 0")
	}
	if _, err := extract.SiteDefaults(c.Extract.Site); err != nil {
		return fmt.Errorf("extract.site: %w", err)
	}
	if strings.TrimSpace(c.Extract.LinkSelector) == "" {
		return fmt.Errorf("extract.link_selector must be set")
	}
	if strings.TrimSpace(c.Checkpoint.Dir) == "" {
		return fmt.Errorf("checkpoint.dir must be set")
	}
	if c.Server.Enabled && c.Server.StatusAddr == "" {
		return fmt.Errorf("server.status_addr must be set when the status server is enabled")
	}
	if c.Export.GCSBucket != "" && c.Export.GCSObject == "" {
		return fmt.Errorf("export.gcs_object must be set when export.gcs_bucket is")
	}
	return nil
}

// CrawlerConfig converts the crawler section into the controller's config.
func (c Config) CrawlerConfig() crawler.Config {
	return crawler.Config{
		URLTemplate:                 c.Crawler.URLTemplate,
		FirstPageURL:                c.Crawler.FirstPageURL,
		MaxPages:                    c.Crawler.MaxPages,
		CheckpointEvery:             c.Crawler.CheckpointEvery,
		RestartEvery:                c.Crawler.RestartEvery,
		EmptyPageStreak:             c.Crawler.EmptyPageStreak,
		SlowPageRestartThreshold:    c.Crawler.SlowPageRestartThreshold,
		ItemFailureRestartThreshold: c.Crawler.ItemFailureRestartThreshold,
	}
}

// SessionConfig converts the browser section into session settings.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		RestartCooldown: c.Browser.RestartCooldown,
		UserAgents:      append([]string(nil), c.Browser.UserAgents...),
	}
}

// FetcherConfig merges retry and pacing settings.
func (c Config) FetcherConfig() session.FetcherConfig {
	return session.FetcherConfig{
		MaxAttempts:           c.Fetch.MaxAttempts,
		RetryDelay:            c.Fetch.RetryDelay,
		MinNavigationInterval: c.Browser.MinNavigationInterval,
	}
}

// HeadlessConfig returns chromedp driver settings.
func (c Config) HeadlessConfig() headless.Config {
	return headless.Config{
		Headless:          c.Browser.Headless,
		NavigationTimeout: c.Browser.PageLoadTimeout,
		DisableImages:     c.Browser.DisableImages,
		ExecPath:          c.Browser.ExecPath,
	}
}

// CollyConfig returns HTTP driver settings.
func (c Config) CollyConfig() collyfetcher.Config {
	return collyfetcher.Config{
		Timeout:         c.Browser.PageLoadTimeout,
		RandomUserAgent: len(c.Browser.UserAgents) == 0,
	}
}
