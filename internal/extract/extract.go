// Package extract turns listing and detail pages into candidate links and
// record fields using goquery selectors.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Site profiles with built-in link rules and field strategies.
const (
	SiteMubawab = "mubawab"
	SiteAvito   = "avito"
)

// Config controls link enumeration on listing pages.
type Config struct {
	// Site selects the strategy set and fills unset link rules. Empty means mubawab.
	Site string `mapstructure:"site"`
	// LinkSelector matches one element per listing card.
	LinkSelector string `mapstructure:"link_selector"`
	// LinkAttrs are read in order; the first non-empty value is the link.
	LinkAttrs []string `mapstructure:"link_attrs"`
	// LinkMustContain filters candidate links by substring. Empty takes the site default.
	LinkMustContain string `mapstructure:"link_must_contain"`
	// LinkPattern is an optional regexp every absolute candidate link must match.
	LinkPattern string `mapstructure:"link_pattern"`
	// KnownCities are matched against the source URL as a last-resort city.
	KnownCities []string `mapstructure:"known_cities"`
}

// DefaultConfig matches the listing card markup of mubawab.
func DefaultConfig() Config {
	cfg, _ := SiteDefaults(SiteMubawab)
	return cfg
}

// SiteDefaults returns the link rules of a site profile.
func SiteDefaults(site string) (Config, error) {
	cities := []string{"casablanca", "rabat", "marrakech", "tanger"}
	switch strings.ToLower(strings.TrimSpace(site)) {
	case "", SiteMubawab:
		return Config{
			Site:            SiteMubawab,
			LinkSelector:    ".listingBox",
			LinkAttrs:       []string{"linkref", "href"},
			LinkMustContain: "/fr/a/",
			KnownCities:     cities,
		}, nil
	case SiteAvito:
		return Config{
			Site:            SiteAvito,
			LinkSelector:    `a[href*=".htm"]`,
			LinkAttrs:       []string{"href"},
			LinkMustContain: "/fr/",
			// Detail pages sit four path segments deep: /fr/<city>/<category>/<slug>.htm
			LinkPattern: `^https?://[^/]+/fr/[^/]+/[^/]+/[^/?#]+\.htm`,
			KnownCities: cities,
		}, nil
	default:
		return Config{}, fmt.Errorf("unknown extract site %q", site)
	}
}

// WithSiteDefaults fills every unset link rule from the site profile and
// checks LinkPattern.
func (c Config) WithSiteDefaults() (Config, error) {
	def, err := SiteDefaults(c.Site)
	if err != nil {
		return c, err
	}
	c.Site = def.Site
	if strings.TrimSpace(c.LinkSelector) == "" {
		c.LinkSelector = def.LinkSelector
	}
	if len(c.LinkAttrs) == 0 {
		c.LinkAttrs = def.LinkAttrs
	}
	if c.LinkMustContain == "" {
		c.LinkMustContain = def.LinkMustContain
	}
	if c.LinkPattern == "" {
		c.LinkPattern = def.LinkPattern
	}
	if len(c.KnownCities) == 0 {
		c.KnownCities = def.KnownCities
	}
	if c.LinkPattern != "" {
		if _, err := regexp.Compile(c.LinkPattern); err != nil {
			return c, fmt.Errorf("extract.link_pattern: %w", err)
		}
	}
	return c, nil
}

// Page is the parsed detail document handed to each Strategy. Fields holds
// the values extracted so far, in FieldNames order.
type Page struct {
	Doc    *goquery.Document
	URL    string
	Fields crawler.Fields
}

// Strategy extracts one field value. An empty result means "not found".
type Strategy func(p *Page) string

// Extractor implements crawler.ListingExtractor.
type Extractor struct {
	cfg        Config
	pattern    *regexp.Regexp
	order      []string
	strategies map[string][]Strategy
	logger     *zap.Logger
}

// New builds an Extractor with the strategy set of cfg.Site.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if filled, err := cfg.WithSiteDefaults(); err == nil {
		cfg = filled
	}
	return NewWithStrategies(cfg, DefaultStrategies(cfg), logger)
}

// NewWithStrategies builds an Extractor with a caller-supplied strategy set.
// Fields are evaluated in crawler.FieldNames order so later strategies can
// read earlier values.
func NewWithStrategies(cfg Config, strategies map[string][]Strategy, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("extract")
	filled, err := cfg.WithSiteDefaults()
	if err != nil {
		logger.Warn("falling back to mubawab link rules", zap.Error(err))
		filled = DefaultConfig()
	}
	cfg = filled
	var pattern *regexp.Regexp
	if cfg.LinkPattern != "" {
		pattern = regexp.MustCompile(cfg.LinkPattern)
	}
	order := make([]string, 0, len(strategies))
	for _, name := range crawler.FieldNames {
		if _, ok := strategies[name]; ok {
			order = append(order, name)
		}
	}
	return &Extractor{
		cfg:        cfg,
		pattern:    pattern,
		order:      order,
		strategies: strategies,
		logger:     logger,
	}
}

// Links returns absolute candidate detail URLs in page order, without duplicates.
func (e *Extractor) Links(doc crawler.Document) []string {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		e.logger.Warn("parse listing page", zap.String("url", doc.URL), zap.Error(err))
		return nil
	}
	base, _ := url.Parse(doc.URL)

	var links []string
	seen := make(map[string]struct{})
	parsed.Find(e.cfg.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		raw := e.linkOf(sel)
		if raw == "" {
			return
		}
		abs, ok := resolve(base, raw)
		if !ok {
			return
		}
		if e.cfg.LinkMustContain != "" && !strings.Contains(abs, e.cfg.LinkMustContain) {
			return
		}
		if e.pattern != nil && !e.pattern.MatchString(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

func (e *Extractor) linkOf(sel *goquery.Selection) string {
	for _, attr := range e.cfg.LinkAttrs {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	// Cards without their own link attribute usually wrap an anchor.
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

func resolve(base *url.URL, raw string) (string, bool) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	normalized, err := crawler.NormalizeURL(ref.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// Extract runs every field's strategies in order; the first non-empty value wins.
func (e *Extractor) Extract(doc crawler.Document) crawler.Fields {
	fields := make(crawler.Fields, len(crawler.FieldNames))
	for _, name := range crawler.FieldNames {
		fields[name] = nil
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		e.logger.Warn("parse detail page", zap.String("url", doc.URL), zap.Error(err))
		return fields
	}
	page := &Page{Doc: parsed, URL: doc.URL, Fields: fields}
	for _, name := range e.order {
		for _, strategy := range e.strategies[name] {
			if v := cleanText(strategy(page)); v != "" {
				fields[name] = &v
				break
			}
		}
	}
	return fields
}
