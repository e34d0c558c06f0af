package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var (
	avitoID        = regexp.MustCompile(`(\d+)\.htm`)
	avitoPrice     = regexp.MustCompile(`(\d[\d\s\x{00A0}\x{202F}]+)\s*DH`)
	avitoBedrooms  = regexp.MustCompile(`(\d+)\s*chambres?`)
	avitoLounges   = regexp.MustCompile(`(\d+)\s*salons?`)
	avitoBathrooms = regexp.MustCompile(`(\d+)\s*salles?\s*de\s*bains?`)
	nonDigit       = regexp.MustCompile(`\D`)
)

// avitoSurfaceKeys are tried in order; each accepts the number before or after it.
var avitoSurfaceKeys = []string{"surface totale", "m²", "m2", "surface"}

// avitoTypes maps title keywords to property types. Earlier entries win.
var avitoTypes = []struct {
	keywords []string
	kind     string
}{
	{[]string{"appartement", "studio"}, "Appartement"},
	{[]string{"villa", "riad"}, "Villa"},
	{[]string{"maison"}, "Maison"},
	{[]string{"terrain"}, "Terrain"},
	{[]string{"magasin", "local"}, "Commerce"},
	{[]string{"bureau"}, "Bureau"},
}

func avitoStrategies(cfg Config) map[string][]Strategy {
	return map[string][]Strategy{
		crawler.FieldPrice:        {avitoPriceText},
		crawler.FieldSurface:      {avitoSurface},
		crawler.FieldDistrict:     {avitoBreadcrumbDistrict, avitoLocationPart(1)},
		crawler.FieldPropertyType: {avitoPropertyType},
		crawler.FieldRooms:        {avitoRooms},
		crawler.FieldBathrooms:    {bodyCount(avitoBathrooms)},
		crawler.FieldPostedDate:   {textOf("time")},
		crawler.FieldSourceID:     {idFromURL(avitoID)},
		crawler.FieldCity: {
			normalized(breadcrumb(2)),
			normalized(avitoLocationPart(0)),
			cityFromURL(cfg.KnownCities),
		},
	}
}

// bodyText returns the visible text of the body with a space between text
// nodes, so adjacent blocks never run together.
func bodyText(p *Page) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range p.Doc.Find("body").Nodes {
		walk(n)
	}
	return cleanText(strings.Join(parts, " "))
}

func avitoPriceText(p *Page) string {
	m := avitoPrice.FindStringSubmatch(bodyText(p))
	if m == nil {
		return ""
	}
	digits := nonDigit.ReplaceAllString(m[1], "")
	if digits == "" {
		return ""
	}
	return digits + " DH"
}

func avitoSurface(p *Page) string {
	text := strings.ToLower(bodyText(p))
	for _, key := range avitoSurfaceKeys {
		k := regexp.QuoteMeta(key)
		before := regexp.MustCompile(`(\d+)\s*` + k)
		if m := before.FindStringSubmatch(text); m != nil {
			return m[1] + " m²"
		}
		after := regexp.MustCompile(k + `[:\s]*(\d+)`)
		if m := after.FindStringSubmatch(text); m != nil {
			return m[1] + " m²"
		}
	}
	return ""
}

// avitoRooms counts bedrooms and lounges together.
func avitoRooms(p *Page) string {
	text := strings.ToLower(bodyText(p))
	total, found := 0, false
	for _, re := range []*regexp.Regexp{avitoBedrooms, avitoLounges} {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			total += n
			found = true
		}
	}
	if !found {
		return ""
	}
	return strconv.Itoa(total)
}

func bodyCount(re *regexp.Regexp) Strategy {
	return func(p *Page) string {
		if m := re.FindStringSubmatch(strings.ToLower(bodyText(p))); m != nil {
			return m[1]
		}
		return ""
	}
}

func avitoPropertyType(p *Page) string {
	title := strings.ToLower(p.Doc.Find("h1").First().Text())
	for _, t := range avitoTypes {
		for _, kw := range t.keywords {
			if strings.Contains(title, kw) {
				return t.kind
			}
		}
	}
	return ""
}

// breadcrumb returns the text of the i-th item of the first ordered list.
func breadcrumb(i int) Strategy {
	return func(p *Page) string {
		return cleanText(p.Doc.Find("ol").First().Find("li").Eq(i).Text())
	}
}

func avitoBreadcrumbDistrict(p *Page) string {
	d := breadcrumb(3)(p)
	if strings.Contains(d, "Avito") {
		return ""
	}
	return d
}

// avitoLocationPart splits the "City, District" location label.
func avitoLocationPart(i int) Strategy {
	return func(p *Page) string {
		var loc string
		p.Doc.Find(`span[class*="Location"], p[class*="Location"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			loc = cleanText(s.Text())
			return loc == ""
		})
		if loc == "" {
			return ""
		}
		parts := strings.Split(loc, ",")
		if i >= len(parts) {
			return ""
		}
		return strings.TrimSpace(parts[i])
	}
}
