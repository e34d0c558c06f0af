package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

var (
	whitespace      = regexp.MustCompile(`\s+`)
	priceAnnotation = regexp.MustCompile(`(?i)baisse|hausse`)
	mubawabID       = regexp.MustCompile(`/a/(\d+)(?:/|$)`)
)

// cityAliases maps spellings seen on listings to the canonical city name.
var cityAliases = map[string]string{
	"casa":       "Casablanca",
	"casablanca": "Casablanca",
	"tangier":    "Tanger",
	"tanja":      "Tanger",
	"tanger":     "Tanger",
	"rabat":      "Rabat",
	"marrakech":  "Marrakech",
}

// DefaultStrategies returns the ordered strategy lists for every field of
// cfg.Site.
func DefaultStrategies(cfg Config) map[string][]Strategy {
	if strings.EqualFold(strings.TrimSpace(cfg.Site), SiteAvito) {
		return avitoStrategies(cfg)
	}
	return mubawabStrategies(cfg)
}

func mubawabStrategies(cfg Config) map[string][]Strategy {
	return map[string][]Strategy{
		crawler.FieldPrice:        {price},
		crawler.FieldSurface:      {surface},
		crawler.FieldDistrict:     {textOf("h3.greyTit")},
		crawler.FieldPropertyType: {featureValue("Type de bien")},
		crawler.FieldRooms:        {detailWithIcon("i.icon-bed"), detailWithIcon("i.icon-house-boxes")},
		crawler.FieldBathrooms:    {detailWithIcon("i.icon-bath")},
		crawler.FieldPostedDate:   {textOf("span.adDispDate")},
		crawler.FieldSourceID:     {idFromURL(mubawabID)},
		crawler.FieldCity: {
			normalized(cityFromTitle),
			normalized(cityFromDistrict),
			normalized(featureValue("Ville")),
			cityFromURL(cfg.KnownCities),
		},
	}
}

// idFromURL returns the first capture group of re matched against the page URL.
func idFromURL(re *regexp.Regexp) Strategy {
	return func(p *Page) string {
		if m := re.FindStringSubmatch(p.URL); m != nil {
			return m[1]
		}
		return ""
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func textOf(selector string) Strategy {
	return func(p *Page) string {
		return cleanText(p.Doc.Find(selector).First().Text())
	}
}

func price(p *Page) string {
	raw := cleanText(p.Doc.Find("h3.orangeTit").First().Text())
	if loc := priceAnnotation.FindStringIndex(raw); loc != nil {
		raw = raw[:loc[0]]
	}
	return cleanText(raw)
}

func surface(p *Page) string {
	var out string
	p.Doc.Find("div.adDetailFeature span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := cleanText(s.Text())
		if strings.Contains(t, "m²") || strings.Contains(t, "m2") {
			out = t
			return false
		}
		return true
	})
	return out
}

// featureValue reads the value paired with a label in the main feature block.
func featureValue(label string) Strategy {
	return func(p *Page) string {
		var out string
		p.Doc.Find("div.adMainFeature").EachWithBreak(func(_ int, f *goquery.Selection) bool {
			l := f.Find("p.adMainFeatureContentLabel").First()
			v := f.Find("p.adMainFeatureContentValue").First()
			if l.Length() == 0 || v.Length() == 0 || !strings.Contains(l.Text(), label) {
				return true
			}
			out = cleanText(v.Text())
			return out == ""
		})
		return out
	}
}

func detailWithIcon(icon string) Strategy {
	return func(p *Page) string {
		var out string
		p.Doc.Find("div.adDetailFeature").EachWithBreak(func(_ int, f *goquery.Selection) bool {
			if f.Find(icon).Length() == 0 {
				return true
			}
			out = cleanText(f.Text())
			return out == ""
		})
		return out
	}
}

// afterLastA returns the part after the last " à " separator ("Maarif à Casablanca").
func afterLastA(s string) string {
	s = cleanText(s)
	idx := strings.LastIndex(s, " à ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(s[idx+len(" à "):])
}

func cityFromTitle(p *Page) string {
	return afterLastA(p.Doc.Find("h4.titBlockProp").First().Text())
}

func cityFromDistrict(p *Page) string {
	return afterLastA(p.Fields.Get(crawler.FieldDistrict))
}

func cityFromURL(known []string) Strategy {
	return func(p *Page) string {
		low := strings.ToLower(p.URL)
		for _, city := range known {
			if city != "" && strings.Contains(low, strings.ToLower(city)) {
				return NormalizeCity(city)
			}
		}
		return ""
	}
}

func normalized(s Strategy) Strategy {
	return func(p *Page) string {
		return NormalizeCity(s(p))
	}
}

// NormalizeCity maps known aliases to a canonical name and capitalizes the rest.
func NormalizeCity(city string) string {
	city = cleanText(city)
	if city == "" {
		return ""
	}
	if canonical, ok := cityAliases[strings.ToLower(city)]; ok {
		return canonical
	}
	r, size := utf8.DecodeRuneInString(city)
	return string(unicode.ToUpper(r)) + city[size:]
}
