// Package export flattens the harvested dataset into the tabular schema
// consumed by the downstream model and writes it to CSV, Postgres or GCS.
package export

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// Header is the column order of every tabular export.
var Header = []string{
	"city",
	"district",
	"propertyType",
	"surfaceM2",
	"rooms",
	"bathrooms",
	"price",
	"postedDate",
	"sourceUrl",
}

// Row is one listing in the export schema. Empty strings mean "not found".
type Row struct {
	ID           int
	City         string
	District     string
	PropertyType string
	SurfaceM2    string
	Rooms        string
	Bathrooms    string
	Price        string
	PostedDate   string
	SourceURL    string
}

// Values returns the row in Header order.
func (r Row) Values() []string {
	return []string{
		r.City,
		r.District,
		r.PropertyType,
		r.SurfaceM2,
		r.Rooms,
		r.Bathrooms,
		r.Price,
		r.PostedDate,
		r.SourceURL,
	}
}

// Rows flattens the dataset ordered by record id.
func Rows(ds *crawler.Dataset) []Row {
	if ds == nil {
		return nil
	}
	records := ds.Records()
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		f := rec.Fields
		rows = append(rows, Row{
			ID:           rec.ID,
			City:         f.Get(crawler.FieldCity),
			District:     f.Get(crawler.FieldDistrict),
			PropertyType: f.Get(crawler.FieldPropertyType),
			SurfaceM2:    SurfaceM2(f.Get(crawler.FieldSurface)),
			Rooms:        f.Get(crawler.FieldRooms),
			Bathrooms:    f.Get(crawler.FieldBathrooms),
			Price:        f.Get(crawler.FieldPrice),
			PostedDate:   f.Get(crawler.FieldPostedDate),
			SourceURL:    rec.SourceURL,
		})
	}
	return rows
}

var surfaceNumber = regexp.MustCompile(`\d[\d\s\x{00A0}\x{202F}]*(?:[.,]\d+)?`)

// SurfaceM2 extracts the numeric part of a raw surface such as "1 250,5 m²".
// It returns "" when no number is present.
func SurfaceM2(raw string) string {
	match := surfaceNumber.FindString(raw)
	if match == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\u202f' {
			return -1
		}
		if r == ',' {
			return '.'
		}
		return r
	}, match)
	if _, err := strconv.ParseFloat(cleaned, 64); err != nil {
		return ""
	}
	return cleaned
}

func surfaceFloat(surfaceM2 string) *float64 {
	if surfaceM2 == "" {
		return nil
	}
	v, err := strconv.ParseFloat(surfaceM2, 64)
	if err != nil {
		return nil
	}
	return &v
}
