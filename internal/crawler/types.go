// Package crawler defines the listing record model and the resumable crawl controller.
package crawler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field names captured for every listing.
const (
	FieldPrice        = "price"
	FieldSurface      = "surface"
	FieldCity         = "city"
	FieldDistrict     = "district"
	FieldPropertyType = "propertyType"
	FieldRooms        = "rooms"
	FieldBathrooms    = "bathrooms"
	FieldPostedDate   = "postedDate"
	// FieldSourceID is the site's own listing id, taken from the detail URL.
	FieldSourceID = "sourceId"
)

// FieldNames lists the record fields in extraction order. District precedes
// city because the city fallback reads the district suffix.
var FieldNames = []string{
	FieldPrice,
	FieldSurface,
	FieldDistrict,
	FieldCity,
	FieldPropertyType,
	FieldRooms,
	FieldBathrooms,
	FieldPostedDate,
	FieldSourceID,
}

const recordKeyPrefix = "listing_"

// Fields maps a field name to its raw extracted value. Nil means not found.
type Fields map[string]*string

// Get returns the value of a field, or "" when absent.
func (f Fields) Get(name string) string {
	if v, ok := f[name]; ok && v != nil {
		return *v
	}
	return ""
}

// Record is one harvested listing. Records are never mutated after creation.
type Record struct {
	ID         int       `json:"id"`
	SourceURL  string    `json:"sourceUrl"`
	CapturedAt time.Time `json:"capturedAt"`
	Fields     Fields    `json:"fields"`
}

// Key returns the synthetic key under which the record is persisted.
func (r Record) Key() string {
	return recordKeyPrefix + strconv.Itoa(r.ID)
}

// Progress is the resume cursor persisted next to the dataset.
type Progress struct {
	Page           int `json:"page"`
	ItemsCollected int `json:"itemsCollected"`
}

// DefaultProgress is used on a first run.
func DefaultProgress() Progress {
	return Progress{Page: 1, ItemsCollected: 0}
}

// Document is the markup captured after a successful navigation.
type Document struct {
	URL  string
	HTML string
}

// Dataset holds every record keyed by id and indexed by source URL.
// It is owned by the controller and is not safe for concurrent use.
type Dataset struct {
	records map[int]Record
	byURL   map[string]int
}

// NewDataset returns an empty Dataset.
func NewDataset() *Dataset {
	return &Dataset{
		records: make(map[int]Record),
		byURL:   make(map[string]int),
	}
}

// Add inserts a record. A duplicate id or source URL is rejected.
func (d *Dataset) Add(rec Record) error {
	if rec.ID <= 0 {
		return fmt.Errorf("record id must be > 0, got %d", rec.ID)
	}
	if strings.TrimSpace(rec.SourceURL) == "" {
		return fmt.Errorf("record %d has no source url", rec.ID)
	}
	if _, ok := d.records[rec.ID]; ok {
		return fmt.Errorf("duplicate record id %d", rec.ID)
	}
	if id, ok := d.byURL[rec.SourceURL]; ok {
		return fmt.Errorf("source url %q already stored as id %d", rec.SourceURL, id)
	}
	d.records[rec.ID] = rec
	d.byURL[rec.SourceURL] = rec.ID
	return nil
}

// Len reports the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Contains reports whether a record with the given source URL exists.
func (d *Dataset) Contains(sourceURL string) bool {
	_, ok := d.byURL[sourceURL]
	return ok
}

// MaxID returns the largest record id, or 0 for an empty dataset.
func (d *Dataset) MaxID() int {
	maxID := 0
	for id := range d.records {
		if id > maxID {
			maxID = id
		}
	}
	return maxID
}

// Records returns all records ordered by id.
func (d *Dataset) Records() []Record {
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarshalJSON encodes the dataset as an object keyed by listing_<id>.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	payload := make(map[string]Record, len(d.records))
	for _, rec := range d.records {
		payload[rec.Key()] = rec
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal dataset: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes an object keyed by listing_<id>. When a stored
// record carries no id the numeric suffix of its key is used.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var payload map[string]Record
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal dataset: %w", err)
	}
	fresh := NewDataset()
	for key, rec := range payload {
		if rec.ID == 0 {
			id, err := strconv.Atoi(strings.TrimPrefix(key, recordKeyPrefix))
			if err != nil {
				return fmt.Errorf("record key %q has no numeric id", key)
			}
			rec.ID = id
		}
		if err := fresh.Add(rec); err != nil {
			return err
		}
	}
	*d = *fresh
	return nil
}

// StopReason explains why a crawl run ended.
type StopReason string

// Stop reasons reported in a Summary.
const (
	StopCapReached     StopReason = "cap_reached"
	StopPagesExhausted StopReason = "pages_exhausted"
	StopEmptyStreak    StopReason = "empty_page_streak"
	StopCanceled       StopReason = "canceled"
	StopFailed         StopReason = "failed"
)

// Summary reports the counters of one Run.
type Summary struct {
	StartPage       int        `json:"start_page"`
	NextPage        int        `json:"next_page"`
	PagesVisited    int        `json:"pages_visited"`
	PagesFailed     int        `json:"pages_failed"`
	PagesEmpty      int        `json:"pages_empty"`
	ItemsCollected  int        `json:"items_collected"`
	ItemsDuplicate  int        `json:"items_duplicate"`
	ItemsFailed     int        `json:"items_failed"`
	SessionRestarts int        `json:"session_restarts"`
	Checkpoints     int        `json:"checkpoints"`
	Reason          StopReason `json:"reason"`
}
