package crawler

import (
	"context"
	"time"
)

// PageFetcher loads a URL through the browser session and returns its markup.
// Implementations own retries and session recovery.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// SessionRestarter replaces the live browser session.
type SessionRestarter interface {
	Replace(ctx context.Context, reason string) error
}

// ListingExtractor parses listing and detail documents.
type ListingExtractor interface {
	// Links returns the candidate detail URLs of a listing page in page order.
	Links(doc Document) []string
	// Extract parses a detail page. Missing fields are nil, never an error.
	Extract(doc Document) Fields
}

// Deduplicator answers membership queries for source URLs and allocates ids.
type Deduplicator interface {
	Seen(url string) bool
	Mark(url string, id int)
	NextID() int
}

// CheckpointStore persists the dataset, its backup and the progress cursor.
type CheckpointStore interface {
	Checkpoint(dataset *Dataset, progress Progress) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
