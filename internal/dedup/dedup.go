// Package dedup tracks harvested source URLs and allocates record ids.
package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const (
	defaultExpectedItems = 100000
	falsePositiveRate    = 0.0001
)

// Index answers Seen in O(1). The bloom filter rejects most unseen URLs
// without touching the map; the map is the source of truth.
type Index struct {
	mu      sync.RWMutex
	filter  *bloom.BloomFilter
	ids     map[string]int
	maxID   int
	counter int
}

// New builds an Index from a resumed dataset. counter is the persisted
// itemsCollected value, used for id allocation only when the dataset is empty.
func New(dataset *crawler.Dataset, counter int, expectedItems uint) *Index {
	if expectedItems == 0 {
		expectedItems = defaultExpectedItems
	}
	idx := &Index{
		filter:  bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		ids:     make(map[string]int),
		counter: counter,
	}
	if dataset != nil {
		for _, rec := range dataset.Records() {
			idx.mark(rec.SourceURL, rec.ID)
		}
	}
	return idx
}

// Seen reports whether the URL has already been harvested.
func (i *Index) Seen(url string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.filter.TestString(url) {
		return false
	}
	_, ok := i.ids[url]
	return ok
}

// Mark records a harvested URL and its id.
func (i *Index) Mark(url string, id int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mark(url, id)
}

func (i *Index) mark(url string, id int) {
	i.filter.AddString(url)
	i.ids[url] = id
	if id > i.maxID {
		i.maxID = id
	}
}

// NextID returns max(existing ids)+1, or counter+1 when nothing is stored.
// It does not reserve the id; Mark does.
func (i *Index) NextID() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.ids) == 0 {
		return i.counter + 1
	}
	return i.maxID + 1
}

// Len reports the number of tracked URLs.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.ids)
}
