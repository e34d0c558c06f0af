package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/dedup"
)

const listTemplate = "https://example.com/fr/list?page={page}"

func listURL(page int) string {
	return fmt.Sprintf("https://example.com/fr/list?page=%d", page)
}

func itemURL(name string) string {
	return "https://example.com/fr/a/" + name
}

// fakeFetcher serves listing pages and detail pages from memory.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]string
	failing map[string]bool
	calls   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string][]string{}, failing: map[string]bool{}}
}

func (f *fakeFetcher) page(n int, items ...string) *fakeFetcher {
	links := make([]string, 0, len(items))
	for _, item := range items {
		links = append(links, itemURL(item))
	}
	f.pages[listURL(n)] = links
	return f
}

func (f *fakeFetcher) fail(url string) *fakeFetcher {
	f.failing[url] = true
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.failing[url] {
		return crawler.Document{}, fmt.Errorf("fetch %s: attempts exhausted", url)
	}
	return crawler.Document{URL: url, HTML: url}, nil
}

func (f *fakeFetcher) detailCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, "https://example.com/fr/list?") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fakeExtractor reads links from the fetcher's page table.
type fakeExtractor struct {
	pages map[string][]string
}

func (e fakeExtractor) Links(doc crawler.Document) []string {
	return e.pages[doc.URL]
}

func (e fakeExtractor) Extract(doc crawler.Document) crawler.Fields {
	price := "100 DH"
	return crawler.Fields{crawler.FieldPrice: &price, crawler.FieldCity: nil, crawler.FieldSurface: &doc.URL}
}

// memStore records every checkpoint and checks the progress/dataset pairing.
type memStore struct {
	t        *testing.T
	err      error
	progress []crawler.Progress
}

func (s *memStore) Checkpoint(ds *crawler.Dataset, p crawler.Progress) error {
	if s.err != nil {
		return s.err
	}
	assert.Equal(s.t, ds.Len(), p.ItemsCollected, "progress must describe the dataset written with it")
	s.progress = append(s.progress, p)
	return nil
}

func (s *memStore) last() crawler.Progress {
	if len(s.progress) == 0 {
		return crawler.Progress{}
	}
	return s.progress[len(s.progress)-1]
}

type mockRestarter struct {
	mock.Mock
}

func (m *mockRestarter) Replace(ctx context.Context, reason string) error {
	args := m.Called(ctx, reason)
	return args.Error(0)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type harness struct {
	cfg       crawler.Config
	dataset   *crawler.Dataset
	fetcher   *fakeFetcher
	store     *memStore
	restarter crawler.SessionRestarter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := crawler.DefaultConfig()
	cfg.URLTemplate = listTemplate
	cfg.MaxPages = 1
	return &harness{
		cfg:     cfg,
		dataset: crawler.NewDataset(),
		fetcher: newFakeFetcher(),
		store:   &memStore{t: t},
	}
}

func (h *harness) controller(t *testing.T) *crawler.Controller {
	t.Helper()
	idx := dedup.New(h.dataset, h.dataset.Len(), 0)
	c, err := crawler.NewController(
		h.cfg,
		h.dataset,
		h.fetcher,
		h.restarter,
		fakeExtractor{pages: h.fetcher.pages},
		idx,
		h.store,
		fixedClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		nil,
	)
	require.NoError(t, err)
	return c
}

func ids(ds *crawler.Dataset) []int {
	var out []int
	for _, rec := range ds.Records() {
		out = append(out, rec.ID)
	}
	return out
}

func TestNewControllerValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := crawler.NewController(crawler.Config{}, h.dataset, h.fetcher, nil, fakeExtractor{}, dedup.New(nil, 0, 0), h.store, fixedClock{}, nil)
	require.Error(t, err)

	_, err = crawler.NewController(h.cfg, nil, h.fetcher, nil, fakeExtractor{}, dedup.New(nil, 0, 0), h.store, fixedClock{}, nil)
	require.Error(t, err)

	c := h.controller(t)
	_, err = c.Run(context.Background(), 0, 10)
	require.Error(t, err)
	_, err = c.Run(context.Background(), 1, 0)
	require.Error(t, err)
}

func TestRunStopsAtCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.page(1, "u1", "u2", "u3", "u4", "u5")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 3)
	require.NoError(t, err)

	assert.Equal(t, crawler.StopCapReached, summary.Reason)
	assert.Equal(t, []int{1, 2, 3}, ids(h.dataset))
	assert.Equal(t, 3, summary.ItemsCollected)
	assert.Equal(t, []string{itemURL("u1"), itemURL("u2"), itemURL("u3")}, h.fetcher.detailCalls())
	// The interrupted page is revisited on resume.
	assert.Equal(t, crawler.Progress{Page: 1, ItemsCollected: 3}, h.store.last())
	assert.Equal(t, 1, summary.NextPage)

	rec := h.dataset.Records()[0]
	assert.Equal(t, itemURL("u1"), rec.SourceURL)
	assert.Equal(t, "100 DH", rec.Fields.Get(crawler.FieldPrice))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.CapturedAt)
}

func TestRunSkipsAlreadyHarvested(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.dataset.Add(crawler.Record{ID: 1, SourceURL: itemURL("A")}))
	h.fetcher.page(1, "A", "B")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, crawler.StopPagesExhausted, summary.Reason)
	assert.Equal(t, []string{itemURL("B")}, h.fetcher.detailCalls())
	assert.Equal(t, []int{1, 2}, ids(h.dataset))
	assert.True(t, h.dataset.Contains(itemURL("B")))
	assert.Equal(t, 1, summary.ItemsDuplicate)
	assert.Equal(t, crawler.Progress{Page: 2, ItemsCollected: 2}, h.store.last())
}

func TestRunCapCountsResumedRecords(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.dataset.Add(crawler.Record{ID: 1, SourceURL: itemURL("A")}))
	require.NoError(t, h.dataset.Add(crawler.Record{ID: 2, SourceURL: itemURL("B")}))
	h.fetcher.page(1, "A", "B", "C", "D")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, crawler.StopCapReached, summary.Reason)
	assert.Equal(t, []string{itemURL("C")}, h.fetcher.detailCalls())
	assert.Equal(t, 3, h.dataset.Len())
}

func TestRunFailedPageAdvances(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxPages = 2
	h.fetcher.fail(listURL(1)).page(2, "x")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PagesFailed)
	assert.Equal(t, crawler.Progress{Page: 2, ItemsCollected: 0}, h.store.progress[0])
	assert.Equal(t, []int{1}, ids(h.dataset))
	assert.Equal(t, crawler.Progress{Page: 3, ItemsCollected: 1}, h.store.last())
}

func TestRunSkipsFailedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.page(1, "a", "b", "c").fail(itemURL("b"))
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ItemsFailed)
	assert.Equal(t, []int{1, 2}, ids(h.dataset))
	assert.False(t, h.dataset.Contains(itemURL("b")))
}

func TestRunStopsOnEmptyPageStreak(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxPages = 10
	h.cfg.EmptyPageStreak = 2
	h.fetcher.page(1, "a")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Equal(t, crawler.StopEmptyStreak, summary.Reason)
	assert.Equal(t, 2, summary.PagesEmpty)
	assert.Equal(t, 4, summary.NextPage)
	assert.Equal(t, crawler.Progress{Page: 4, ItemsCollected: 1}, h.store.last())
}

func TestRunCheckpointCadence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.CheckpointEvery = 2
	h.fetcher.page(1, "a", "b", "c", "d", "e")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)

	var collected []int
	for _, p := range h.store.progress {
		collected = append(collected, p.ItemsCollected)
	}
	// Two cadence checkpoints, the page advance and the final one.
	assert.Equal(t, []int{2, 4, 5, 5}, collected)
	assert.Equal(t, 4, summary.Checkpoints)
}

func TestRunScheduledRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.RestartEvery = 2
	h.fetcher.page(1, "a", "b", "c", "d", "e")
	restarter := &mockRestarter{}
	restarter.On("Replace", mock.Anything, crawler.RestartScheduled).Return(nil).Twice()
	h.restarter = restarter
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SessionRestarts)
	restarter.AssertExpectations(t)
}

func TestRunSlowPageRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxPages = 3
	h.cfg.SlowPageRestartThreshold = 2
	h.fetcher.fail(listURL(1)).fail(listURL(2)).page(3, "a")
	restarter := &mockRestarter{}
	restarter.On("Replace", mock.Anything, crawler.RestartSlowPages).Return(nil).Once()
	h.restarter = restarter
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PagesFailed)
	assert.Equal(t, 1, h.dataset.Len())
	restarter.AssertExpectations(t)
}

func TestRunFailingItemsRestart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.ItemFailureRestartThreshold = 2
	h.fetcher.page(1, "a", "b", "c", "d", "e").
		fail(itemURL("a")).fail(itemURL("b")).fail(itemURL("d"))
	restarter := &mockRestarter{}
	restarter.On("Replace", mock.Anything, crawler.RestartFailingItems).Return(nil).Once()
	h.restarter = restarter
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ItemsFailed)
	assert.Equal(t, 1, summary.SessionRestarts)
	assert.Equal(t, []int{1, 2}, ids(h.dataset))
	// "d" alone is below the threshold because "c" reset the streak.
	restarter.AssertExpectations(t)
}

func TestRunFailingItemsStreakSpansPages(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.MaxPages = 2
	h.cfg.ItemFailureRestartThreshold = 2
	h.fetcher.page(1, "a").page(2, "b", "c").fail(itemURL("a")).fail(itemURL("b"))
	restarter := &mockRestarter{}
	restarter.On("Replace", mock.Anything, crawler.RestartFailingItems).Return(nil).Once()
	h.restarter = restarter
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SessionRestarts)
	assert.Equal(t, 1, h.dataset.Len())
	restarter.AssertExpectations(t)
}

func TestRunRestartFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.RestartEvery = 1
	h.fetcher.page(1, "a", "b")
	restarter := &mockRestarter{}
	restarter.On("Replace", mock.Anything, crawler.RestartScheduled).Return(errors.New("chrome refused to start"))
	h.restarter = restarter
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, h.dataset.Len())
	assert.Equal(t, 0, summary.SessionRestarts)
}

func TestRunCanceledWritesFinalCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.page(1, "a")
	c := h.controller(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := c.Run(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, crawler.StopCanceled, summary.Reason)
	require.Len(t, h.store.progress, 1)
	assert.Equal(t, crawler.Progress{Page: 1, ItemsCollected: 0}, h.store.last())
	assert.Empty(t, h.fetcher.calls)
}

func TestRunReturnsPersistenceFault(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.page(1, "a")
	h.store.err = errors.New("disk full")
	c := h.controller(t)

	summary, err := c.Run(context.Background(), 1, 10)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, crawler.StopFailed, summary.Reason)
}

func TestRunResumesMidPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetcher.page(1, "a", "b", "c", "d")
	_, err := h.controller(t).Run(context.Background(), 1, 2)
	require.NoError(t, err)
	resume := h.store.last()

	summary, err := h.controller(t).Run(context.Background(), resume.Page, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemsDuplicate)
	assert.Equal(t, []int{1, 2, 3, 4}, ids(h.dataset))
}
