package scraper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/ListVault/internal/extractor"
	"github.com/JustinTDCT/ListVault/internal/metadata"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

// fakeFetcher serves canned pages keyed by page number.
type fakeFetcher struct {
	pages map[int]*PageResult
	errs  map[int]error
	calls []int
}

func (f *fakeFetcher) FetchPage(_ context.Context, _ string, page int) (*PageResult, error) {
	f.calls = append(f.calls, page)
	if err, ok := f.errs[page]; ok {
		return nil, err
	}
	if r, ok := f.pages[page]; ok {
		return r, nil
	}
	return &PageResult{State: extractor.PageOK}, nil
}

// fakeEnricher answers from static tables and records queries.
type fakeEnricher struct {
	kinds          map[string]models.Kind
	entries        map[string]models.MetadataCacheEntry
	classifyCalled []metadata.Query
	lookupCalled   []metadata.Query
}

func (f *fakeEnricher) ClassifyBatch(_ context.Context, qs []metadata.Query) map[string]models.Kind {
	f.classifyCalled = append(f.classifyCalled, qs...)
	out := make(map[string]models.Kind)
	for _, q := range qs {
		if k, ok := f.kinds[q.Key()]; ok {
			out[q.Key()] = k
		}
	}
	return out
}

func (f *fakeEnricher) LookupBatch(_ context.Context, qs []metadata.Query) map[string]models.MetadataCacheEntry {
	f.lookupCalled = append(f.lookupCalled, qs...)
	out := make(map[string]models.MetadataCacheEntry)
	for _, q := range qs {
		if e, ok := f.entries[q.Key()]; ok {
			out[q.Key()] = e
		}
	}
	return out
}

func pageOf(ids ...string) *PageResult {
	var anchors []extractor.RawAnchor
	for i, id := range ids {
		anchors = append(anchors, extractor.RawAnchor{
			Href:          "/title/" + id + "/",
			Text:          "Title " + id,
			ContainerText: fmt.Sprintf("%d. Title %s\n2015\nFeature Film", i+1, id),
		})
	}
	return &PageResult{State: extractor.PageOK, Anchors: anchors}
}

func ids(n, offset int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tt%07d", offset+i+1)
	}
	return out
}

func newTestOrchestrator(t *testing.T, f Fetcher, e Enricher) (*Orchestrator, *store.ResultCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cache := store.NewResultCache(rdb, 12*time.Hour)
	return NewOrchestrator(f, e, cache, 5, 2), cache
}

func TestScrapeSinglePage(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: pageOf(ids(10, 0)...)}}
	o, cache := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)
	require.Len(t, entry.Items, 10)

	// A short first page means no page 2 fetch.
	assert.Equal(t, []int{1}, fetcher.calls)

	// Ordering: synthetic timestamps preserve extraction order, newest first.
	for i := 1; i < len(entry.Items); i++ {
		assert.True(t, entry.Items[i-1].AddedAt.After(entry.Items[i].AddedAt))
	}

	cached, _, err := cache.Get(context.Background(), "ur1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Len(t, cached.Items, 10)
}

func TestScrapeMultiPageMergeAndDedup(t *testing.T) {
	page1 := pageOf(ids(250, 0)...)
	// Page 2 repeats the last 10 of page 1 plus 50 new items.
	page2 := pageOf(append(ids(10, 240), ids(50, 250)...)...)
	// Page 3 is all repeats: the walk must stop there.
	page3 := pageOf(ids(50, 250)...)

	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: page1, 2: page2, 3: page3}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)
	assert.Len(t, entry.Items, 300)
	assert.Equal(t, []int{1, 2, 3}, fetcher.calls)

	seen := map[string]bool{}
	for _, item := range entry.Items {
		assert.False(t, seen[item.ItemID], item.ItemID)
		seen[item.ItemID] = true
	}
}

func TestScrapeHardCapAt400(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]*PageResult{
		1: pageOf(ids(250, 0)...),
		2: pageOf(ids(250, 250)...),
	}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)
	assert.Len(t, entry.Items, 400)
	assert.Equal(t, []int{1, 2}, fetcher.calls, "cap reached, page 3 never fetched")
}

func TestScrapePrivateList(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: {State: extractor.PagePrivate}}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	_, err := o.Scrape(context.Background(), "ur1", nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrUpstreamPrivate, models.KindOf(err))
	assert.False(t, models.IsTransient(err))
}

func TestScrapeEmptyExtraction(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: {State: extractor.PageOK}}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	_, err := o.Scrape(context.Background(), "ur1", nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrExtractionEmpty, models.KindOf(err))
	assert.True(t, models.IsTransient(err))
}

func TestScrapeAllPagesFail(t *testing.T) {
	navErr := models.E(models.ErrNavigationTimeout, "boom", errors.New("net down"))
	fetcher := &fakeFetcher{errs: map[int]error{1: navErr, 2: navErr, 3: navErr, 4: navErr, 5: navErr}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	_, err := o.Scrape(context.Background(), "ur1", nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrNavigationTimeout, models.KindOf(err))
}

func TestScrapeLaterPageFailureIsPartial(t *testing.T) {
	navErr := models.E(models.ErrNavigationTimeout, "boom", nil)
	fetcher := &fakeFetcher{
		pages: map[int]*PageResult{1: pageOf(ids(250, 0)...), 3: pageOf(ids(5, 250)...)},
		errs:  map[int]error{2: navErr},
	}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)
	assert.Len(t, entry.Items, 255, "failed page skipped, later page still merged")
	assert.Equal(t, 1, entry.Metadata["pages_failed"])
}

func TestScrapeBelowFloorIsPartialError(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: pageOf(ids(2, 0)...)}}
	o, cache := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	previous := &models.WatchlistCacheEntry{
		UserID:    "ur1",
		FetchedAt: time.Now().UTC().Add(-time.Hour),
		Items: []models.WatchlistItem{
			{ItemID: "tt1", Title: "Old 1"}, {ItemID: "tt2", Title: "Old 2"},
			{ItemID: "tt3", Title: "Old 3"}, {ItemID: "tt4", Title: "Old 4"},
		},
	}
	require.NoError(t, cache.Put(context.Background(), previous))

	_, err := o.Scrape(context.Background(), "ur1", nil)
	require.Error(t, err, "a tiny result is a broken scrape, not a success")
	assert.Equal(t, models.ErrExtractionPartial, models.KindOf(err))
	assert.True(t, models.IsTransient(err), "partial extraction must be retried")

	cached, _, err := cache.Get(context.Background(), "ur1")
	require.NoError(t, err)
	assert.Len(t, cached.Items, 4, "suspicious small scrape must not clobber a good entry")
}

func TestScrapeEnrichmentMerge(t *testing.T) {
	year := "2015"
	anchors := []extractor.RawAnchor{
		{Href: "/title/tt0000001/", Text: "Known Movie", ContainerText: "Known Movie\n2015\nFeature Film"},
		{Href: "/title/tt0000002/", Text: "Second Movie", ContainerText: "Second Movie\n2015\nFeature Film"},
		{Href: "/title/tt0000003/", Text: "Third Movie", ContainerText: "Third Movie\n2015\nFeature Film"},
	}
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: {State: extractor.PageOK, Anchors: anchors}}}

	lookupPoster := "https://lookup/poster.jpg"
	rating := 7.5
	enricher := &fakeEnricher{entries: map[string]models.MetadataCacheEntry{
		metadata.CacheKey("Known Movie", &year):  {Poster: &lookupPoster, Rating: &rating},
		metadata.CacheKey("Second Movie", &year): {Rating: &rating},
	}}
	o, _ := newTestOrchestrator(t, fetcher, enricher)

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)
	require.Len(t, entry.Items, 3)

	require.NotNil(t, entry.Items[0].Poster)
	assert.Equal(t, lookupPoster, *entry.Items[0].Poster)
	require.NotNil(t, entry.Items[1].Rating)
	assert.Nil(t, entry.Items[1].Poster)
	assert.Nil(t, entry.Items[2].Rating, "no metadata for third item")
	assert.Equal(t, 2, entry.Metadata["items_enriched"])
}

func TestScrapeClassifierOverridesAllKinds(t *testing.T) {
	anchors := []extractor.RawAnchor{
		{Href: "/title/tt0000001/", Text: "Small Screen Feature", ContainerText: "Small Screen Feature\n2020\nTV Movie"},
		{Href: "/title/tt0000002/", Text: "Mystery Title", ContainerText: "Mystery Title\n2020\nDrama"},
		{Href: "/title/tt0000003/", Text: "Clear Movie", ContainerText: "Clear Movie\n2020\nFeature Film"},
	}
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: {State: extractor.PageOK, Anchors: anchors}}}

	y2020 := "2020"
	enricher := &fakeEnricher{kinds: map[string]models.Kind{
		metadata.CacheKey("Small Screen Feature", &y2020): models.KindSeries,
		metadata.CacheKey("Mystery Title", &y2020):        models.KindSeries,
		metadata.CacheKey("Clear Movie", &y2020):          models.KindSeries,
	}}
	o, _ := newTestOrchestrator(t, fetcher, enricher)

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)

	require.Len(t, enricher.classifyCalled, 3,
		"every item goes through the classifier, page kinds included")
	for _, it := range entry.Items {
		assert.Equal(t, models.KindSeries, it.Kind,
			"classifier answer replaces the provisional page kind: %s", it.ItemID)
	}
}

func TestScrapeClassifierMissKeepsProvisionalKind(t *testing.T) {
	anchors := []extractor.RawAnchor{
		{Href: "/title/tt0000001/", Text: "Clear Series", ContainerText: "Clear Series\n2020\nTV Series"},
		{Href: "/title/tt0000002/", Text: "Plain Drama", ContainerText: "Plain Drama\n2020\nDrama"},
		{Href: "/title/tt0000003/", Text: "Clear Movie", ContainerText: "Clear Movie\n2020\nFeature Film"},
	}
	fetcher := &fakeFetcher{pages: map[int]*PageResult{1: {State: extractor.PageOK, Anchors: anchors}}}
	o, _ := newTestOrchestrator(t, fetcher, &fakeEnricher{})

	entry, err := o.Scrape(context.Background(), "ur1", nil)
	require.NoError(t, err)

	byID := map[string]models.WatchlistItem{}
	for _, it := range entry.Items {
		byID[it.ItemID] = it
	}
	assert.Equal(t, models.KindSeries, byID["tt0000001"].Kind)
	assert.Equal(t, models.KindMovie, byID["tt0000002"].Kind, "token-less card defaults to movie")
	assert.Equal(t, models.KindMovie, byID["tt0000003"].Kind)
}

// gatedFetcher blocks inside FetchPage until released, so concurrent Scrape
// calls are provably in flight together.
type gatedFetcher struct {
	inner   *fakeFetcher
	entered chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) FetchPage(ctx context.Context, userID string, page int) (*PageResult, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.FetchPage(ctx, userID, page)
}

func TestScrapeSingleFlightCollapses(t *testing.T) {
	inner := &fakeFetcher{pages: map[int]*PageResult{1: pageOf(ids(5, 0)...)}}
	gated := &gatedFetcher{
		inner:   inner,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, gated, &fakeEnricher{})

	const n = 4
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := o.Scrape(context.Background(), "ur1", nil)
			results <- err
		}()
	}

	// One execution reaches the fetcher; the rest are queued on the group.
	<-gated.entered
	time.Sleep(50 * time.Millisecond)
	close(gated.release)

	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}
	assert.Equal(t, []int{1}, inner.calls,
		"concurrent scrapes of one user share a single execution")
}

func TestPageURL(t *testing.T) {
	base := "https://www.example.com/user"
	assert.Equal(t,
		"https://www.example.com/user/ur1/watchlist?sort=created:desc&view=detail",
		PageURL(base, "ur1", 1))
	assert.Equal(t,
		"https://www.example.com/user/ur1/watchlist?sort=created:desc&view=detail&page=2",
		PageURL(base, "ur1", 2))
}
