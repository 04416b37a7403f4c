package scraper

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/JustinTDCT/ListVault/internal/extractor"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/metadata"
	"github.com/JustinTDCT/ListVault/internal/metrics"
	"github.com/JustinTDCT/ListVault/internal/models"
	"github.com/JustinTDCT/ListVault/internal/store"
)

const (
	// The virtual scroller caps a single page at 250 items; a page adding
	// nothing new below that floor means the list simply ended.
	singlePageCap = 250
	// Hard item cap across all pages.
	maxItems = 400
	// A scrape producing fewer items than this is assumed broken and must
	// not overwrite a previously good cache entry.
	minItemsForCacheWrite = 3
)

// PageResult is one fetched list page: its state plus the raw anchors.
type PageResult struct {
	State   extractor.PageState
	Anchors []extractor.RawAnchor
}

// Fetcher loads one page of a user's list. page starts at 1.
type Fetcher interface {
	FetchPage(ctx context.Context, userID string, page int) (*PageResult, error)
}

// Enricher settles item kinds and resolves metadata for scraped items.
type Enricher interface {
	ClassifyBatch(ctx context.Context, queries []metadata.Query) map[string]models.Kind
	LookupBatch(ctx context.Context, queries []metadata.Query) map[string]models.MetadataCacheEntry
}

// Progress receives human-readable phase updates during a scrape.
type Progress func(stage string)

// Orchestrator runs the full scrape pipeline for a user: paginated fetch,
// extraction, classification, enrichment, and the cache write. A singleflight
// group collapses concurrent in-process scrapes of the same user; the
// semaphore bounds total concurrent browser work.
type Orchestrator struct {
	fetcher  Fetcher
	enricher Enricher
	cache    *store.ResultCache

	maxPages int
	sem      chan struct{}
	group    singleflight.Group
	logger   zerolog.Logger
}

func NewOrchestrator(fetcher Fetcher, enricher Enricher, cache *store.ResultCache, maxPages, maxConcurrent int) *Orchestrator {
	if maxPages <= 0 {
		maxPages = 5
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Orchestrator{
		fetcher:  fetcher,
		enricher: enricher,
		cache:    cache,
		maxPages: maxPages,
		sem:      make(chan struct{}, maxConcurrent),
		logger:   log.WithComponent("scraper"),
	}
}

// Scrape produces the user's enriched watchlist and writes it to the result
// cache when it passes the sanity floor. Concurrent calls for the same user
// share one execution.
func (o *Orchestrator) Scrape(ctx context.Context, userID string, progress Progress) (*models.WatchlistCacheEntry, error) {
	v, err, _ := o.group.Do(userID, func() (interface{}, error) {
		select {
		case o.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, models.E(models.ErrTimeout, "scrape slot wait", ctx.Err())
		}
		defer func() { <-o.sem }()
		return o.scrape(ctx, userID, progress)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.WatchlistCacheEntry), nil
}

func (o *Orchestrator) scrape(ctx context.Context, userID string, progress Progress) (*models.WatchlistCacheEntry, error) {
	started := time.Now()
	report := func(stage string) {
		if progress != nil {
			progress(stage)
		}
	}

	items, counters, err := o.fetchAll(ctx, userID, report)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, models.E(models.ErrExtractionEmpty,
			fmt.Sprintf("no items extracted for %s", userID), nil)
	}
	// Below the sanity floor the scrape is treated as broken: the previous
	// good cache entry stays, and the job retries.
	if len(items) < minItemsForCacheWrite {
		return nil, models.E(models.ErrExtractionPartial,
			fmt.Sprintf("only %d items extracted for %s", len(items), userID), nil)
	}

	// Synthetic recency: the page orders newest first, so item i gets a
	// timestamp i seconds in the past. Real added-at dates are not rendered.
	now := time.Now().UTC()
	for i := range items {
		items[i].AddedAt = now.Add(-time.Duration(i) * time.Second)
	}

	report("classifying")
	o.classify(ctx, items)

	report("enriching")
	enriched := o.enrich(ctx, items)

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AddedAt.After(items[j].AddedAt)
	})

	counters["items_total"] = len(items)
	counters["items_enriched"] = enriched
	entry := &models.WatchlistCacheEntry{
		UserID:    userID,
		Items:     items,
		FetchedAt: now,
		Metadata:  counters,
	}

	if err := o.cache.Put(ctx, entry); err != nil {
		return nil, err
	}

	metrics.ScrapeDuration.Observe(time.Since(started).Seconds())
	metrics.ItemsExtracted.Observe(float64(len(items)))
	o.logger.Info().Str("user_id", userID).Int("items", len(items)).
		Dur("elapsed", time.Since(started)).Msg("scrape complete")
	return entry, nil
}

// fetchAll walks pages 1..maxPages, merging by item ID in insertion order
// (first occurrence wins). A page adding zero new items ends the walk, as
// does hitting the hard cap. Individual page failures are skipped; the scrape
// fails only when no page succeeds or the list itself is private or missing.
func (o *Orchestrator) fetchAll(ctx context.Context, userID string, report Progress) ([]models.WatchlistItem, map[string]int, error) {
	var all []models.WatchlistItem
	seen := make(map[string]bool)
	counters := make(map[string]int)
	var lastErr error

	for page := 1; page <= o.maxPages; page++ {
		report(fmt.Sprintf("fetching page %d", page))

		result, err := o.fetcher.FetchPage(ctx, userID, page)
		if err != nil {
			o.logger.Warn().Err(err).Str("user_id", userID).Int("page", page).
				Msg("page fetch failed, skipping")
			counters["pages_failed"]++
			lastErr = err
			continue
		}

		switch result.State {
		case extractor.PagePrivate:
			return nil, nil, models.E(models.ErrUpstreamPrivate,
				fmt.Sprintf("list for %s is private", userID), nil)
		case extractor.PageNotFound:
			return nil, nil, models.E(models.ErrUpstreamNotFound,
				fmt.Sprintf("list for %s not found", userID), nil)
		}

		items, c := extractor.BuildItems(result.Anchors)
		metrics.ShadowAnchorsFiltered.Add(float64(c.ShadowDropped))
		for k, v := range c.ToMap() {
			counters[k] += v
		}
		counters["pages_fetched"]++

		added := 0
		for _, item := range items {
			if seen[item.ItemID] {
				counters["anchors_duplicate"]++
				continue
			}
			seen[item.ItemID] = true
			all = append(all, item)
			added++
		}

		if added == 0 && len(all) > 0 {
			break
		}
		if len(all) >= maxItems {
			all = all[:maxItems]
			break
		}
		// A first page shorter than the scroller cap cannot have a page 2.
		if page == 1 && len(all) < singlePageCap {
			break
		}
	}

	if counters["pages_fetched"] == 0 && lastErr != nil {
		return nil, nil, lastErr
	}
	return all, counters, nil
}

// classify settles every item's kind through the metadata service. The page
// token scan is only provisional; the classifier's answer (which includes the
// override table) replaces it wherever one comes back.
func (o *Orchestrator) classify(ctx context.Context, items []models.WatchlistItem) {
	queries := make([]metadata.Query, 0, len(items))
	for _, item := range items {
		queries = append(queries, metadata.Query{Title: item.Title, Year: item.Year})
	}
	kinds := o.enricher.ClassifyBatch(ctx, queries)
	for i := range items {
		if kind, ok := kinds[queries[i].Key()]; ok {
			items[i].Kind = kind
		}
	}
}

// enrich fills in poster, rating, runtime, and popularity from the metadata
// service. Values already scraped off the page win over looked-up ones.
func (o *Orchestrator) enrich(ctx context.Context, items []models.WatchlistItem) int {
	queries := make([]metadata.Query, 0, len(items))
	for _, item := range items {
		queries = append(queries, metadata.Query{Title: item.Title, Year: item.Year, Kind: item.Kind})
	}
	entries := o.enricher.LookupBatch(ctx, queries)

	enriched := 0
	for i := range items {
		entry, ok := entries[queries[i].Key()]
		if !ok || entry.Empty() {
			continue
		}
		enriched++
		if items[i].Poster == nil {
			items[i].Poster = entry.Poster
		}
		if items[i].Rating == nil {
			items[i].Rating = entry.Rating
		}
		if items[i].RatingCount == nil {
			items[i].RatingCount = entry.RatingCount
		}
		if items[i].Runtime == nil {
			items[i].Runtime = entry.Runtime
		}
		if items[i].Popularity == nil {
			items[i].Popularity = entry.Popularity
		}
	}
	return enriched
}
