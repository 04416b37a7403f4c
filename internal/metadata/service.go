package metadata

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/metrics"
	"github.com/JustinTDCT/ListVault/internal/models"
)

const (
	lookupBatchSize   = 50
	classifyBatchSize = 20
	batchPause        = 10 * time.Millisecond
	perBatchWorkers   = 10
)

// Query is one enrichment request: the scraped title plus its year, if the
// extractor found one.
type Query struct {
	Title string
	Year  *string
	Kind  models.Kind
}

func (q Query) Key() string { return CacheKey(q.Title, q.Year) }

// Service answers enrichment and classification queries, cache first, then
// the upstream API through a strategy ladder of progressively looser searches.
type Service struct {
	client *Client
	cache  *Cache

	overrides map[string]models.Kind
	logger    zerolog.Logger
}

func NewService(client *Client, cache *Cache, overrides map[string]models.Kind) *Service {
	if overrides == nil {
		overrides = defaultOverrides
	}
	return &Service{
		client:    client,
		cache:     cache,
		overrides: overrides,
		logger:    log.WithComponent("metadata"),
	}
}

// ──────────────────── Lookup ────────────────────

// LookupBatch resolves enrichment data for every query, keyed by Query.Key().
// Every query gets an answer; unresolvable titles map to an empty entry that
// is also written to the cache as a negative result. Individual upstream
// failures degrade to empty entries rather than failing the batch.
func (s *Service) LookupBatch(ctx context.Context, queries []Query) map[string]models.MetadataCacheEntry {
	results := make(map[string]models.MetadataCacheEntry, len(queries))
	var mu sync.Mutex

	for start := 0; start < len(queries); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(queries) {
			end = len(queries)
		}

		sem := make(chan struct{}, perBatchWorkers)
		var wg sync.WaitGroup
		for _, q := range queries[start:end] {
			mu.Lock()
			_, seen := results[q.Key()]
			mu.Unlock()
			if seen {
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(q Query) {
				defer wg.Done()
				defer func() { <-sem }()
				entry := s.lookupOne(ctx, q)
				mu.Lock()
				results[q.Key()] = entry
				mu.Unlock()
			}(q)
		}
		wg.Wait()

		if end < len(queries) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(batchPause):
			}
		}
	}
	return results
}

func (s *Service) lookupOne(ctx context.Context, q Query) models.MetadataCacheEntry {
	key := q.Key()
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != nil {
		metrics.MetadataCacheHits.Inc()
		return *cached
	}
	metrics.MetadataCacheMisses.Inc()

	best := s.resolve(ctx, q)

	entry := models.MetadataCacheEntry{CachedAt: time.Now().UTC()}
	if best != nil {
		entry.Poster = best.Poster
		if best.Rating > 0 {
			r := best.Rating
			entry.Rating = &r
		}
		if best.Votes > 0 {
			v := best.Votes
			entry.RatingCount = &v
		}
		if best.Popularity > 0 {
			p := best.Popularity
			entry.Popularity = &p
		}
		if rt, err := s.client.Runtime(ctx, best.Kind, best.ID); err == nil {
			entry.Runtime = rt
		}
	}

	if err := s.cache.Put(ctx, key, &entry); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("metadata cache write failed")
	}
	return entry
}

// resolve walks the strategy ladder: exact title with year, normalized title
// with year, exact title alone, normalized title alone. First strategy with
// candidates wins.
func (s *Service) resolve(ctx context.Context, q Query) *candidate {
	type strategy struct {
		query string
		year  *string
	}
	normalized := Normalize(q.Title)

	ladder := []strategy{{q.Title, q.Year}}
	if normalized != q.Title {
		ladder = append(ladder, strategy{normalized, q.Year})
	}
	if q.Year != nil {
		ladder = append(ladder, strategy{q.Title, nil})
		if normalized != q.Title {
			ladder = append(ladder, strategy{normalized, nil})
		}
	}

	for _, st := range ladder {
		if st.query == "" {
			continue
		}
		var cands []candidate
		if q.Kind == models.KindMovie || q.Kind == models.KindSeries {
			got, err := s.client.Search(ctx, q.Kind, st.query, st.year)
			if err != nil {
				continue
			}
			cands = got
		} else {
			movies, series := s.client.SearchBoth(ctx, st.query, st.year)
			cands = append(movies, series...)
		}
		if best := bestMatch(cands, q.Year); best != nil {
			return best
		}
	}
	return nil
}

// bestMatch prefers the candidate whose year is closest to the query's, then
// the most popular one. Without a query year, popularity alone decides.
func bestMatch(cands []candidate, year *string) *candidate {
	if len(cands) == 0 {
		return nil
	}

	var wantYear int
	if year != nil {
		wantYear, _ = strconv.Atoi(*year)
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if wantYear > 0 {
			di := yearDistance(cands[i], wantYear)
			db := yearDistance(cands[best], wantYear)
			if di < db {
				best = i
				continue
			}
			if di > db {
				continue
			}
		}
		if cands[i].Popularity > cands[best].Popularity {
			best = i
		}
	}
	return &cands[best]
}

func yearDistance(c candidate, want int) int {
	if c.Year == nil {
		return math.MaxInt32
	}
	y, err := strconv.Atoi(*c.Year)
	if err != nil {
		return math.MaxInt32
	}
	if y > want {
		return y - want
	}
	return want - y
}

// ──────────────────── Classification ────────────────────

// ClassifyBatch decides movie vs series for titles whose page tokens were
// ambiguous. The override table wins outright; otherwise the more popular of
// the top movie and top series result decides, defaulting to movie.
func (s *Service) ClassifyBatch(ctx context.Context, queries []Query) map[string]models.Kind {
	results := make(map[string]models.Kind, len(queries))
	var mu sync.Mutex

	for start := 0; start < len(queries); start += classifyBatchSize {
		end := start + classifyBatchSize
		if end > len(queries) {
			end = len(queries)
		}

		sem := make(chan struct{}, perBatchWorkers)
		var wg sync.WaitGroup
		for _, q := range queries[start:end] {
			norm := Normalize(q.Title)
			if kind, ok := s.overrides[norm]; ok {
				mu.Lock()
				results[q.Key()] = kind
				mu.Unlock()
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(q Query) {
				defer wg.Done()
				defer func() { <-sem }()
				kind := s.classifyOne(ctx, q)
				mu.Lock()
				results[q.Key()] = kind
				mu.Unlock()
			}(q)
		}
		wg.Wait()

		if end < len(queries) {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(batchPause):
			}
		}
	}
	return results
}

func (s *Service) classifyOne(ctx context.Context, q Query) models.Kind {
	movies, series := s.client.SearchBoth(ctx, q.Title, q.Year)

	var moviePop, seriesPop float64
	if best := bestMatch(movies, q.Year); best != nil {
		moviePop = best.Popularity
	}
	if best := bestMatch(series, q.Year); best != nil {
		seriesPop = best.Popularity
	}

	if seriesPop > moviePop {
		return models.KindSeries
	}
	return models.KindMovie
}
