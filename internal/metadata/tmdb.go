package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JustinTDCT/ListVault/internal/models"
)

// Client is the rate-limited TMDB HTTP client. All requests pass through a
// shared token bucket; horizontal scaling means each instance throttles
// itself independently.
type Client struct {
	baseURL    string
	imageBase  string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL, imageBase, apiKey string, rps float64) *Client {
	if rps <= 0 {
		rps = 40
	}
	return &Client{
		baseURL:    baseURL,
		imageBase:  imageBase,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 10),
	}
}

// candidate is one search result, unified across movie and tv responses.
type candidate struct {
	ID         int
	Kind       models.Kind
	Title      string
	Year       *string
	Poster     *string
	Rating     float64
	Votes      int
	Popularity float64
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int     `json:"id"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		PosterPath   string  `json:"poster_path"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		VoteAverage  float64 `json:"vote_average"`
		VoteCount    int     `json:"vote_count"`
		Popularity   float64 `json:"popularity"`
	} `json:"results"`
}

func (c *Client) get(ctx context.Context, reqURL string, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata api returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// Search queries one media kind. A year narrows the search via year= (movie)
// or first_air_date_year= (tv).
func (c *Client) Search(ctx context.Context, kind models.Kind, query string, year *string) ([]candidate, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("metadata API key not configured")
	}

	searchType := "movie"
	yearParam := "year"
	if kind == models.KindSeries {
		searchType = "tv"
		yearParam = "first_air_date_year"
	}

	reqURL := fmt.Sprintf("%s/search/%s?api_key=%s&query=%s",
		c.baseURL, searchType, c.apiKey, url.QueryEscape(query))
	if year != nil && *year != "" {
		reqURL += fmt.Sprintf("&%s=%s", yearParam, url.QueryEscape(*year))
	}

	var result tmdbSearchResponse
	if err := c.get(ctx, reqURL, &result); err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, r := range result.Results {
		title := r.Title
		if title == "" {
			title = r.Name
		}
		dateStr := r.ReleaseDate
		if dateStr == "" {
			dateStr = r.FirstAirDate
		}
		var resultYear *string
		if len(dateStr) >= 4 {
			y := dateStr[:4]
			resultYear = &y
		}
		var poster *string
		if r.PosterPath != "" {
			p := c.imageBase + r.PosterPath
			poster = &p
		}
		candidates = append(candidates, candidate{
			ID:         r.ID,
			Kind:       kind,
			Title:      title,
			Year:       resultYear,
			Poster:     poster,
			Rating:     r.VoteAverage,
			Votes:      r.VoteCount,
			Popularity: r.Popularity,
		})
	}
	return candidates, nil
}

// SearchBoth runs the movie and series searches for one query in parallel.
// A failure on one side is non-fatal; the other side's results still count.
func (c *Client) SearchBoth(ctx context.Context, query string, year *string) (movies, series []candidate) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := c.Search(gctx, models.KindMovie, query, year)
		if err == nil {
			movies = m
		}
		return nil
	})
	g.Go(func() error {
		s, err := c.Search(gctx, models.KindSeries, query, year)
		if err == nil {
			series = s
		}
		return nil
	})
	_ = g.Wait()
	return movies, series
}

// Runtime fetches the detail record for a candidate to obtain its runtime in
// minutes; search results do not carry it. TV runtimes use the first entry of
// episode_run_time.
func (c *Client) Runtime(ctx context.Context, kind models.Kind, id int) (*int, error) {
	if kind == models.KindSeries {
		reqURL := fmt.Sprintf("%s/tv/%d?api_key=%s", c.baseURL, id, c.apiKey)
		var r struct {
			EpisodeRunTime []int `json:"episode_run_time"`
		}
		if err := c.get(ctx, reqURL, &r); err != nil {
			return nil, err
		}
		if len(r.EpisodeRunTime) > 0 && r.EpisodeRunTime[0] >= 0 {
			return &r.EpisodeRunTime[0], nil
		}
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/movie/%d?api_key=%s", c.baseURL, id, c.apiKey)
	var r struct {
		Runtime int `json:"runtime"`
	}
	if err := c.get(ctx, reqURL, &r); err != nil {
		return nil, err
	}
	if r.Runtime > 0 {
		return &r.Runtime, nil
	}
	return nil, nil
}
