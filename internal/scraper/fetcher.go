package scraper

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/JustinTDCT/ListVault/internal/browser"
	"github.com/JustinTDCT/ListVault/internal/extractor"
	"github.com/JustinTDCT/ListVault/internal/log"
	"github.com/JustinTDCT/ListVault/internal/models"
)

// PageURL builds the list URL for a page. page=N is the parameter the source
// actually honors; start= and offset= silently return page 1.
func PageURL(baseURL, userID string, page int) string {
	u := fmt.Sprintf("%s/%s/watchlist?sort=created:desc&view=detail", baseURL, userID)
	if page > 1 {
		u += fmt.Sprintf("&page=%d", page)
	}
	return u
}

// BrowserFetcher loads list pages through the headless browser driver.
type BrowserFetcher struct {
	driver   *browser.Driver
	baseURL  string
	identity string
	logger   zerolog.Logger
}

func NewBrowserFetcher(driver *browser.Driver, baseURL, identity string) *BrowserFetcher {
	if identity == "" {
		identity = "default"
	}
	return &BrowserFetcher{
		driver:   driver,
		baseURL:  baseURL,
		identity: identity,
		logger:   log.WithComponent("fetcher"),
	}
}

func (f *BrowserFetcher) FetchPage(ctx context.Context, userID string, page int) (*PageResult, error) {
	navCtx, cancel := context.WithTimeout(ctx, browser.DefaultNavTimeout)
	defer cancel()

	p, err := f.driver.AcquirePage(navCtx, f.identity)
	if err != nil {
		return nil, err
	}

	commit := false
	defer func() { f.driver.ReleasePage(p, f.identity, commit) }()

	target := PageURL(f.baseURL, userID, page)
	if err := p.Navigate(target); err != nil {
		return nil, models.E(models.ErrNavigationTimeout, "navigation failed", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, models.E(models.ErrNavigationTimeout, "page load wait failed", err)
	}

	state, anchors, err := extractor.CollectAnchors(p)
	if err != nil {
		return nil, err
	}
	// Only a page we actually read refreshes the session snapshot.
	commit = state == extractor.PageOK

	f.logger.Debug().Str("user_id", userID).Int("page", page).
		Str("state", string(state)).Int("anchors", len(anchors)).Msg("page fetched")
	return &PageResult{State: state, Anchors: anchors}, nil
}

// StaticFetcher fetches pages with a plain HTTP client and the static parser.
// It misses lazy-loaded rows, so it backs the --probe diagnostic path only.
type StaticFetcher struct {
	client  *http.Client
	baseURL string
}

func NewStaticFetcher(baseURL string) *StaticFetcher {
	return &StaticFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

func (f *StaticFetcher) FetchPage(ctx context.Context, userID string, page int) (*PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, PageURL(f.baseURL, userID, page), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.E(models.ErrNavigationTimeout, "static fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &PageResult{State: extractor.PageNotFound}, nil
	case resp.StatusCode == http.StatusForbidden:
		return &PageResult{State: extractor.PagePrivate}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, models.E(models.ErrNavigationTimeout,
			fmt.Sprintf("static fetch returned %d", resp.StatusCode), nil)
	}

	anchors, err := extractor.CollectAnchorsStatic(resp.Body)
	if err != nil {
		return nil, models.E(models.ErrExtractionEmpty, "static parse failed", err)
	}
	return &PageResult{State: extractor.PageOK, Anchors: anchors}, nil
}
