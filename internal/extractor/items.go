package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JustinTDCT/ListVault/internal/models"
)

var (
	itemIDRe  = regexp.MustCompile(`/title/(tt\d+)`)
	yearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	ordinalRe = regexp.MustCompile(`^\d+\.\s+`)
	bareIDRe  = regexp.MustCompile(`^tt\d+$`)
)

// seriesTokens mark a card as a series when any appears in its text. The read
// is provisional; the metadata classifier overrides it for every item.
var seriesTokens = []string{"series", "tv", "show", "episode"}

// navSentinels are anchor texts the list chrome renders over title links.
var navSentinels = map[string]bool{
	"view title": true,
	"see more":   true,
	"›":          true,
	"‹":          true,
}

// isNavSentinel reports whether the text is navigation chrome rather than a
// title: a known sentinel string, or text with no letters or digits at all.
func isNavSentinel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if navSentinels[t] {
		return true
	}
	for _, r := range t {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Counters are the extraction diagnostics surfaced in the cache entry's
// metadata map.
type Counters struct {
	RawAnchors    int
	ShadowDropped int
	Duplicates    int
	NoID          int
	TitleFallback int
}

func (c Counters) ToMap() map[string]int {
	return map[string]int{
		"anchors_raw":       c.RawAnchors,
		"anchors_shadow":    c.ShadowDropped,
		"anchors_duplicate": c.Duplicates,
		"anchors_no_id":     c.NoID,
		"title_fallback":    c.TitleFallback,
	}
}

// BuildItems turns raw anchors into watchlist items.
//
// Modern list pages render two anchors per title: a visible one carrying the
// text and a shadow one with an empty body. Navigational chrome ("View
// title", "›") adds a third anchor for some cards. All of them are filtered
// BEFORE deduplication; deduplicating first would sometimes keep a shadow or
// chrome anchor and lose the real title to insertion order. Items keep
// first-occurrence page order.
func BuildItems(raw []RawAnchor) (items []models.WatchlistItem, c Counters) {
	c.RawAnchors = len(raw)

	// Shadow and chrome pre-filter.
	kept := make([]RawAnchor, 0, len(raw))
	for _, a := range raw {
		text := strings.TrimSpace(a.Text)
		if text == "" || utf8.RuneCountInString(text) <= 2 ||
			bareIDRe.MatchString(text) || isNavSentinel(text) {
			c.ShadowDropped++
			continue
		}
		kept = append(kept, a)
	}

	seen := make(map[string]bool, len(kept))
	for _, a := range kept {
		m := itemIDRe.FindStringSubmatch(a.Href)
		if m == nil {
			c.NoID++
			continue
		}
		id := m[1]
		if seen[id] {
			c.Duplicates++
			continue
		}
		seen[id] = true

		title, fellBack := resolveTitle(a, id)
		if fellBack {
			c.TitleFallback++
		}

		item := models.WatchlistItem{
			ItemID: id,
			Title:  title,
			Kind:   provisionalKind(a.ContainerText),
		}
		if y := yearRe.FindString(a.ContainerText); y != "" && models.ValidYear(y, time.Now()) {
			year := y
			item.Year = &year
		}
		items = append(items, item)
	}
	return items, c
}

// resolveTitle walks the fallback chain: anchor text, card heading,
// aria-label, title attribute, and finally a placeholder built from the id.
func resolveTitle(a RawAnchor, id string) (string, bool) {
	for _, candidate := range []string{a.Text, a.ContainerTitle, a.AriaLabel, a.TitleAttr} {
		t := cleanTitle(candidate)
		if t != "" {
			return t, false
		}
	}
	return fmt.Sprintf("Unknown (%s)", id), true
}

// cleanTitle strips the list's "12. " ordinal prefix and rejects strings that
// are not usable titles.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = ordinalRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= 2 || bareIDRe.MatchString(s) || isNavSentinel(s) {
		return ""
	}
	return s
}

// provisionalKind reads the card text for media-type markers. The answer only
// stands until the metadata classifier runs over the whole batch.
func provisionalKind(containerText string) models.Kind {
	t := strings.ToLower(containerText)
	for _, tok := range seriesTokens {
		if strings.Contains(t, tok) {
			return models.KindSeries
		}
	}
	return models.KindMovie
}
