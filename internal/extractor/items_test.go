package extractor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JustinTDCT/ListVault/internal/models"
)

func anchor(id, text string) RawAnchor {
	return RawAnchor{
		Href: "/title/" + id + "/?ref_=wl",
		Text: text,
	}
}

func TestBuildItemsShadowFilterBeforeDedup(t *testing.T) {
	// 501 anchors: 250 real titles each shadowed by an empty-text duplicate,
	// plus one unshadowed tail item. Filtering after dedup would keep shadow
	// anchors and lose titles; filtering first must yield exactly 251 items.
	var raw []RawAnchor
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("tt%07d", i+1)
		raw = append(raw, RawAnchor{Href: "/title/" + id + "/", Text: ""})
		raw = append(raw, anchor(id, fmt.Sprintf("Movie %d", i+1)))
	}
	raw = append(raw, anchor("tt9999999", "Tail Item"))

	items, c := BuildItems(raw)

	require.Len(t, items, 251)
	assert.Equal(t, 501, c.RawAnchors)
	assert.Equal(t, 250, c.ShadowDropped)
	assert.Equal(t, 0, c.Duplicates)
	assert.Equal(t, "Movie 1", items[0].Title)
	assert.Equal(t, "Tail Item", items[250].Title)
}

func TestBuildItemsNavSentinelFilteredBeforeDedup(t *testing.T) {
	// Chrome anchors ("View title", "›") precede the real anchor in document
	// order. Filtering after dedup would let them win the id race and an item
	// would surface titled "View title".
	raw := []RawAnchor{
		anchor("tt0000001", "View title"),
		anchor("tt0000001", "The Real Title"),
		anchor("tt0000002", "›"),
		anchor("tt0000002", "Another Real Title"),
	}
	items, c := BuildItems(raw)

	require.Len(t, items, 2)
	assert.Equal(t, "The Real Title", items[0].Title)
	assert.Equal(t, "Another Real Title", items[1].Title)
	assert.Equal(t, 2, c.ShadowDropped)
	assert.Equal(t, 0, c.Duplicates)
}

func TestBuildItemsDedupKeepsFirstOccurrence(t *testing.T) {
	raw := []RawAnchor{
		anchor("tt0000001", "First Title"),
		anchor("tt0000002", "Second Title"),
		anchor("tt0000001", "First Title Again"),
	}
	items, c := BuildItems(raw)

	require.Len(t, items, 2)
	assert.Equal(t, "First Title", items[0].Title)
	assert.Equal(t, 1, c.Duplicates)
}

func TestBuildItemsOrdinalStrip(t *testing.T) {
	items, _ := BuildItems([]RawAnchor{anchor("tt0000001", "12. The Godfather")})
	require.Len(t, items, 1)
	assert.Equal(t, "The Godfather", items[0].Title)
}

func TestBuildItemsTitleChain(t *testing.T) {
	cases := []struct {
		name string
		a    RawAnchor
		want string
	}{
		{"anchor text wins", RawAnchor{Href: "/title/tt0000001/", Text: "Anchor Text", ContainerTitle: "Heading"}, "Anchor Text"},
		{"container heading", RawAnchor{Href: "/title/tt0000001/", Text: "The Heading Movie", ContainerTitle: "1. The Heading Movie"}, "The Heading Movie"},
		{"aria label", RawAnchor{Href: "/title/tt0000001/", Text: "abc", AriaLabel: ""}, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, _ := BuildItems([]RawAnchor{tc.a})
			require.Len(t, items, 1)
			assert.Equal(t, tc.want, items[0].Title)
		})
	}
}

func TestBuildItemsTitleFallbackChain(t *testing.T) {
	// Symbol-only text reads as navigation chrome and the anchor is dropped;
	// word-bearing text with junk heading sources falls through the chain.
	dropped, c := BuildItems([]RawAnchor{{Href: "/title/tt0000007/", Text: "..."}})
	assert.Empty(t, dropped)
	assert.Equal(t, 1, c.ShadowDropped)

	// Ordinal-stripped text collapses below the title floor, so resolution
	// falls through heading and aria-label sources.
	a := RawAnchor{
		Href:           "/title/tt0000007/",
		Text:           "12. Up",
		ContainerTitle: "···",
		AriaLabel:      "The Fallback Picture",
	}
	items, c := BuildItems([]RawAnchor{a})
	require.Len(t, items, 1)
	assert.Equal(t, "The Fallback Picture", items[0].Title)
	assert.Equal(t, 0, c.TitleFallback)
}

func TestBuildItemsPlaceholderTitle(t *testing.T) {
	a := RawAnchor{Href: "/title/tt0000009/", Text: "tt0000009"}
	items, c := BuildItems([]RawAnchor{a})
	// Bare-id text counts as a shadow anchor.
	assert.Empty(t, items)
	assert.Equal(t, 1, c.ShadowDropped)

	b := RawAnchor{Href: "/title/tt0000009/", Text: "valid text", TitleAttr: "tt0000009"}
	items, c = BuildItems([]RawAnchor{b})
	require.Len(t, items, 1)
	assert.Equal(t, "valid text", items[0].Title)
}

func TestBuildItemsYearExtraction(t *testing.T) {
	a := anchor("tt0000001", "Heat")
	a.ContainerText = "1. Heat\n1995–2h 50m\nCrime, Drama"
	items, _ := BuildItems([]RawAnchor{a})

	require.Len(t, items, 1)
	require.NotNil(t, items[0].Year)
	assert.Equal(t, "1995", *items[0].Year)
}

func TestBuildItemsProvisionalKind(t *testing.T) {
	series := anchor("tt0000001", "Breaking Bad")
	series.ContainerText = "Breaking Bad\n2008–2013\nTV Series\nCrime"

	episode := anchor("tt0000002", "Ozymandias")
	episode.ContainerText = "Ozymandias\n2013\nEpisode"

	plain := anchor("tt0000003", "Heat")
	plain.ContainerText = "Heat\n1995\nCrime, Drama"

	items, _ := BuildItems([]RawAnchor{series, episode, plain})
	require.Len(t, items, 3)

	assert.Equal(t, models.KindSeries, items[0].Kind)
	assert.Equal(t, models.KindSeries, items[1].Kind)
	assert.Equal(t, models.KindMovie, items[2].Kind, "no series token defaults to movie")
}

func TestBuildItemsNoIDCounter(t *testing.T) {
	raw := []RawAnchor{
		{Href: "/list/ls123/", Text: "Not a title link"},
		anchor("tt0000001", "Real Title"),
	}
	items, c := BuildItems(raw)
	require.Len(t, items, 1)
	assert.Equal(t, 1, c.NoID)
}
