package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPageHTML = `<!DOCTYPE html>
<html><body>
<ul>
  <li class="ipc-metadata-list-summary-item">
    <a href="/title/tt0111161/?ref_=wl" aria-label="The Shawshank Redemption">
      <h3 class="ipc-title__text">1. The Shawshank Redemption</h3>
    </a>
    <span>1994</span><span>2h 22m</span>
  </li>
  <li class="ipc-metadata-list-summary-item">
    <a href="/title/tt0903747/?ref_=wl"></a>
    <a href="/title/tt0903747/?ref_=wl">2. Breaking Bad</a>
    <span>2008–2013</span><span>TV Series</span>
  </li>
  <li><a href="/list/ls000000001/">See all</a></li>
</ul>
</body></html>`

func TestCollectAnchorsStatic(t *testing.T) {
	anchors, err := CollectAnchorsStatic(strings.NewReader(listPageHTML))
	require.NoError(t, err)
	require.Len(t, anchors, 3, "both title anchors plus the shadow")

	assert.Contains(t, anchors[0].Href, "tt0111161")
	assert.Equal(t, "1. The Shawshank Redemption", anchors[0].Text)
	assert.Equal(t, "The Shawshank Redemption", anchors[0].AriaLabel)
	assert.Equal(t, "1. The Shawshank Redemption", anchors[0].ContainerTitle)
	assert.Contains(t, anchors[0].ContainerText, "1994")

	assert.Equal(t, "", anchors[1].Text, "shadow anchor carries no text")
	assert.Equal(t, "2. Breaking Bad", anchors[2].Text)
}

func TestStaticThenBuildItemsEndToEnd(t *testing.T) {
	anchors, err := CollectAnchorsStatic(strings.NewReader(listPageHTML))
	require.NoError(t, err)

	items, c := BuildItems(anchors)
	require.Len(t, items, 2)

	assert.Equal(t, "tt0111161", items[0].ItemID)
	assert.Equal(t, "The Shawshank Redemption", items[0].Title)
	require.NotNil(t, items[0].Year)
	assert.Equal(t, "1994", *items[0].Year)

	assert.Equal(t, "tt0903747", items[1].ItemID)
	assert.Equal(t, "Breaking Bad", items[1].Title)

	assert.Equal(t, 1, c.ShadowDropped)
}

func TestCollectAnchorsStaticMalformedHTML(t *testing.T) {
	// html.Parse is tolerant; truncated markup still yields what it can.
	anchors, err := CollectAnchorsStatic(strings.NewReader(`<li><a href="/title/tt0000001/">Broken`))
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "Broken", anchors[0].Text)
}
