package extractor

import (
	"encoding/json"

	"github.com/go-rod/rod"

	"github.com/JustinTDCT/ListVault/internal/models"
)

// RawAnchor is one title link as the page presented it, before any filtering.
// The extraction heuristics operate on these records in Go, so they are
// testable without a browser.
type RawAnchor struct {
	Href           string `json:"href"`
	Text           string `json:"text"`
	AriaLabel      string `json:"ariaLabel"`
	TitleAttr      string `json:"titleAttr"`
	ContainerText  string `json:"containerText"`
	ContainerTitle string `json:"containerTitle"`
}

// PageState classifies what the navigation landed on.
type PageState string

const (
	PageOK       PageState = "ok"
	PagePrivate  PageState = "private"
	PageNotFound PageState = "not_found"
)

type collectResult struct {
	State   PageState   `json:"state"`
	Anchors []RawAnchor `json:"anchors"`
}

// collectJS scrolls the lazy-loading list to exhaustion, settles the DOM, and
// dumps every title anchor with its surrounding card context. The scroll loop
// stops after three iterations with no anchor growth or a hard cap of 25
// passes, then waits out late image/row hydration before collecting.
const collectJS = `async () => {
	const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
	const count = () => document.querySelectorAll('a[href*="/title/tt"]').length;

	const bodyText = document.body ? document.body.innerText : "";
	if (/this list is not public|list is private/i.test(bodyText)) {
		return { state: "private", anchors: [] };
	}
	if (/404|page not found|error processing your request/i.test(document.title)) {
		return { state: "not_found", anchors: [] };
	}

	let stagnant = 0;
	let last = count();
	for (let i = 0; i < 25 && stagnant < 3; i++) {
		window.scrollTo(0, document.body.scrollHeight);
		await sleep(800);
		const now = count();
		stagnant = now > last ? 0 : stagnant + 1;
		last = now;
	}
	await sleep(2000);
	window.scrollTo(0, 0);
	await sleep(1500);

	const anchors = [];
	for (const a of document.querySelectorAll('a[href*="/title/tt"]')) {
		const container = a.closest('li, .ipc-poster-card, .lister-item');
		const heading = container
			? container.querySelector('h3, .ipc-title__text')
			: null;
		anchors.push({
			href: a.getAttribute('href') || '',
			text: (a.textContent || '').trim(),
			ariaLabel: a.getAttribute('aria-label') || '',
			titleAttr: a.getAttribute('title') || '',
			containerText: container ? (container.innerText || '').slice(0, 300) : '',
			containerTitle: heading ? (heading.textContent || '').trim() : '',
		});
	}
	return { state: "ok", anchors };
}`

// CollectAnchors runs the scroll-and-collect script on an already navigated
// page. The PageState tells the caller whether the anchors are meaningful.
func CollectAnchors(page *rod.Page) (PageState, []RawAnchor, error) {
	res, err := page.Eval(collectJS)
	if err != nil {
		return "", nil, models.E(models.ErrNavigationTimeout, "anchor collection failed", err)
	}
	var out collectResult
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &out); err != nil {
		return "", nil, models.E(models.ErrExtractionEmpty, "anchor payload undecodable", err)
	}
	return out.State, out.Anchors, nil
}
