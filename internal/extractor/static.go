package extractor

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// CollectAnchorsStatic extracts raw anchors from server-rendered HTML without
// a browser. Lazy-loaded rows are invisible to it, so it only backs the probe
// path and tests; production scrapes go through CollectAnchors.
func CollectAnchorsStatic(r io.Reader) ([]RawAnchor, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var anchors []RawAnchor
	walkAnchors(doc, &anchors)
	return anchors, nil
}

func walkAnchors(n *html.Node, out *[]RawAnchor) {
	if n.Type == html.ElementNode && n.Data == "a" {
		var href, aria, titleAttr string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "href":
				href = attr.Val
			case "aria-label":
				aria = attr.Val
			case "title":
				titleAttr = attr.Val
			}
		}
		if strings.Contains(href, "/title/tt") {
			container := findContainer(n)
			a := RawAnchor{
				Href:      href,
				Text:      strings.TrimSpace(textContent(n)),
				AriaLabel: aria,
				TitleAttr: titleAttr,
			}
			if container != nil {
				a.ContainerText = collapseSpace(textContent(container))
				if h := findHeading(container); h != nil {
					a.ContainerTitle = strings.TrimSpace(textContent(h))
				}
			}
			*out = append(*out, a)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkAnchors(c, out)
	}
}

// findContainer mirrors the in-page closest('li, .ipc-poster-card,
// .lister-item') lookup.
func findContainer(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if p.Data == "li" {
			return p
		}
		for _, attr := range p.Attr {
			if attr.Key == "class" &&
				(strings.Contains(attr.Val, "ipc-poster-card") || strings.Contains(attr.Val, "lister-item")) {
				return p
			}
		}
	}
	return nil
}

func findHeading(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		if n.Data == "h3" {
			return n
		}
		for _, attr := range n.Attr {
			if attr.Key == "class" && strings.Contains(attr.Val, "ipc-title__text") {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := findHeading(c); h != nil {
			return h
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
