package site

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// InnerText renders the text of a selection the way a reader sees it:
// <img alt> (emoji) is inlined and <br> becomes a newline.
func InnerText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "svg":
			return
		case "br":
			b.WriteByte('\n')
			return
		case "img":
			for _, a := range n.Attr {
				if a.Key == "alt" {
					b.WriteString(a.Val)
				}
			}
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

var textPolicy = bluemonday.UGCPolicy()

// SanitizeHTML strips everything but user-content markup from captured
// text HTML before it is persisted.
func SanitizeHTML(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}

// OuterHTML renders the first node of s, sanitized. Empty on a miss.
func OuterHTML(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	h, err := goquery.OuterHtml(s.First())
	if err != nil {
		return ""
	}
	return SanitizeHTML(h)
}

// Absolute resolves href against base. Unparseable input is returned as is.
func Absolute(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	r, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(r).String()
}

// PathSegments splits a URL or path into its non-empty path segments.
func PathSegments(href string) []string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	return strings.FieldsFunc(href, func(r rune) bool { return r == '/' })
}

// ParseISOTime parses the machine timestamps platforms put in datetime
// attributes. Returns nil when s is not a recognised layout.
func ParseISOTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
