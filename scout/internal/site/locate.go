package site

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Locator is one (selector, parser) pair in a prioritized fallback list.
// An empty Selector applies Parse to the root selection itself.
type Locator[T any] struct {
	Selector string
	Parse    func(*goquery.Selection) (T, bool)
}

// First tries each locator in order against root and returns the first
// successful parse, or def when none matched.
func First[T any](root *goquery.Selection, def T, locs ...Locator[T]) T {
	if v, ok := Find(root, locs...); ok {
		return v
	}
	return def
}

// Find is First without a default. A locator whose selector matches several
// nodes is tried against each match in document order.
func Find[T any](root *goquery.Selection, locs ...Locator[T]) (T, bool) {
	var zero T
	if root == nil || root.Length() == 0 {
		return zero, false
	}
	for _, loc := range locs {
		sel := root
		if loc.Selector != "" {
			sel = root.Find(loc.Selector)
		}
		var (
			out T
			ok  bool
		)
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			out, ok = loc.Parse(s)
			return !ok
		})
		if ok {
			return out, true
		}
	}
	return zero, false
}

// Text parses the visible text of a node; empty text is a miss.
func Text(s *goquery.Selection) (string, bool) {
	t := strings.TrimSpace(InnerText(s))
	return t, t != ""
}

// Attr returns a parser reading a non-empty attribute.
func Attr(name string) func(*goquery.Selection) (string, bool) {
	return func(s *goquery.Selection) (string, bool) {
		v, ok := s.Attr(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
}

// Count parses the node text as an engagement count.
func Count(s *goquery.Selection) (int64, bool) {
	return LeadingCount(s.Text())
}

// AttrCount parses the first number found in an attribute, e.g.
// aria-label="1,234 Likes. Like".
func AttrCount(name string) func(*goquery.Selection) (int64, bool) {
	return func(s *goquery.Selection) (int64, bool) {
		v, ok := s.Attr(name)
		if !ok {
			return 0, false
		}
		return LeadingCount(v)
	}
}

// LabelledCount returns a parser that finds "<number> <word>" in an
// attribute, for grouped labels like "12 replies, 3 reposts, 40 likes".
func LabelledCount(attr string, words ...string) func(*goquery.Selection) (int64, bool) {
	return func(s *goquery.Selection) (int64, bool) {
		v, ok := s.Attr(attr)
		if !ok {
			return 0, false
		}
		return CountBeforeWord(v, words...)
	}
}

// Exists is a parser that succeeds for any matched node.
func Exists(*goquery.Selection) (bool, bool) { return true, true }

const countPattern = `[0-9][0-9,.]*(?:\s?(?i:k|m|b|thousand|million|billion)\b|\s?(?:千|万|萬|亿|億))?`

var leadingCountRe = regexp.MustCompile(countPattern)

// LeadingCount parses the first numeric token of s.
func LeadingCount(s string) (int64, bool) {
	m := leadingCountRe.FindString(s)
	if m == "" {
		return 0, false
	}
	return ParseCount(m)
}

var (
	wordRes   = map[string]*regexp.Regexp{}
	wordResMu sync.Mutex
)

func wordCountRe(word string) *regexp.Regexp {
	wordResMu.Lock()
	defer wordResMu.Unlock()
	re, ok := wordRes[word]
	if !ok {
		re = regexp.MustCompile(`(` + countPattern + `)\s*(?i:` + regexp.QuoteMeta(word) + `)`)
		wordRes[word] = re
	}
	return re
}

// CountBeforeWord finds the number immediately preceding one of words.
func CountBeforeWord(s string, words ...string) (int64, bool) {
	for _, w := range words {
		m := wordCountRe(w).FindStringSubmatch(s)
		if m == nil {
			continue
		}
		if n, ok := ParseCount(m[1]); ok {
			return n, true
		}
	}
	return 0, false
}
