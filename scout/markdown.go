package scout

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// RenderMarkdown renders a record, its engagement and its enrichment as a
// markdown block. The sanitized body HTML is converted when present, so
// links and emphasis survive; otherwise the plain text is used.
func RenderMarkdown(r *Record) (string, error) {
	raw := r.Raw
	var b strings.Builder

	fmt.Fprintf(&b, "### @%s", raw.AuthorID)
	if raw.CreatedAt != nil {
		fmt.Fprintf(&b, " · %s", raw.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	b.WriteString("\n\n")
	if raw.IsRepost && raw.OriginalAuthor != "" {
		fmt.Fprintf(&b, "_Repost of @%s_\n\n", raw.OriginalAuthor)
	}

	body := strings.TrimSpace(raw.Text)
	if raw.TextHTML != "" {
		domain := ""
		if u, err := url.Parse(raw.Permalink); err == nil && u.Host != "" {
			domain = u.Scheme + "://" + u.Host
		}
		md, err := mdConverter.ConvertString(raw.TextHTML, converter.WithDomain(domain))
		if err != nil {
			return "", fmt.Errorf("scout: render %s: %w", r.Fingerprint, err)
		}
		if md = strings.TrimSpace(md); md != "" {
			body = md
		}
	}
	b.WriteString(body)
	b.WriteString("\n\n")

	for _, m := range raw.Media {
		fmt.Fprintf(&b, "- %s: <%s>\n", m.Type, m.URL)
	}
	fmt.Fprintf(&b, "likes %d · replies %d · reposts %d · views %d\n",
		raw.Likes, raw.Replies, raw.Reposts, raw.Views)
	if raw.Permalink != "" {
		fmt.Fprintf(&b, "\n<%s>\n", raw.Permalink)
	}

	if e := r.Enrichment; e != nil && e.OK() {
		fmt.Fprintf(&b, "\n**%s** (%.2f)", e.Sentiment.Category, e.Sentiment.Confidence)
		if len(e.Tickers) > 0 {
			fmt.Fprintf(&b, " · $%s", strings.Join(e.Tickers, " $"))
		}
		if e.TradingSignal.Action != "" {
			fmt.Fprintf(&b, " · %s", e.TradingSignal.Action)
		}
		b.WriteString("\n")
		if e.Summary != "" {
			fmt.Fprintf(&b, "\n> %s\n", e.Summary)
		}
	}
	return b.String(), nil
}
