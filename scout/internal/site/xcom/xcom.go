// Package xcom is the site adapter for x.com timelines and live search.
package xcom

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

const (
	baseURL  = "https://x.com"
	loginURL = "https://x.com/i/flow/login"

	selTweet = `article[data-testid="tweet"]`
)

// Adapter implements site.Adapter for X.
type Adapter struct{}

// New returns the X adapter.
func New() *Adapter { return &Adapter{} }

var _ site.Adapter = (*Adapter)(nil)

func (*Adapter) Platform() string { return "x" }
func (*Adapter) BaseURL() string  { return baseURL + "/home" }
func (*Adapter) LoginURL() string { return loginURL }

func (*Adapter) TargetURL(t site.Target) (string, error) {
	switch t.Kind {
	case site.KindAuthor:
		return baseURL + "/" + url.PathEscape(t.Value), nil
	case site.KindQuery:
		q := url.Values{"q": {t.Value}, "src": {"typed_query"}, "f": {"live"}}
		return baseURL + "/search?" + q.Encode(), nil
	}
	return "", fmt.Errorf("xcom: unsupported target kind %q", t.Kind)
}

func (*Adapter) IsAuthenticated(doc *goquery.Document) bool {
	return doc.Find(`[data-testid="SideNav_AccountSwitcher_Button"], [data-testid="AppTabBar_Profile_Link"], a[href="/compose/post"]`).Length() > 0
}

func (a *Adapter) LoginRequired(doc *goquery.Document) bool {
	if a.IsAuthenticated(doc) {
		return false
	}
	return doc.Find(`[data-testid="loginButton"], [data-testid="LoginForm_Login_Button"], input[autocomplete="username"], a[href="/login"], a[href="/i/flow/login"]`).Length() > 0
}

// ContentLoaded is true once tweets render, or when an empty timeline is
// shown for an account that exists.
func (a *Adapter) ContentLoaded(doc *goquery.Document) bool {
	if doc.Find(selTweet).Length() > 0 {
		return true
	}
	return doc.Find(`[data-testid="emptyState"]`).Length() > 0 && a.Diagnose(doc) == site.ConditionUnknown
}

func (*Adapter) Diagnose(doc *goquery.Document) site.Condition {
	body := strings.ToLower(doc.Find("body").Text())
	switch {
	case strings.Contains(body, "rate limit exceeded"),
		strings.Contains(body, "something went wrong. try reloading"):
		return site.ConditionRateLimited
	case strings.Contains(body, "account suspended"),
		strings.Contains(body, "these posts are protected"),
		strings.Contains(body, "you’re blocked"),
		strings.Contains(body, "you're blocked"):
		return site.ConditionBlocked
	case strings.Contains(body, "this account doesn’t exist"),
		strings.Contains(body, "this account doesn't exist"),
		strings.Contains(body, "this page doesn’t exist"),
		strings.Contains(body, "this page doesn't exist"):
		return site.ConditionNotFound
	}
	return site.ConditionUnknown
}

func (*Adapter) ExtractRecords(doc *goquery.Document) []site.RawRecord {
	var out []site.RawRecord
	doc.Find(selTweet).Each(func(_ int, s *goquery.Selection) {
		// Quoted tweets nest an article inside an article; only top-level ones count.
		if s.ParentsFiltered(selTweet).Length() > 0 {
			return
		}
		if rec, ok := extractTweet(s); ok {
			out = append(out, rec)
		}
	})
	return out
}

var (
	permalinkLocs = []site.Locator[string]{
		{Selector: `a[href*="/status/"]:has(time)`, Parse: site.Attr("href")},
		{Selector: `time`, Parse: func(s *goquery.Selection) (string, bool) {
			return site.Attr("href")(s.Parent())
		}},
		{Selector: `a[href*="/status/"]`, Parse: site.Attr("href")},
	}
	handleLocs = []site.Locator[string]{
		{Selector: `[data-testid="User-Name"] a[href^="/"]`, Parse: hrefHandle},
		{Selector: `[data-testid="User-Name"]`, Parse: textHandle},
	}
	textLocs = []site.Locator[string]{
		{Selector: `[data-testid="tweetText"]`, Parse: site.Text},
		{Selector: `div[lang]`, Parse: site.Text},
	}
	createdLocs = []site.Locator[string]{
		{Selector: `time[datetime]`, Parse: site.Attr("datetime")},
	}
	createdTextLocs = []site.Locator[string]{
		{Selector: `time`, Parse: site.Text},
	}
	repostLocs = []site.Locator[string]{
		{Selector: `[data-testid="socialContext"]`, Parse: func(s *goquery.Selection) (string, bool) {
			txt := strings.ToLower(s.Text())
			if !strings.Contains(txt, "repost") && !strings.Contains(txt, "retweet") && !strings.Contains(txt, "转推") {
				return "", false
			}
			if h, ok := hrefHandle(s.Closest("a")); ok {
				return h, true
			}
			return "", true
		}},
	}
)

func counterLocs(testIDs []string, words ...string) []site.Locator[int64] {
	var locs []site.Locator[int64]
	for _, id := range testIDs {
		locs = append(locs,
			site.Locator[int64]{Selector: `[data-testid="` + id + `"]`, Parse: site.AttrCount("aria-label")},
			site.Locator[int64]{Selector: `[data-testid="` + id + `"] [data-testid="app-text-transition-container"]`, Parse: site.Count},
		)
	}
	return append(locs, site.Locator[int64]{Selector: `[role="group"][aria-label]`, Parse: site.LabelledCount("aria-label", words...)})
}

var (
	replyLocs    = counterLocs([]string{"reply"}, "replies", "reply")
	repostCntLoc = counterLocs([]string{"retweet", "unretweet"}, "reposts", "repost", "retweets")
	likeLocs     = counterLocs([]string{"like", "unlike"}, "likes", "like")
	bookmarkLocs = counterLocs([]string{"bookmark", "removeBookmark"}, "bookmarks", "bookmark")
	viewLocs     = append([]site.Locator[int64]{
		{Selector: `a[href$="/analytics"]`, Parse: site.AttrCount("aria-label")},
		{Selector: `a[href$="/analytics"]`, Parse: site.Count},
	}, site.Locator[int64]{Selector: `[role="group"][aria-label]`, Parse: site.LabelledCount("aria-label", "views", "view")})
)

func extractTweet(s *goquery.Selection) (site.RawRecord, bool) {
	var rec site.RawRecord

	rec.Permalink = site.Absolute(baseURL, site.First(s, "", permalinkLocs...))
	rec.NativeID = statusID(rec.Permalink)

	displayed := site.First(s, "", handleLocs...)
	if displayed == "" {
		displayed = permalinkHandle(rec.Permalink)
	}
	rec.AuthorID = displayed
	if reposter, ok := site.Find(s, repostLocs...); ok {
		rec.IsRepost = true
		rec.OriginalAuthor = displayed
		if reposter != "" {
			rec.AuthorID = reposter
		}
	}

	textSel := s.Find(`[data-testid="tweetText"]`).First()
	rec.Text = site.First(s, "", textLocs...)
	rec.TextHTML = site.OuterHTML(textSel)

	rec.CreatedAtRaw = site.First(s, "", createdLocs...)
	rec.CreatedAt = site.ParseISOTime(rec.CreatedAtRaw)
	if rec.CreatedAtRaw == "" {
		rec.CreatedAtRaw = site.First(s, "", createdTextLocs...)
	}

	rec.Media = extractMedia(s)

	rec.Replies = site.First(s, 0, replyLocs...)
	rec.Reposts = site.First(s, 0, repostCntLoc...)
	rec.Likes = site.First(s, 0, likeLocs...)
	rec.Bookmarks = site.First(s, 0, bookmarkLocs...)
	rec.Views = site.First(s, 0, viewLocs...)

	if rec.AuthorID == "" && rec.Text == "" && len(rec.Media) == 0 {
		return rec, false
	}
	return rec, true
}

func extractMedia(s *goquery.Selection) []site.Media {
	var media []site.Media
	s.Find(`[data-testid="tweetPhoto"] img[src]`).Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		media = append(media, site.Media{Type: site.MediaPhoto, URL: src})
	})
	s.Find(`[data-testid="videoPlayer"]`).Each(func(_ int, v *goquery.Selection) {
		typ := site.MediaVideo
		if strings.Contains(strings.ToUpper(v.Text()), "GIF") {
			typ = site.MediaGIF
		}
		u := site.First(v, "",
			site.Locator[string]{Selector: "video", Parse: site.Attr("src")},
			site.Locator[string]{Selector: "video source", Parse: site.Attr("src")},
			site.Locator[string]{Selector: "video", Parse: site.Attr("poster")},
		)
		media = append(media, site.Media{Type: typ, URL: u})
	})
	s.Find(`[data-testid="card.wrapper"]`).Each(func(_ int, c *goquery.Selection) {
		href := site.First(c, "", site.Locator[string]{Selector: "a[href]", Parse: site.Attr("href")})
		media = append(media, site.Media{Type: site.MediaCard, URL: href})
	})
	return media
}

func hrefHandle(s *goquery.Selection) (string, bool) {
	href, ok := s.Attr("href")
	if !ok {
		return "", false
	}
	segs := site.PathSegments(href)
	if len(segs) != 1 || reservedPath[segs[0]] {
		return "", false
	}
	return segs[0], true
}

func textHandle(s *goquery.Selection) (string, bool) {
	var h string
	s.Find("span, div").AddSelection(s).EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if n.Children().Length() > 0 {
			return true
		}
		t := strings.TrimSpace(n.Text())
		if strings.HasPrefix(t, "@") && len(t) > 1 {
			h = t[1:]
			return false
		}
		return true
	})
	return h, h != ""
}

var reservedPath = map[string]bool{
	"home": true, "explore": true, "search": true, "notifications": true,
	"messages": true, "i": true, "settings": true, "compose": true,
}

// statusID pulls the numeric status id out of ".../<user>/status/<id>".
func statusID(permalink string) string {
	segs := site.PathSegments(permalink)
	for i := 0; i+1 < len(segs); i++ {
		if segs[i] == "status" {
			return segs[i+1]
		}
	}
	return ""
}

func permalinkHandle(permalink string) string {
	segs := site.PathSegments(permalink)
	if len(segs) >= 3 && segs[1] == "status" {
		return segs[0]
	}
	return ""
}

// Profile header.

func (*Adapter) ExtractProfile(doc *goquery.Document) (site.AuthorProfile, bool) {
	header := doc.Find(`[data-testid="UserName"]`).First()
	if header.Length() == 0 {
		return site.AuthorProfile{}, false
	}
	var p site.AuthorProfile
	p.Username, _ = textHandle(header)
	if p.Username == "" {
		return p, false
	}
	p.DisplayName = site.First(header, p.Username,
		site.Locator[string]{Selector: `span:not(:has(*))`, Parse: func(s *goquery.Selection) (string, bool) {
			t := strings.TrimSpace(site.InnerText(s))
			return t, t != "" && !strings.HasPrefix(t, "@")
		}},
	)
	p.Verified = verifiedTier(header)

	root := doc.Selection
	p.Followers = site.First(root, 0,
		site.Locator[int64]{Selector: `a[href$="/verified_followers"]`, Parse: site.Count},
		site.Locator[int64]{Selector: `a[href$="/followers"]`, Parse: site.Count},
	)
	p.Following = site.First(root, 0,
		site.Locator[int64]{Selector: `a[href$="/following"]`, Parse: site.Count},
	)
	p.Posts = site.First(root, 0,
		site.Locator[int64]{Selector: `h2[role="heading"] ~ div`, Parse: func(s *goquery.Selection) (int64, bool) {
			return site.CountBeforeWord(s.Text(), "posts", "post")
		}},
		site.Locator[int64]{Selector: `[data-testid="primaryColumn"] div`, Parse: func(s *goquery.Selection) (int64, bool) {
			return site.CountBeforeWord(s.Text(), "posts")
		}},
	)
	p.Bio = site.First(root, "", site.Locator[string]{Selector: `[data-testid="UserDescription"]`, Parse: site.Text})
	p.Location = site.First(root, "", site.Locator[string]{Selector: `[data-testid="UserLocation"]`, Parse: site.Text})
	p.Website = site.First(root, "",
		site.Locator[string]{Selector: `[data-testid="UserUrl"]`, Parse: site.Attr("href")},
		site.Locator[string]{Selector: `[data-testid="UserUrl"]`, Parse: site.Text},
	)
	p.AvatarURL = site.First(root, "",
		site.Locator[string]{Selector: `a[href$="/photo"] img`, Parse: site.Attr("src")},
		site.Locator[string]{Selector: `[data-testid^="UserAvatar-Container"] img`, Parse: site.Attr("src")},
	)
	p.BannerURL = site.First(root, "", site.Locator[string]{Selector: `a[href$="/header_photo"] img`, Parse: site.Attr("src")})
	if joined, ok := site.Find(root, site.Locator[string]{Selector: `[data-testid="UserJoinDate"]`, Parse: site.Text}); ok {
		p.JoinedAt = parseJoined(joined)
	}
	return p, true
}

func verifiedTier(header *goquery.Selection) site.VerifiedTier {
	badge := header.Find(`[data-testid="icon-verified"]`).First()
	if badge.Length() == 0 {
		return site.VerifiedNone
	}
	label := strings.ToLower(badge.AttrOr("aria-label", ""))
	switch {
	case strings.Contains(label, "organization"), strings.Contains(label, "business"):
		return site.VerifiedGold
	case strings.Contains(label, "government"):
		return site.VerifiedGray
	case strings.Contains(label, "official"):
		return site.VerifiedOfficial
	}
	return site.VerifiedBlue
}

// parseJoined reads "Joined March 2010".
func parseJoined(s string) *time.Time {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "Joined"))
	t, err := time.Parse("January 2006", s)
	if err != nil {
		return nil
	}
	return &t
}
