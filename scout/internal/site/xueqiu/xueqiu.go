// Package xueqiu is the site adapter for xueqiu.com user timelines and
// discussion search.
package xueqiu

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

const baseURL = "https://xueqiu.com"

const selItem = `article.timeline__item, div.timeline__item, .search__list .status-item`

// China Standard Time; xueqiu renders all timestamps in it.
var cst = time.FixedZone("CST", 8*3600)

// Adapter implements site.Adapter for Xueqiu.
type Adapter struct {
	now func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock pins the reference time used for relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func New(opts ...Option) *Adapter {
	a := &Adapter{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

var _ site.Adapter = (*Adapter)(nil)

func (*Adapter) Platform() string { return "xueqiu" }
func (*Adapter) BaseURL() string  { return baseURL + "/" }
func (*Adapter) LoginURL() string { return baseURL + "/" }

func (*Adapter) TargetURL(t site.Target) (string, error) {
	switch t.Kind {
	case site.KindAuthor:
		return baseURL + "/u/" + url.PathEscape(t.Value), nil
	case site.KindQuery:
		return baseURL + "/k?" + url.Values{"q": {t.Value}}.Encode(), nil
	}
	return "", fmt.Errorf("xueqiu: unsupported target kind %q", t.Kind)
}

func (*Adapter) IsAuthenticated(doc *goquery.Document) bool {
	return doc.Find(`.nav__user-info, .nav__avatar, a.nav__user`).Length() > 0
}

func (a *Adapter) LoginRequired(doc *goquery.Document) bool {
	if a.IsAuthenticated(doc) {
		return false
	}
	if doc.Find(`.modal__login, .modals--login, form.login__form`).Length() > 0 {
		return true
	}
	return strings.Contains(doc.Find("body").Text(), "登录后查看")
}

func (a *Adapter) ContentLoaded(doc *goquery.Document) bool {
	if doc.Find(selItem).Length() > 0 {
		return true
	}
	return doc.Find(`.timeline__empty, .search__empty`).Length() > 0 && a.Diagnose(doc) == site.ConditionUnknown
}

func (*Adapter) Diagnose(doc *goquery.Document) site.Condition {
	body := doc.Find("body").Text()
	switch {
	case strings.Contains(body, "访问过于频繁"), strings.Contains(body, "请求过于频繁"):
		return site.ConditionRateLimited
	case strings.Contains(body, "该用户不存在"), strings.Contains(body, "页面不存在"):
		return site.ConditionNotFound
	case strings.Contains(body, "账号已被封禁"), strings.Contains(body, "仅对粉丝可见"), strings.Contains(body, "验证码"):
		return site.ConditionBlocked
	}
	return site.ConditionUnknown
}

func (a *Adapter) ExtractRecords(doc *goquery.Document) []site.RawRecord {
	var out []site.RawRecord
	doc.Find(selItem).Each(func(_ int, s *goquery.Selection) {
		if rec, ok := a.extractItem(s); ok {
			out = append(out, rec)
		}
	})
	return out
}

var (
	authorLocs = []site.Locator[string]{
		{Selector: `.timeline__item__info a.user-name`, Parse: hrefUserID},
		{Selector: `a.user-name`, Parse: hrefUserID},
		{Selector: `a.avatar`, Parse: hrefUserID},
	}
	contentLocs = []site.Locator[string]{
		{Selector: `.timeline__item__content .content--description`, Parse: site.Text},
		{Selector: `.timeline__item__content .content--detail`, Parse: site.Text},
		{Selector: `.content--description`, Parse: site.Text},
		{Selector: `.status-content`, Parse: site.Text},
	}
	dateLocs = []site.Locator[string]{
		{Selector: `a.date-and-source`, Parse: site.Text},
		{Selector: `.date-and-source`, Parse: site.Text},
		{Selector: `.timeline__item__info .time`, Parse: site.Text},
	}
	permalinkLocs = []site.Locator[string]{
		{Selector: `a.date-and-source`, Parse: site.Attr("href")},
		{Selector: `a[data-status-id]`, Parse: site.Attr("href")},
	}
)

// controlCount reads one of the footer controls ("转发 12", "评论", "赞 3.4万").
func controlCount(words ...string) []site.Locator[int64] {
	parse := func(s *goquery.Selection) (int64, bool) {
		t := strings.TrimSpace(s.Text())
		for _, w := range words {
			if strings.HasPrefix(t, w) {
				n, ok := site.LeadingCount(strings.TrimSpace(strings.TrimPrefix(t, w)))
				if !ok {
					return 0, true
				}
				return n, true
			}
		}
		return 0, false
	}
	return []site.Locator[int64]{
		{Selector: `.timeline__item__control a`, Parse: parse},
		{Selector: `.status-footer a, .status-footer span`, Parse: parse},
	}
}

var (
	repostCountLocs   = controlCount("转发")
	replyCountLocs    = controlCount("评论", "讨论")
	likeCountLocs     = controlCount("赞")
	bookmarkCountLocs = controlCount("收藏")
	viewCountLocs     = []site.Locator[int64]{
		{Selector: `.timeline__item__info .view-count`, Parse: site.Count},
		{Selector: `.timeline__item__info`, Parse: func(s *goquery.Selection) (int64, bool) {
			return site.CountBeforeWord(s.Text(), "次浏览", "阅读")
		}},
	}
)

func (a *Adapter) extractItem(s *goquery.Selection) (site.RawRecord, bool) {
	var rec site.RawRecord

	// Reposted content sits in a nested block; the item header is the reposter.
	own := s.Clone()
	own.Find(`.timeline__item__forward, .retweeted-status`).Remove()

	rec.AuthorID = site.First(own, "", authorLocs...)
	rec.Permalink = site.Absolute(baseURL, site.First(own, "", permalinkLocs...))
	rec.NativeID = statusID(rec.Permalink)
	if rec.NativeID == "" {
		rec.NativeID = s.AttrOr("data-status-id", "")
	}

	contentSel := own.Find(`.content--description, .content--detail, .status-content`).First()
	rec.Text = site.First(own, "", contentLocs...)
	rec.TextHTML = site.OuterHTML(contentSel)

	if fwd := s.Find(`.timeline__item__forward, .retweeted-status`).First(); fwd.Length() > 0 {
		rec.IsRepost = true
		rec.OriginalAuthor = site.First(fwd, "",
			site.Locator[string]{Selector: `a.user-name, a[href^="/u/"]`, Parse: hrefUserID},
		)
		if orig, ok := site.Find(fwd, contentLocs...); ok {
			if rec.Text == "" || strings.HasPrefix(rec.Text, "转发") {
				rec.Text = strings.TrimSpace(rec.Text + "\n" + orig)
			}
		}
	}

	raw := site.First(own, "", dateLocs...)
	rec.CreatedAtRaw = raw
	rec.CreatedAt = parseRelative(raw, a.now())

	rec.Media = extractMedia(own)

	rec.Reposts = site.First(own, 0, repostCountLocs...)
	rec.Replies = site.First(own, 0, replyCountLocs...)
	rec.Likes = site.First(own, 0, likeCountLocs...)
	rec.Bookmarks = site.First(own, 0, bookmarkCountLocs...)
	rec.Views = site.First(own, 0, viewCountLocs...)

	if rec.AuthorID == "" && rec.Text == "" {
		return rec, false
	}
	return rec, true
}

func extractMedia(s *goquery.Selection) []site.Media {
	var media []site.Media
	s.Find(`.content--description img.ke_img, .status-images img, img.ke_img`).Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("data-src", img.AttrOr("src", ""))
		if src == "" {
			return
		}
		media = append(media, site.Media{Type: site.MediaPhoto, URL: site.Absolute(baseURL, src)})
	})
	s.Find(`video`).Each(func(_ int, v *goquery.Selection) {
		media = append(media, site.Media{Type: site.MediaVideo, URL: v.AttrOr("src", v.AttrOr("poster", ""))})
	})
	s.Find(`.card-link a[href], a.status-card`).Each(func(_ int, c *goquery.Selection) {
		media = append(media, site.Media{Type: site.MediaCard, URL: site.Absolute(baseURL, c.AttrOr("href", ""))})
	})
	return media
}

// hrefUserID reads "/u/<id>" (or a bare "/<id>") profile links.
func hrefUserID(s *goquery.Selection) (string, bool) {
	href, ok := s.Attr("href")
	if !ok {
		return "", false
	}
	segs := site.PathSegments(href)
	switch {
	case len(segs) == 2 && segs[0] == "u":
		return segs[1], true
	case len(segs) == 1 && isDigits(segs[0]):
		return segs[0], true
	}
	return "", false
}

// statusID reads "/<user id>/<status id>".
func statusID(permalink string) string {
	segs := site.PathSegments(permalink)
	if len(segs) == 2 && isDigits(segs[0]) && isDigits(segs[1]) {
		return segs[1]
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	agoRe       = regexp.MustCompile(`(\d+)\s*(秒|分钟|小时|天)前`)
	clockRe     = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	monthDayRe  = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})`)
	fullDateRe  = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
	sourceSplit = regexp.MustCompile(`\s*(·|来自|修改于).*$`)
)

// parseRelative reads xueqiu's display timestamps: "刚刚", "5分钟前",
// "今天 12:30", "昨天 08:15", "05-12 09:30", "2023-11-02 10:00". The
// trailing "· 来自雪球" source marker is ignored. Returns nil when unreadable.
func parseRelative(raw string, now time.Time) *time.Time {
	s := strings.TrimSpace(sourceSplit.ReplaceAllString(strings.TrimSpace(raw), ""))
	s = strings.TrimPrefix(s, "发布于")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	now = now.In(cst)

	at := func(t time.Time) *time.Time {
		t = t.UTC()
		return &t
	}
	hm := func(day time.Time) *time.Time {
		m := clockRe.FindStringSubmatch(s)
		h, mi := 0, 0
		if m != nil {
			h, _ = strconv.Atoi(m[1])
			mi, _ = strconv.Atoi(m[2])
		}
		return at(time.Date(day.Year(), day.Month(), day.Day(), h, mi, 0, 0, cst))
	}

	switch {
	case s == "刚刚":
		return at(now)
	case agoRe.MatchString(s):
		m := agoRe.FindStringSubmatch(s)
		n, _ := strconv.Atoi(m[1])
		unit := map[string]time.Duration{"秒": time.Second, "分钟": time.Minute, "小时": time.Hour, "天": 24 * time.Hour}[m[2]]
		return at(now.Add(-time.Duration(n) * unit))
	case strings.HasPrefix(s, "今天"):
		return hm(now)
	case strings.HasPrefix(s, "昨天"):
		return hm(now.AddDate(0, 0, -1))
	case strings.HasPrefix(s, "前天"):
		return hm(now.AddDate(0, 0, -2))
	}
	if m := fullDateRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return hm(time.Date(y, time.Month(mo), d, 0, 0, 0, 0, cst))
	}
	if m := monthDayRe.FindStringSubmatch(s); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		day := time.Date(now.Year(), time.Month(mo), d, 0, 0, 0, 0, cst)
		// A month-day later than today belongs to last year.
		if day.After(now) {
			day = day.AddDate(-1, 0, 0)
		}
		return hm(day)
	}
	return nil
}

// Profile header.

func (*Adapter) ExtractProfile(doc *goquery.Document) (site.AuthorProfile, bool) {
	hd := doc.Find(`.profiles__hd`).First()
	if hd.Length() == 0 {
		return site.AuthorProfile{}, false
	}
	var p site.AuthorProfile
	p.Username = site.First(hd, "",
		site.Locator[string]{Selector: `[data-user-id]`, Parse: site.Attr("data-user-id")},
		site.Locator[string]{Selector: `a[href^="/u/"]`, Parse: hrefUserID},
	)
	if p.Username == "" {
		p.Username = site.First(doc.Selection, "",
			site.Locator[string]{Selector: `link[rel="canonical"]`, Parse: func(s *goquery.Selection) (string, bool) {
				return hrefUserID(s)
			}},
		)
	}
	if p.Username == "" {
		return p, false
	}
	p.DisplayName = site.First(hd, p.Username,
		site.Locator[string]{Selector: `.profiles__hd__name`, Parse: site.Text},
		site.Locator[string]{Selector: `h2`, Parse: site.Text},
	)
	switch {
	case hd.Find(`.profiles__hd__official, .icon-official`).Length() > 0:
		p.Verified = site.VerifiedOfficial
	case hd.Find(`.profiles__hd__verified, .icon-verified, .verified`).Length() > 0:
		p.Verified = site.VerifiedBlue
	default:
		p.Verified = site.VerifiedNone
	}

	stat := func(words ...string) int64 {
		return site.First(hd, 0,
			site.Locator[int64]{Selector: `.profiles__hd__ft li, .profiles__hd__stat li, .profiles__hd__ft a`, Parse: func(s *goquery.Selection) (int64, bool) {
				t := s.Text()
				for _, w := range words {
					if strings.Contains(t, w) {
						return site.LeadingCount(t)
					}
				}
				return 0, false
			}},
		)
	}
	p.Followers = stat("粉丝")
	p.Following = stat("关注")
	p.Posts = stat("帖子", "讨论")

	p.Bio = site.First(hd, "",
		site.Locator[string]{Selector: `.profiles__hd__desc`, Parse: site.Text},
		site.Locator[string]{Selector: `.profiles__hd__intro`, Parse: site.Text},
	)
	p.Location = site.First(hd, "", site.Locator[string]{Selector: `.profiles__hd__location`, Parse: site.Text})
	p.AvatarURL = site.Absolute(baseURL, site.First(hd, "",
		site.Locator[string]{Selector: `.profiles__hd__avatar img`, Parse: site.Attr("src")},
		site.Locator[string]{Selector: `img.avatar`, Parse: site.Attr("src")},
	))
	p.BannerURL = site.First(doc.Selection, "", site.Locator[string]{Selector: `.profiles__bg img`, Parse: site.Attr("src")})
	p.Website = site.First(hd, "", site.Locator[string]{Selector: `.profiles__hd__link a`, Parse: site.Attr("href")})
	return p, true
}
