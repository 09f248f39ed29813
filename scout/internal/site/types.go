// Package site defines what the collection engine knows about a platform:
// targets, the raw records and author profiles extracted from a rendered
// document, and the Adapter interface each platform implements.
//
// Adapters work on HTML snapshots parsed with goquery. The engine takes one
// snapshot per scroll pass, so every extraction call sees a single consistent
// document state and never touches live element handles.
package site

import (
	"fmt"
	"strings"
	"time"
)

// TargetKind distinguishes timeline targets from search targets.
type TargetKind string

const (
	KindAuthor TargetKind = "author"
	KindQuery  TargetKind = "query"
)

// Target is one unit of collection work.
type Target struct {
	Kind  TargetKind `yaml:"kind" json:"kind"`
	Value string     `yaml:"value" json:"value"`
	// Cap overrides the batch per-target cap when > 0.
	Cap int `yaml:"cap,omitempty" json:"cap,omitempty"`
}

func (t Target) String() string {
	if t.Kind == KindAuthor {
		return "@" + t.Value
	}
	return "q:" + t.Value
}

// ParseTarget accepts "@handle", "author:handle", "query:expr" or "q:expr".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Target{}, fmt.Errorf("site: empty target")
	case strings.HasPrefix(s, "@"):
		return authorTarget(s[1:])
	case strings.HasPrefix(s, "author:"):
		return authorTarget(strings.TrimPrefix(s, "author:"))
	case strings.HasPrefix(s, "query:"):
		return queryTarget(strings.TrimPrefix(s, "query:"))
	case strings.HasPrefix(s, "q:"):
		return queryTarget(strings.TrimPrefix(s, "q:"))
	}
	return Target{}, fmt.Errorf("site: target %q: want @handle, author:<handle> or query:<expr>", s)
}

func authorTarget(v string) (Target, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "@")
	if v == "" || strings.ContainsAny(v, " /?#") {
		return Target{}, fmt.Errorf("site: invalid author handle %q", v)
	}
	return Target{Kind: KindAuthor, Value: v}, nil
}

func queryTarget(v string) (Target, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Target{}, fmt.Errorf("site: empty query")
	}
	return Target{Kind: KindQuery, Value: v}, nil
}

// MediaType classifies an attachment.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
	MediaGIF   MediaType = "gif"
	MediaCard  MediaType = "card"
)

// Media is one attachment of a record.
type Media struct {
	Type MediaType `json:"type"`
	URL  string    `json:"url"`
}

// RawRecord is one unit of content extracted from a document snapshot.
// Engagement counters are 0 when no locator matched.
type RawRecord struct {
	NativeID       string     `json:"native_id,omitempty"`
	AuthorID       string     `json:"author_id"`
	Text           string     `json:"text"`
	TextHTML       string     `json:"text_html,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	CreatedAtRaw   string     `json:"created_at_raw,omitempty"`
	Permalink      string     `json:"permalink,omitempty"`
	Media          []Media    `json:"media,omitempty"`
	IsRepost       bool       `json:"is_repost"`
	OriginalAuthor string     `json:"original_author,omitempty"`
	Likes          int64      `json:"likes"`
	Replies        int64      `json:"replies"`
	Reposts        int64      `json:"reposts"`
	Bookmarks      int64      `json:"bookmarks"`
	Views          int64      `json:"views"`
}

// VerifiedTier is the platform verification badge, normalised.
type VerifiedTier string

const (
	VerifiedNone     VerifiedTier = "none"
	VerifiedBlue     VerifiedTier = "blue"
	VerifiedGold     VerifiedTier = "gold"
	VerifiedGray     VerifiedTier = "gray"
	VerifiedOfficial VerifiedTier = "official"
)

// AuthorProfile is the header of an author timeline. Upserted by username.
type AuthorProfile struct {
	Username    string       `json:"username"`
	DisplayName string       `json:"display_name"`
	Verified    VerifiedTier `json:"verified"`
	Followers   int64        `json:"followers"`
	Following   int64        `json:"following"`
	Posts       int64        `json:"posts"`
	Bio         string       `json:"bio,omitempty"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	BannerURL   string       `json:"banner_url,omitempty"`
	JoinedAt    *time.Time   `json:"joined_at,omitempty"`
	Location    string       `json:"location,omitempty"`
	Website     string       `json:"website,omitempty"`
}
