package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/signalscout/scout/internal/dbopen"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// UpsertProfile inserts or replaces an author header keyed by
// (platform, username). The most recent extraction wins.
func (s *Store) UpsertProfile(ctx context.Context, platform string, p site.AuthorProfile) error {
	if p.Username == "" {
		return fmt.Errorf("store: upsert profile: empty username")
	}
	verified := p.Verified
	if verified == "" {
		verified = site.VerifiedNone
	}
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO author_profiles
			(platform, username, display_name, verified, followers, following, posts,
			 bio, avatar_url, banner_url, joined_at, location, website, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, username) DO UPDATE SET
			display_name = excluded.display_name,
			verified     = excluded.verified,
			followers    = excluded.followers,
			following    = excluded.following,
			posts        = excluded.posts,
			bio          = excluded.bio,
			avatar_url   = excluded.avatar_url,
			banner_url   = excluded.banner_url,
			joined_at    = excluded.joined_at,
			location     = excluded.location,
			website      = excluded.website,
			updated_at   = excluded.updated_at`,
		platform, p.Username, p.DisplayName, string(verified), p.Followers, p.Following, p.Posts,
		p.Bio, p.AvatarURL, p.BannerURL, nullMillis(p.JoinedAt), p.Location, p.Website,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns the stored header for an author.
func (s *Store) GetProfile(ctx context.Context, platform, username string) (*site.AuthorProfile, error) {
	var (
		p        site.AuthorProfile
		verified string
		joined   sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT username, display_name, verified, followers, following, posts,
		       bio, avatar_url, banner_url, joined_at, location, website
		FROM author_profiles WHERE platform = ? AND username = ? COLLATE NOCASE`,
		platform, username,
	).Scan(&p.Username, &p.DisplayName, &verified, &p.Followers, &p.Following, &p.Posts,
		&p.Bio, &p.AvatarURL, &p.BannerURL, &joined, &p.Location, &p.Website)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get profile: %w", err)
	}
	p.Verified = site.VerifiedTier(verified)
	p.JoinedAt = fromNullMillis(joined)
	return &p, nil
}
