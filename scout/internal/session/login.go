package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// LoginBrowser is the visible browser an operator logs in through.
type LoginBrowser interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	Close() error
}

// LoginLauncher opens a visible browser.
type LoginLauncher func(ctx context.Context) (LoginBrowser, error)

// InteractiveLogin opens the adapter's login page in a visible browser and
// polls for the signed-in marker until timeout. On success the cookies of
// the platform's registrable domain are saved and returned.
func (m *Manager) InteractiveLogin(ctx context.Context, launch LoginLauncher, adapter site.Adapter, timeout time.Duration) (*Artifact, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	u, err := url.Parse(adapter.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("session: base url: %w", err)
	}

	b, err := launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: launch visible browser: %w", err)
	}
	defer b.Close()

	if err := b.Navigate(ctx, adapter.LoginURL()); err != nil {
		return nil, fmt.Errorf("session: open login page: %w", err)
	}
	m.logger.Info("session: waiting for login", "platform", adapter.Platform(), "url", adapter.LoginURL(), "timeout", timeout)

	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(m.poll)
	defer tick.Stop()
	for {
		if m.signedIn(lctx, b, adapter) {
			break
		}
		select {
		case <-lctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLoginTimeout
		case <-tick.C:
		}
	}

	raw, err := b.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: read cookies: %w", err)
	}
	cookies, err := FilterDomain(raw, u.Hostname())
	if err != nil {
		return nil, err
	}
	a := &Artifact{Platform: adapter.Platform(), SavedAt: m.now().UTC(), Cookies: cookies}
	if err := m.Save(a); err != nil {
		return nil, err
	}
	m.logger.Info("session: login captured", "platform", adapter.Platform(), "cookies", len(cookies), "discarded", len(raw)-len(cookies))
	return a, nil
}

func (m *Manager) signedIn(ctx context.Context, b LoginBrowser, adapter site.Adapter) bool {
	h, err := b.HTML(ctx)
	if err != nil {
		m.logger.Debug("session: poll snapshot", "error", err)
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(h))
	if err != nil {
		return false
	}
	return adapter.IsAuthenticated(doc)
}
