package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/signalscout/scout/internal/session"
)

// requestIdle is the quiet period that counts as network idle.
const requestIdle = 700 * time.Millisecond

// Session is the single page a run drives.
type Session struct {
	mgr    *Manager
	page   *rod.Page
	router *rod.HijackRouter
	settle func()
	cancel context.CancelFunc
}

// Launch starts Chrome and opens one page.
func Launch(ctx context.Context, cfg Config) (*Session, error) {
	mgr := NewManager(cfg)
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	s := &Session{mgr: mgr}
	if err := s.openPage(); err != nil {
		mgr.Close()
		return nil, err
	}
	return s, nil
}

// LaunchVisible starts a windowed Chrome for interactive login.
func LaunchVisible(ctx context.Context, cfg Config) (*Session, error) {
	cfg.Visible = true
	cfg.RemoteURL = ""
	cfg.ResourceBlocking = nil
	return Launch(ctx, cfg)
}

func (s *Session) openPage() error {
	b := s.mgr.Browser()
	if b == nil {
		return fmt.Errorf("browser: no active browser")
	}
	var (
		page *rod.Page
		err  error
	)
	if s.mgr.cfg.Visible {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(b)
	}
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	if len(s.mgr.cfg.ResourceBlocking) > 0 {
		router, err := blockResources(page, s.mgr.cfg.ResourceBlocking)
		if err != nil {
			s.mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
		s.router = router
	}
	s.page = page
	return nil
}

// Navigate loads url and waits for the load event, bounded by the
// navigation timeout. A slow load event is logged, not fatal.
func (s *Session) Navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(ctx, s.mgr.cfg.NavigateTimeout)
	defer cancel()
	p := s.page.Context(nctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.mgr.cfg.Logger.Debug("browser: wait load", "url", url, "error", err)
	}
	return nil
}

// HTML returns the current document's outer HTML.
func (s *Session) HTML(ctx context.Context) (string, error) {
	h, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: snapshot: %w", err)
	}
	return h, nil
}

// Scroll moves one viewport down. The idle waiter is armed before the
// scroll so requests it triggers are observed.
func (s *Session) Scroll(ctx context.Context) error {
	s.disarm()
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.settle = s.page.Context(wctx).WaitRequestIdle(requestIdle, nil, nil, []proto.NetworkResourceType{
		proto.NetworkResourceTypeWebSocket,
		proto.NetworkResourceTypeEventSource,
		proto.NetworkResourceTypeMedia,
	})
	if _, err := s.page.Context(ctx).Eval(`() => window.scrollBy(0, Math.floor(window.innerHeight * 0.9))`); err != nil {
		s.disarm()
		return fmt.Errorf("browser: scroll: %w", err)
	}
	return nil
}

// WaitSettle waits for the request-idle waiter armed by Scroll, at most
// timeout. Hitting the bound is not an error.
func (s *Session) WaitSettle(ctx context.Context, timeout time.Duration) error {
	wait, cancel := s.settle, s.cancel
	if wait == nil {
		return nil
	}
	defer s.disarm()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { recover() }() // rod panics when its context is cancelled mid-wait
		wait()
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		cancel()
		<-done
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Session) disarm() {
	if s.cancel != nil {
		s.cancel()
	}
	s.settle, s.cancel = nil, nil
}

// Cookies exports every cookie of the browser.
func (s *Session) Cookies(ctx context.Context) ([]session.Cookie, error) {
	raw, err := s.mgr.Browser().Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	out := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, fromProto(c))
	}
	return out, nil
}

// SetCookies installs an artifact's cookies before the first navigation.
func (s *Session) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, toProto(c))
	}
	if err := s.mgr.Browser().Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// Checkpoint recycles Chrome when it is too old or its heap too large,
// carrying the cookies over to the new process.
func (s *Session) Checkpoint(ctx context.Context) error {
	need, reason := s.mgr.NeedsRecycle(s.page)
	if !need {
		return nil
	}
	s.mgr.cfg.Logger.Info("browser: recycle needed", "reason", reason)
	cookies, err := s.Cookies(ctx)
	if err != nil {
		return err
	}
	s.closePage()
	if _, err := s.mgr.Recycle(ctx); err != nil {
		return err
	}
	if err := s.openPage(); err != nil {
		return err
	}
	return s.SetCookies(ctx, cookies)
}

func (s *Session) closePage() {
	s.disarm()
	if s.router != nil {
		s.router.Stop()
		s.router = nil
	}
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}
}

// Close releases the page and the browser.
func (s *Session) Close() error {
	s.closePage()
	return s.mgr.Close()
}

func fromProto(c *proto.NetworkCookie) session.Cookie {
	exp := float64(c.Expires)
	if c.Session {
		exp = -1
	}
	return session.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  exp,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
}

func toProto(c session.Cookie) *proto.NetworkCookieParam {
	p := &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: proto.NetworkCookieSameSite(c.SameSite),
	}
	if c.Expires > 0 {
		p.Expires = proto.TimeSinceEpoch(c.Expires)
	}
	return p
}
