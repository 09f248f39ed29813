// Package browser owns the Chrome process behind a collection run: launch
// (local, remote or headful under Xvfb), stealth page setup, resource
// blocking, and recycling on age or JS heap growth.
//
// A run drives exactly one page from one goroutine, so recycling happens
// at Checkpoint between targets rather than from a background monitor.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelHeadless StealthLevel = 1 // Rod headless + stealth
	LevelHeadful  StealthLevel = 2 // Rod headful + Xvfb
)

// ParseStealth maps the config names "headless" and "headful".
func ParseStealth(s string) (StealthLevel, error) {
	switch s {
	case "", "headless":
		return LevelHeadless, nil
	case "headful":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown stealth mode %q", s)
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty lets rod find or download one.
	Bin string

	// MemoryLimit in bytes of JS heap before a recycle. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 2h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Stealth StealthLevel

	// Visible opens a window on the real display, for interactive login.
	Visible bool

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// NavigateTimeout bounds one navigation. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Stealth == 0 {
		c.Stealth = LevelHeadless
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 2 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages one Chrome process.
type Manager struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	return b, nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser { return m.browser }

// Uptime is the age of the current Chrome process.
func (m *Manager) Uptime() time.Duration { return time.Since(m.startAt) }

// NeedsRecycle reports whether the process is past its lifetime or its JS
// heap is over the limit.
func (m *Manager) NeedsRecycle(page *rod.Page) (bool, string) {
	if m.Uptime() > m.cfg.RecycleInterval {
		return true, "interval"
	}
	if page == nil {
		return false, ""
	}
	heap, err := jsHeapUsage(page)
	if err != nil {
		m.cfg.Logger.Debug("browser: heap check failed", "error", err)
		return false, ""
	}
	if heap > m.cfg.MemoryLimit {
		return true, "memory"
	}
	return false, ""
}

// Recycle kills Chrome and starts a fresh one.
func (m *Manager) Recycle(ctx context.Context) (*rod.Browser, error) {
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.cfg.Logger.Info("browser: recycling", "uptime", m.Uptime())
	if err := m.cleanup(); err != nil {
		m.cfg.Logger.Warn("browser: cleanup during recycle", "error", err)
	}
	b, err := m.launch()
	if err != nil {
		return nil, fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()
	return b, nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.cleanup()
}

// launch is not bound to the caller context: Chrome must outlive a
// cancelled run long enough to export cookies.
func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger
	headful := m.cfg.Stealth == LevelHeadful && !m.cfg.Visible

	if headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New()
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		switch {
		case m.cfg.Visible:
			l = l.Headless(false)
		case headful:
			l = l.Headless(false).Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		default:
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			m.stopXvfb()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "stealth", m.cfg.Stealth, "visible", m.cfg.Visible)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLauncher()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

func (m *Manager) cleanup() error {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	m.cleanupLauncher()
	m.stopXvfb()
	return nil
}

func (m *Manager) cleanupLauncher() {
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}

// jsHeapUsage reads performance.memory on the driven page.
func jsHeapUsage(page *rod.Page) (int64, error) {
	res, err := page.Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
