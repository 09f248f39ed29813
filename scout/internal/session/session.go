// Package session persists the browser cookie artifact between runs and
// drives the one-off interactive login that produces it.
//
// The artifact is a JSON document {platform, saved_at, cookies}. When a
// session key is configured the file is sealed with ChaCha20-Poly1305.
// Validity is never checked here: the adapter's login probe discovers
// expired sessions at run time.
package session

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/net/publicsuffix"
)

var (
	// ErrNotAuthenticated is returned when a silent run has no artifact.
	ErrNotAuthenticated = errors.New("session: not authenticated, run `scout login` first")
	// ErrSealed is returned when a sealed artifact is read without a key.
	ErrSealed = errors.New("session: artifact is sealed, session key required")
	// ErrLoginTimeout is returned when the operator did not finish logging in.
	ErrLoginTimeout = errors.New("session: login not completed before timeout")
)

var sealMagic = []byte("scout-sealed-v1\n")

// Cookie mirrors a browser cookie. Expires is seconds since the epoch;
// 0 or negative marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether c has a past expiry.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires < float64(now.Unix())
}

// Artifact is the persisted session.
type Artifact struct {
	Platform string    `json:"platform"`
	SavedAt  time.Time `json:"saved_at"`
	Cookies  []Cookie  `json:"cookies"`
}

// Manager loads and saves one platform's artifact.
type Manager struct {
	path     string
	platform string
	key      []byte
	logger   *slog.Logger
	now      func() time.Time
	poll     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithKey seals the artifact with a key derived from secret. An empty
// secret leaves the file in plaintext.
func WithKey(secret []byte) Option {
	return func(m *Manager) {
		if len(secret) == 0 {
			return
		}
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("scout session v1")), key); err != nil {
			panic(err) // hkdf only fails past 255*hash length
		}
		m.key = key
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock sets the clock.
func WithClock(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

// WithPollInterval overrides the 2s interactive-login poll.
func WithPollInterval(d time.Duration) Option { return func(m *Manager) { m.poll = d } }

// New creates a Manager for the artifact at path.
func New(path, platform string, opts ...Option) *Manager {
	m := &Manager{path: path, platform: platform, now: time.Now, poll: 2 * time.Second}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Path returns the artifact location.
func (m *Manager) Path() string { return m.path }

// Load reads the artifact. A missing file is (nil, nil). Cookies past
// their expiry are kept and only counted; the adapter's login check
// decides whether the session still works. A bare JSON cookie list is
// accepted too.
func (m *Manager) Load() (*Artifact, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	if bytes.HasPrefix(data, sealMagic) {
		if m.key == nil {
			return nil, ErrSealed
		}
		if data, err = m.open(data[len(sealMagic):]); err != nil {
			return nil, err
		}
	}

	var a Artifact
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &a.Cookies); err != nil {
			return nil, fmt.Errorf("session: decode cookie list: %w", err)
		}
		a.Platform = m.platform
	} else if err := json.Unmarshal(trimmed, &a); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}

	now := m.now()
	expired := 0
	for _, c := range a.Cookies {
		if c.Expired(now) {
			expired++
		}
	}
	m.logger.Debug("session: loaded", "path", m.path, "cookies", len(a.Cookies), "expired", expired)
	return &a, nil
}

// Require is Load for silent runs: a missing or empty artifact is
// ErrNotAuthenticated.
func (m *Manager) Require() (*Artifact, error) {
	a, err := m.Load()
	if err != nil {
		return nil, err
	}
	if a == nil || len(a.Cookies) == 0 {
		return nil, ErrNotAuthenticated
	}
	return a, nil
}

// Save writes the artifact atomically (temp file + rename, mode 0600).
func (m *Manager) Save(a *Artifact) error {
	if a == nil {
		return errors.New("session: save nil artifact")
	}
	if a.Platform == "" {
		a.Platform = m.platform
	}
	if a.SavedAt.IsZero() {
		a.SavedAt = m.now().UTC()
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if m.key != nil {
		sealed, err := m.seal(data)
		if err != nil {
			return err
		}
		data = append(append([]byte{}, sealMagic...), sealed...)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("session: create tmp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { f.Close(); os.Remove(tmp) }
	if err := f.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("session: chmod: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("session: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("session: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: close tmp: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename: %w", err)
	}
	m.logger.Info("session: saved", "path", m.path, "cookies", len(a.Cookies), "sealed", m.key != nil)
	return nil
}

func (m *Manager) seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(m.key)
	if err != nil {
		return nil, fmt.Errorf("session: cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("session: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, sealMagic), nil
}

func (m *Manager) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(m.key)
	if err != nil {
		return nil, fmt.Errorf("session: cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("session: sealed artifact truncated")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, sealMagic)
	if err != nil {
		return nil, fmt.Errorf("session: open sealed artifact (wrong key?): %w", err)
	}
	return plain, nil
}

// RegistrableDomain returns the eTLD+1 of host ("x.com" for "www.x.com").
func RegistrableDomain(host string) (string, error) {
	host = strings.TrimPrefix(strings.ToLower(host), ".")
	return publicsuffix.EffectiveTLDPlusOne(host)
}

// FilterDomain keeps cookies scoped to host's registrable domain or one of
// its subdomains.
func FilterDomain(cookies []Cookie, host string) ([]Cookie, error) {
	root, err := RegistrableDomain(host)
	if err != nil {
		return nil, fmt.Errorf("session: registrable domain of %q: %w", host, err)
	}
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if d == root || strings.HasSuffix(d, "."+root) {
			out = append(out, c)
		}
	}
	return out, nil
}
