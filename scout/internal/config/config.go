// Package config loads scout.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/signalscout/scout/internal/engine"
	"github.com/hazyhaar/signalscout/scout/internal/inference"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// Config is the top-level scout configuration.
type Config struct {
	Platform   string           `yaml:"platform"` // x | xueqiu
	Browser    BrowserConfig    `yaml:"browser"`
	Session    SessionConfig    `yaml:"session"`
	Collect    CollectConfig    `yaml:"collect"`
	Store      StoreConfig      `yaml:"store"`
	Inference  inference.Config `yaml:"inference"`
	Enrich     EnrichConfig     `yaml:"enrich"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	HTTP       HTTPConfig       `yaml:"http"`
	Targets    []string         `yaml:"targets"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	LoginTimeout     time.Duration `yaml:"login_timeout"`
}

// SessionConfig locates the cookie artifact. KeyEnv names the variable
// holding the sealing secret; unset means plaintext.
type SessionConfig struct {
	Path   string `yaml:"path"`
	KeyEnv string `yaml:"key_env"`
}

// CollectConfig bounds the scroll loop and pacing.
type CollectConfig struct {
	PerTargetCap    int           `yaml:"per_target_cap"`
	MaxScrolls      int           `yaml:"max_scrolls"`
	StagnationLimit int           `yaml:"stagnation_limit"`
	ContentTimeout  time.Duration `yaml:"content_timeout"`
	SettleTimeout   time.Duration `yaml:"settle_timeout"`
	ScrollDelay     engine.Delay  `yaml:"scroll_delay"`
	TargetDelay     engine.Delay  `yaml:"target_delay"`
	// MaxAgeDays defaults to 30; a negative value disables the age policy.
	MaxAgeDays int `yaml:"max_age_days"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// BusyTimeoutMS is SQLite's busy_timeout; serve runs API reads beside a
	// collecting batch.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
}

// EnrichConfig controls inline analysis and backfill.
type EnrichConfig struct {
	Inline      *bool `yaml:"inline"`
	BatchSize   int   `yaml:"batch_size"`
	MaxAttempts int   `yaml:"max_attempts"`
}

// InlineEnabled defaults to true.
func (e EnrichConfig) InlineEnabled() bool { return e.Inline == nil || *e.Inline }

// MarketDataConfig configures ticker validation.
type MarketDataConfig struct {
	BaseURL          string        `yaml:"base_url"`
	WindowDays       int           `yaml:"window_days"`
	RPS              float64       `yaml:"rps"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPasswordEnv string        `yaml:"redis_password_env"`
	RedisDB          int           `yaml:"redis_db"`
	// Disabled turns validation off; no ticker is then kept.
	Disabled         bool          `yaml:"disabled"`
}

// ScheduleConfig holds cron specs for `scout serve`. Empty disables a job.
type ScheduleConfig struct {
	CollectCron  string `yaml:"collect_cron"`
	BackfillCron string `yaml:"backfill_cron"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, cfg.Validate()
}

// LoadEnv loads a .env file into the process environment. A missing file
// is not an error; existing variables win.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "x"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.LoginTimeout <= 0 {
		c.Browser.LoginTimeout = 5 * time.Minute
	}
	if c.Session.Path == "" {
		c.Session.Path = "data/session_" + c.Platform + ".json"
	}
	if c.Collect.PerTargetCap <= 0 {
		c.Collect.PerTargetCap = 100
	}
	if c.Collect.MaxScrolls <= 0 {
		c.Collect.MaxScrolls = 50
	}
	if c.Collect.StagnationLimit <= 0 {
		c.Collect.StagnationLimit = 2
	}
	if c.Collect.ContentTimeout <= 0 {
		c.Collect.ContentTimeout = 20 * time.Second
	}
	if c.Collect.SettleTimeout <= 0 {
		c.Collect.SettleTimeout = 3 * time.Second
	}
	if c.Collect.ScrollDelay == (engine.Delay{}) {
		c.Collect.ScrollDelay = engine.Delay{Min: 1500 * time.Millisecond, Max: 3500 * time.Millisecond}
	}
	if c.Collect.TargetDelay == (engine.Delay{}) {
		c.Collect.TargetDelay = engine.Delay{Min: 5 * time.Second, Max: 15 * time.Second}
	}
	if c.Collect.MaxAgeDays == 0 {
		c.Collect.MaxAgeDays = 30
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/scout.db"
	}
	if c.Store.BusyTimeoutMS <= 0 {
		c.Store.BusyTimeoutMS = 10_000
	}
	if c.Enrich.BatchSize <= 0 {
		c.Enrich.BatchSize = 50
	}
	if c.Enrich.MaxAttempts <= 0 {
		c.Enrich.MaxAttempts = 3
	}
	if c.MarketData.WindowDays <= 0 {
		c.MarketData.WindowDays = 5
	}
	if c.MarketData.CacheTTL <= 0 {
		c.MarketData.CacheTTL = 24 * time.Hour
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8090"
	}
}

// Validate checks enumerations, target syntax and delay ranges.
func (c *Config) Validate() error {
	switch c.Platform {
	case "x", "xueqiu":
	default:
		return fmt.Errorf("config: unsupported platform %q (use x or xueqiu)", c.Platform)
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	switch c.Inference.Backend {
	case "", inference.BackendOllama, inference.BackendAnthropic:
	default:
		return fmt.Errorf("config: inference.backend must be ollama or anthropic, got %q", c.Inference.Backend)
	}
	for name, d := range map[string]engine.Delay{"scroll_delay": c.Collect.ScrollDelay, "target_delay": c.Collect.TargetDelay} {
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("config: collect.%s: need 0 <= min <= max, got %s..%s", name, d.Min, d.Max)
		}
	}
	if _, err := c.ParsedTargets(); err != nil {
		return err
	}
	return nil
}

// ParsedTargets parses the targets list, applying per_target_cap.
func (c *Config) ParsedTargets() ([]site.Target, error) {
	out := make([]site.Target, 0, len(c.Targets))
	for i, s := range c.Targets {
		t, err := site.ParseTarget(s)
		if err != nil {
			return nil, fmt.Errorf("config: targets[%d]: %w", i, err)
		}
		if t.Cap <= 0 {
			t.Cap = c.Collect.PerTargetCap
		}
		out = append(out, t)
	}
	return out, nil
}

// SessionKey returns the sealing secret, or nil when none is configured.
func (c *Config) SessionKey() []byte {
	if c.Session.KeyEnv == "" {
		return nil
	}
	if v := os.Getenv(c.Session.KeyEnv); v != "" {
		return []byte(v)
	}
	return nil
}
