package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/signalscout/scout/internal/inference"
	"github.com/hazyhaar/signalscout/scout/internal/site"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	// WHAT: A partial file is merged over defaults; durations parse from
	// strings.
	// WHY: Operators only write what they change.
	p := writeFile(t, "scout.yaml", `
platform: xueqiu
browser:
  stealth: headful
  resource_blocking: [images, fonts]
collect:
  per_target_cap: 40
  scroll_delay: {min: 1s, max: 2s}
  max_age_days: 7
inference:
  backend: anthropic
  model: claude-test
  timeout: 45s
  breaker_threshold: 3
market_data:
  redis_addr: localhost:6379
targets:
  - "@chipanalyst"
  - "query:$NVDA earnings"
`)
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Platform != "xueqiu" || cfg.Browser.Stealth != "headful" || len(cfg.Browser.ResourceBlocking) != 2 {
		t.Errorf("browser/platform = %+v %q", cfg.Browser, cfg.Platform)
	}
	if cfg.Collect.ScrollDelay.Min != time.Second || cfg.Collect.ScrollDelay.Max != 2*time.Second {
		t.Errorf("scroll delay = %+v", cfg.Collect.ScrollDelay)
	}
	if cfg.Collect.TargetDelay.Min != 5*time.Second {
		t.Errorf("target delay default = %+v", cfg.Collect.TargetDelay)
	}
	if cfg.Collect.MaxAgeDays != 7 || cfg.Collect.StagnationLimit != 2 || cfg.Collect.MaxScrolls != 50 {
		t.Errorf("collect = %+v", cfg.Collect)
	}
	if cfg.Inference.Backend != inference.BackendAnthropic || cfg.Inference.Timeout != 45*time.Second || cfg.Inference.BreakerThreshold != 3 {
		t.Errorf("inference = %+v", cfg.Inference)
	}
	if cfg.Session.Path != "data/session_xueqiu.json" || cfg.Store.Path != "data/scout.db" {
		t.Errorf("paths = %q %q", cfg.Session.Path, cfg.Store.Path)
	}
	if cfg.Store.BusyTimeoutMS != 10_000 {
		t.Errorf("busy timeout = %d", cfg.Store.BusyTimeoutMS)
	}
	if !cfg.Enrich.InlineEnabled() || cfg.Enrich.MaxAttempts != 3 {
		t.Errorf("enrich = %+v", cfg.Enrich)
	}

	targets, err := cfg.ParsedTargets()
	if err != nil {
		t.Fatal(err)
	}
	want := []site.Target{
		{Kind: site.KindAuthor, Value: "chipanalyst", Cap: 40},
		{Kind: site.KindQuery, Value: "$NVDA earnings", Cap: 40},
	}
	if len(targets) != 2 || targets[0] != want[0] || targets[1] != want[1] {
		t.Errorf("targets = %+v", targets)
	}
}

func TestValidate(t *testing.T) {
	// WHAT: Bad enumerations, target syntax and inverted delays are
	// rejected at load.
	// WHY: A typo found two hours into a run wastes the session.
	cases := map[string]string{
		"platform": "platform: weibo\n",
		"stealth":  "browser: {stealth: invisible}\n",
		"backend":  "inference: {backend: gpt}\n",
		"target":   "targets: [\"nvda\"]\n",
		"delay":    "collect: {target_delay: {min: 10s, max: 1s}}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, "scout.yaml", body))
			if err == nil || !strings.HasPrefix(err.Error(), "config: ") {
				t.Errorf("got %v, want config error", err)
			}
		})
	}
}

func TestInlineDisabled(t *testing.T) {
	// WHAT: inline: false is distinguishable from absent.
	// WHY: Absent means the default (on).
	cfg, err := LoadFile(writeFile(t, "scout.yaml", "enrich: {inline: false}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Enrich.InlineEnabled() {
		t.Error("inline must be disabled")
	}
}

func TestLoadEnv(t *testing.T) {
	// WHAT: .env values are loaded, existing variables win, a missing file
	// is fine.
	// WHY: Secrets live in .env on dev machines and in the environment in
	// production.
	t.Setenv("SCOUT_TEST_PRESET", "from-env")
	p := writeFile(t, ".env", "SCOUT_TEST_KEY=sealed-secret\nSCOUT_TEST_PRESET=from-file\n")
	if err := LoadEnv(p); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("SCOUT_TEST_KEY") })
	if os.Getenv("SCOUT_TEST_KEY") != "sealed-secret" || os.Getenv("SCOUT_TEST_PRESET") != "from-env" {
		t.Errorf("env = %q %q", os.Getenv("SCOUT_TEST_KEY"), os.Getenv("SCOUT_TEST_PRESET"))
	}
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}

	cfg := Default()
	cfg.Session.KeyEnv = "SCOUT_TEST_KEY"
	if string(cfg.SessionKey()) != "sealed-secret" {
		t.Errorf("SessionKey = %q", cfg.SessionKey())
	}
}
