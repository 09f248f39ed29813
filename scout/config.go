package scout

import (
	"github.com/hazyhaar/signalscout/scout/internal/config"
	"github.com/hazyhaar/signalscout/scout/internal/enrich"
	"github.com/hazyhaar/signalscout/scout/internal/site"
	"github.com/hazyhaar/signalscout/scout/internal/store"
)

// Config is the top-level scout configuration. Re-exported from internal.
type Config = config.Config

// Persisted views, re-exported for callers of the facade.
type (
	Record        = store.Record
	RecordFilter  = store.RecordFilter
	Task          = store.Task
	TargetRun     = store.TargetRun
	Stats         = store.Stats
	AuthorProfile = site.AuthorProfile
	BackfillStats = enrich.BackfillStats
)

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() *Config { return config.Default() }

// LoadEnv loads a .env file; a missing file is ignored.
func LoadEnv(path string) error { return config.LoadEnv(path) }
