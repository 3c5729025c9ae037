package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultFeedURL is the public Google Calendar ICS feed the service was
// built around. Deployments normally override it via config or the
// RAGTAGCAL_FEED_URL environment variable.
const defaultFeedURL = "https://calendar.google.com/calendar/ical/c_948c9227076b0217fbd98da0a94d32e8368af19b813593f049467213d96998cc%40group.calendar.google.com/public/basic.ics"

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// FeedURL is the upstream ICS feed endpoint.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// CacheDir is the directory holding the persisted view snapshots and
	// the expiry marker.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheTTL is how long cached views stay valid, as a Go duration
	// string (e.g. "12h"). All views share this one TTL.
	CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`

	// Months is the number of month grids generated for the calendar view,
	// current month inclusive.
	Months int `yaml:"months" json:"months"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// used for periodic background cache refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:3000",
		FeedURL:     defaultFeedURL,
		CacheDir:    "./cache",
		CacheTTL:    "12h",
		Months:      5,
		RefreshCron: "0 */6 * * *",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:3000"
	}
	if c.FeedURL == "" {
		c.FeedURL = defaultFeedURL
	}
	if c.CacheDir == "" {
		c.CacheDir = "./cache"
	}
	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		c.CacheTTL = "12h"
	}
	if c.Months <= 0 {
		c.Months = 5
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 */6 * * *"
	}
}

// TTL returns the parsed cache TTL. Normalize guarantees the stored string
// parses, but a zero-value Config still gets the 12h default here.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".ragtagcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}
