package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one ICS subscription feeding the calendar.
type SourceConfig struct {
	// ID identifies the source in logs and for entry de-duplication.
	// Left empty it is derived from the source's position in the list.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Color is applied to every entry imported from this source.
	Color string `yaml:"color" json:"color"`
}

// AuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
// PasswordHash is an argon2id hash as printed by the hash-password
// subcommand, never the cleartext password.
type AuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`
}

// PreviewConfig controls the headless-browser snapshot of the calendar page.
type PreviewConfig struct {
	// Enabled turns the periodic capture on.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// URL overrides the page to capture. Empty derives it from Listen.
	URL string `yaml:"url" json:"url"`
	// Width/Height set the emulated viewport.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// Output is where the PNG lands. Empty picks a path based on the
	// debug flag.
	Output string `yaml:"output" json:"output"`
	// TimeoutSeconds bounds one capture run.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone entries are interpreted in (e.g.
	// "Europe/Berlin"). "Local" means the system zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is how many future days of recurring events to expand.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// BackfillDays is how many past days to keep when expanding.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// RefreshCron schedules the periodic source refresh
	// (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel sets the minimum level written to stderr. Supported values:
	//   - "debug"
	//   - "info" (default)
	//   - "warn"
	//   - "error"
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Sources is the list of subscribed ICS feeds.
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Auth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty"`

	// Preview configures the headless snapshot endpoint.
	Preview PreviewConfig `yaml:"preview" json:"preview"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Local",
		HorizonDays:  90,
		BackfillDays: 30,
		RefreshCron:  "*/15 * * * *",
		LogLevel:     "info",
		Sources:      []SourceConfig{},
		Auth:         nil,
		Preview: PreviewConfig{
			Enabled:        false,
			Width:          1280,
			Height:         800,
			TimeoutSeconds: 30,
		},
	}
}

// Normalize fills missing/zero values with defaults so partially-filled
// configs from older versions still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 90
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// ok
	default:
		c.LogLevel = "info"
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		if c.Sources[i].ID == "" {
			c.Sources[i].ID = fmt.Sprintf("source-%d", i+1)
		}
	}
	if c.Preview.Width <= 0 {
		c.Preview.Width = 1280
	}
	if c.Preview.Height <= 0 {
		c.Preview.Height = 800
	}
	if c.Preview.TimeoutSeconds <= 0 {
		c.Preview.TimeoutSeconds = 30
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (parent
// directory created as needed, file mode 0600) and returned. Otherwise the
// YAML is unmarshaled and normalized.
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
				// Return cfg alongside the error so the caller can decide.
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

// Save writes cfg to path atomically: marshal to YAML, write a temp file in
// the target directory, chmod 0600, rename over the target.
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

	tmp, err := os.CreateTemp(dir, ".fullcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error path.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
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
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save so callers holding a *Config can
// write it back directly.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
