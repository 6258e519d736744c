package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sleep detection modes.
const (
	SleepLogind = "logind"
	SleepClock  = "clock"
	SleepOff    = "off"
)

const (
	defaultListen          = "127.0.0.1:8080"
	defaultTimezone        = "Local"
	defaultRefreshInterval = 60 * time.Second
	defaultCacheDir        = "./var/ics-cache"
	defaultLogLevel        = "info"
)

// CalendarConfig describes a single ICS subscription.
type CalendarConfig struct {
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is used when the feed does not carry its own calendar name.
	Name string `yaml:"name" json:"name"`
	// URL is an http(s) endpoint, a file:// URL or a local path.
	URL string `yaml:"url" json:"url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that anchors "today" (e.g. "Europe/Berlin").
	// "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshInterval is the auto-refresh period, e.g. "60s".
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`

	// AutoRefresh is the initial auto-refresh preference.
	AutoRefresh bool `yaml:"auto_refresh" json:"auto_refresh"`

	// CacheDir holds the per-feed HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// SleepDetection selects how system sleep is observed: logind, clock or off.
	SleepDetection string `yaml:"sleep_detection" json:"sleep_detection"`

	// Calendars is the list of subscribed ICS feeds.
	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		Timezone:        defaultTimezone,
		RefreshInterval: defaultRefreshInterval,
		AutoRefresh:     true,
		CacheDir:        defaultCacheDir,
		LogLevel:        defaultLogLevel,
		SleepDetection:  SleepLogind,
		Calendars:       []CalendarConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.SleepDetection) {
	case SleepLogind, SleepClock, SleepOff:
		c.SleepDetection = strings.ToLower(c.SleepDetection)
	default:
		c.SleepDetection = SleepLogind
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].ID == "" {
			c.Calendars[i].ID = fmt.Sprintf("calendar-%d", i+1)
		}
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshInterval < time.Second {
		errs = append(errs, fmt.Errorf("refresh_interval %s is below 1s", c.RefreshInterval))
	}
	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		if strings.TrimSpace(cal.URL) == "" {
			errs = append(errs, fmt.Errorf("calendars[%d]: url is empty", i))
		}
		if seen[cal.ID] {
			errs = append(errs, fmt.Errorf("calendars[%d]: duplicate id %q", i, cal.ID))
		}
		seen[cal.ID] = true
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		errs = append(errs, errors.New("basic_auth: username is empty"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ApplyEnv overrides selected fields from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("NEXTMEET_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("NEXTMEET_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML over the defaults
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

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
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
	tmp, err := os.CreateTemp(dir, ".nextmeet-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// Save delegates to the package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
