package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIURL is the environment variable that overrides api_url.
const EnvAPIURL = "API_URL"

const (
	defaultListen            = "127.0.0.1:8080"
	defaultRequestTimeoutSec = 10
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultCapturePath       = "./var/preview.png"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the screen server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// APIURL is the base URL of the events API, e.g.
	// "https://events.example.com". Overridden by $API_URL and -api-url.
	APIURL string `yaml:"api_url" json:"api_url"`

	// Listen is the HTTP listen address for the screen server.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to display event dates. Empty means
	// the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RequestTimeoutSec bounds every call to the events API.
	RequestTimeoutSec int `yaml:"request_timeout_sec" json:"request_timeout_sec"`

	// RefreshCron is a cron spec (e.g. "*/5 * * * *") for background
	// refresh. Empty disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ReadOnly hides and disables deletion.
	ReadOnly bool `yaml:"read_only" json:"read_only"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// CapturePath is where -capture writes the screen PNG and where
	// /preview.png reads it from.
	CapturePath string `yaml:"capture_path" json:"capture_path"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            defaultListen,
		RequestTimeoutSec: defaultRequestTimeoutSec,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
		CapturePath:       defaultCapturePath,
	}
}

// Normalize fills in missing/zero values so that partially-filled files
// still behave correctly.
func (c *Config) Normalize() {
	c.APIURL = strings.TrimSpace(c.APIURL)
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.RequestTimeoutSec <= 0 {
		c.RequestTimeoutSec = defaultRequestTimeoutSec
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		c.LogFormat = defaultLogFormat
	}
	if c.CapturePath == "" {
		c.CapturePath = defaultCapturePath
	}
	c.RefreshCron = strings.TrimSpace(c.RefreshCron)
}

// RequestTimeout returns RequestTimeoutSec as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// Location returns the display timezone. An empty or unknown name maps
// to time.Local; Validate reports unknown names.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ResolveAPIURL settles the API base URL once at startup. Precedence is
// flagValue, then the API_URL variable from lookup, then the file value.
// lookup is usually os.LookupEnv.
func (c *Config) ResolveAPIURL(flagValue string, lookup func(string) (string, bool)) {
	if v := strings.TrimSpace(flagValue); v != "" {
		c.APIURL = v
		return
	}
	if lookup != nil {
		if v, ok := lookup(EnvAPIURL); ok && strings.TrimSpace(v) != "" {
			c.APIURL = strings.TrimSpace(v)
		}
	}
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is not set (config file, $API_URL or -api-url)")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("api_url: missing host")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".ithappened-config-*.tmp")
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
