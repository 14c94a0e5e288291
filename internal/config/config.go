// Package config provides layered configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/staybook/staybook-cli/internal/hostutil"
)

// Defaults.
const (
	DefaultBaseURL       = "https://api.staybook.io"
	DefaultWebURL        = "https://app.staybook.io"
	DefaultTimeout       = 10 * time.Second
	DefaultRedirectDelay = 150 * time.Millisecond
)

// Config holds the resolved configuration.
type Config struct {
	// API settings
	BaseURL string        `json:"base_url" yaml:"base_url"`
	WebURL  string        `json:"web_url" yaml:"web_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Session handling
	RedirectDelay time.Duration `json:"redirect_delay" yaml:"redirect_delay"`
	StateDir      string        `json:"state_dir" yaml:"state_dir"`

	// Output settings
	Format      string `json:"format" yaml:"format"`
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`

	// Behavior preferences (persisted in config files, overridable by flags)
	Stats   *bool `json:"stats,omitempty" yaml:"stats,omitempty"`
	Verbose *int  `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `json:"-" yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	BaseURL  string
	StateDir string
	Format   string
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		BaseURL:       DefaultBaseURL,
		WebURL:        DefaultWebURL,
		Timeout:       DefaultTimeout,
		RedirectDelay: DefaultRedirectDelay,
		StateDir:      defaultStateDir(),
		Format:        "auto",
		Sources:       make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > local > global > system > defaults
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	for _, path := range candidatePaths(systemConfigDir()) {
		loadFromFile(cfg, path, SourceSystem)
	}
	for _, path := range candidatePaths(GlobalConfigDir()) {
		loadFromFile(cfg, path, SourceGlobal)
	}
	if dir, err := os.Getwd(); err == nil {
		for _, path := range candidatePaths(filepath.Join(dir, ".staybook")) {
			loadFromFile(cfg, path, SourceLocal)
		}
	}

	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the client unsafe or unusable.
func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url must be set")
	}
	if err := hostutil.RequireSecureURL(cfg.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.RedirectDelay < 0 {
		return fmt.Errorf("redirect_delay must not be negative, got %s", cfg.RedirectDelay)
	}
	return nil
}

// candidatePaths lists the config file names understood in dir, JSON first.
func candidatePaths(dir string) []string {
	return []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.yml"),
	}
}

func decodeFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return nil, err
	}

	var m map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func loadFromFile(cfg *Config, path string, source Source) {
	fileCfg, err := decodeFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: skipping malformed config at %s: %v\n", path, err)
		}
		return
	}

	// base_url controls where tokens are sent. A local config in the working
	// directory must not be able to redirect authenticated traffic.
	untrusted := source == SourceLocal

	if v, ok := fileCfg["base_url"].(string); ok && v != "" {
		if untrusted {
			fmt.Fprintf(os.Stderr, "warning: ignoring base_url %q from %s config at %s (authority keys are not trusted from local config)\n", v, source, path)
		} else {
			cfg.BaseURL = hostutil.Normalize(v)
			cfg.Sources["base_url"] = string(source)
		}
	}
	if v, ok := fileCfg["web_url"].(string); ok && v != "" {
		cfg.WebURL = hostutil.Normalize(v)
		cfg.Sources["web_url"] = string(source)
	}
	if d, ok := getDuration(fileCfg, "timeout"); ok {
		cfg.Timeout = d
		cfg.Sources["timeout"] = string(source)
	}
	if d, ok := getDuration(fileCfg, "redirect_delay"); ok {
		cfg.RedirectDelay = d
		cfg.Sources["redirect_delay"] = string(source)
	}
	if v, ok := fileCfg["state_dir"].(string); ok && v != "" {
		cfg.StateDir = v
		cfg.Sources["state_dir"] = string(source)
	}
	if v, ok := fileCfg["format"].(string); ok && v != "" {
		cfg.Format = v
		cfg.Sources["format"] = string(source)
	}
	if v, ok := fileCfg["metrics_file"].(string); ok && v != "" {
		cfg.MetricsFile = v
		cfg.Sources["metrics_file"] = string(source)
	}
	if v, ok := fileCfg["stats"].(bool); ok {
		cfg.Stats = &v
		cfg.Sources["stats"] = string(source)
	}
	if iv, ok := getInt(fileCfg, "verbose"); ok && iv >= 0 && iv <= 2 {
		cfg.Verbose = &iv
		cfg.Sources["verbose"] = string(source)
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STAYBOOK_BASE_URL"); v != "" {
		cfg.BaseURL = hostutil.Normalize(v)
		cfg.Sources["base_url"] = string(SourceEnv)
	}
	if v := os.Getenv("STAYBOOK_WEB_URL"); v != "" {
		cfg.WebURL = hostutil.Normalize(v)
		cfg.Sources["web_url"] = string(SourceEnv)
	}
	if v := os.Getenv("STAYBOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
			cfg.Sources["timeout"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("STAYBOOK_REDIRECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RedirectDelay = d
			cfg.Sources["redirect_delay"] = string(SourceEnv)
		}
	}
	if v := os.Getenv("STAYBOOK_STATE_DIR"); v != "" {
		cfg.StateDir = v
		cfg.Sources["state_dir"] = string(SourceEnv)
	}
	if v := os.Getenv("STAYBOOK_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
		cfg.Sources["metrics_file"] = string(SourceEnv)
	}
	if v := os.Getenv("STAYBOOK_STATS"); v != "" {
		if b, ok := parseEnvBool(v); ok {
			cfg.Stats = &b
			cfg.Sources["stats"] = string(SourceEnv)
		}
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.BaseURL != "" {
		cfg.BaseURL = hostutil.Normalize(o.BaseURL)
		cfg.Sources["base_url"] = string(SourceFlag)
	}
	if o.StateDir != "" {
		cfg.StateDir = o.StateDir
		cfg.Sources["state_dir"] = string(SourceFlag)
	}
	if o.Format != "" {
		cfg.Format = o.Format
		cfg.Sources["format"] = string(SourceFlag)
	}
}

// parseEnvBool parses a boolean environment variable strictly.
// Returns (value, true) for recognized values, (false, false) for unrecognized.
func parseEnvBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	default:
		return false, false
	}
}

// getDuration accepts Go duration strings ("10s", "150ms") or a number of
// seconds. JSON numbers arrive as float64, YAML integers as int.
func getDuration(m map[string]any, key string) (time.Duration, bool) {
	switch v := m[key].(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: ignoring %s %q: %v\n", key, v, err)
			return 0, false
		}
		return d, true
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case int:
		return time.Duration(v) * time.Second, true
	default:
		return 0, false
	}
}

func getInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// Path helpers

func systemConfigDir() string {
	return "/etc/staybook"
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "staybook")
}

// defaultStateDir returns the directory for credentials fallback files,
// the cookie jar and route state.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "staybook")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "staybook")
	}
	return filepath.Join(os.TempDir(), "staybook")
}
