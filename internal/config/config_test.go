package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultRedirectDelay, cfg.RedirectDelay)
	assert.Equal(t, "auto", cfg.Format)
	assert.NotEmpty(t, cfg.StateDir)
	assert.NotNil(t, cfg.Sources)
}

func TestLoadFromFileJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testConfig := map[string]any{
		"base_url":       "https://api.test.example.com/",
		"web_url":        "app.test.example.com",
		"timeout":        "5s",
		"redirect_delay": 0.5,
		"state_dir":      "/tmp/staybook-state",
		"format":         "json",
		"stats":          true,
		"verbose":        2,
	}
	data, err := json.Marshal(testConfig)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, "https://api.test.example.com", cfg.BaseURL)
	assert.Equal(t, "https://app.test.example.com", cfg.WebURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RedirectDelay)
	assert.Equal(t, "/tmp/staybook-state", cfg.StateDir)
	assert.Equal(t, "json", cfg.Format)
	require.NotNil(t, cfg.Stats)
	assert.True(t, *cfg.Stats)
	require.NotNil(t, cfg.Verbose)
	assert.Equal(t, 2, *cfg.Verbose)

	assert.Equal(t, "global", cfg.Sources["base_url"])
	assert.Equal(t, "global", cfg.Sources["timeout"])
}

func TestLoadFromFileYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlData := "base_url: https://yaml.example.com\ntimeout: 3\nredirect_delay: 250ms\nverbose: 1\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yamlData), 0644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceSystem)

	assert.Equal(t, "https://yaml.example.com", cfg.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.RedirectDelay)
	require.NotNil(t, cfg.Verbose)
	assert.Equal(t, 1, *cfg.Verbose)
	assert.Equal(t, "system", cfg.Sources["base_url"])
}

func TestLocalConfigCannotSetBaseURL(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"base_url":"https://evil.example.com","format":"quiet"}`), 0644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceLocal)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL, "local config must not redirect authenticated traffic")
	assert.Equal(t, "quiet", cfg.Format)
	assert.Equal(t, "local", cfg.Sources["format"])
}

func TestLoadFromFileMalformed(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

	cfg := Default()
	loadFromFile(cfg, configPath, SourceGlobal)

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	loadFromFile(cfg, filepath.Join(t.TempDir(), "missing.json"), SourceGlobal)
	assert.Empty(t, cfg.Sources)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STAYBOOK_BASE_URL", "localhost:4000")
	t.Setenv("STAYBOOK_TIMEOUT", "2s")
	t.Setenv("STAYBOOK_REDIRECT_DELAY", "10ms")
	t.Setenv("STAYBOOK_STATE_DIR", "/tmp/env-state")
	t.Setenv("STAYBOOK_STATS", "1")
	t.Setenv("STAYBOOK_METRICS_FILE", "/tmp/staybook.prom")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, "http://localhost:4000", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Millisecond, cfg.RedirectDelay)
	assert.Equal(t, "/tmp/env-state", cfg.StateDir)
	assert.Equal(t, "/tmp/staybook.prom", cfg.MetricsFile)
	require.NotNil(t, cfg.Stats)
	assert.True(t, *cfg.Stats)
	assert.Equal(t, "env", cfg.Sources["base_url"])
}

func TestLoadFromEnvIgnoresBadValues(t *testing.T) {
	t.Setenv("STAYBOOK_TIMEOUT", "soon")
	t.Setenv("STAYBOOK_STATS", "maybe")

	cfg := Default()
	LoadFromEnv(cfg)

	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Nil(t, cfg.Stats)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	ApplyOverrides(cfg, FlagOverrides{
		BaseURL:  "https://flag.example.com",
		StateDir: "/tmp/flag-state",
		Format:   "styled",
	})

	assert.Equal(t, "https://flag.example.com", cfg.BaseURL)
	assert.Equal(t, "/tmp/flag-state", cfg.StateDir)
	assert.Equal(t, "styled", cfg.Format)
	assert.Equal(t, "flag", cfg.Sources["base_url"])
}

func TestApplyOverridesEmptyKeepsValues(t *testing.T) {
	cfg := Default()
	ApplyOverrides(cfg, FlagOverrides{})
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Empty(t, cfg.Sources)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"localhost http", func(c *Config) { c.BaseURL = "http://localhost:8080" }, ""},
		{"insecure remote", func(c *Config) { c.BaseURL = "http://api.example.com" }, "insecure"},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, "base_url must be set"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"negative delay", func(c *Config) { c.RedirectDelay = -time.Second }, "redirect_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGlobalConfigDirRespectsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	assert.Equal(t, filepath.Join("/tmp/xdg-config", "staybook"), GlobalConfigDir())
}

func TestLoadPrecedence(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	globalDir := filepath.Join(xdg, "staybook")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config.json"),
		[]byte(`{"base_url":"https://global.example.com","format":"json"}`), 0644))

	t.Chdir(t.TempDir())
	t.Setenv("STAYBOOK_BASE_URL", "https://env.example.com")

	cfg, err := Load(FlagOverrides{Format: "quiet"})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, "quiet", cfg.Format)
	assert.Equal(t, "env", cfg.Sources["base_url"])
	assert.Equal(t, "flag", cfg.Sources["format"])
}
