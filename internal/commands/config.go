package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/output"
)

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Long: `Show staybook configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > local > global > system > defaults

Config locations (config.json, config.yaml or config.yml):
  - System: /etc/staybook/
  - Global: ~/.config/staybook/
  - Local:  .staybook/

base_url is ignored in local config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show effective configuration",
			Long:  "Display the current effective configuration with source information.",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd)
			},
		},
		newConfigPathCmd(),
	)

	return cmd
}

// configEntry is one row of config show.
type configEntry struct {
	Value  string `json:"value"`
	Source string `json:"source"`
}

func configEntries(cfg *config.Config) map[string]configEntry {
	keys := []struct {
		key     string
		value   string
		include bool
	}{
		{"base_url", cfg.BaseURL, true},
		{"web_url", cfg.WebURL, cfg.WebURL != ""},
		{"timeout", cfg.Timeout.String(), true},
		{"redirect_delay", cfg.RedirectDelay.String(), true},
		{"state_dir", cfg.StateDir, true},
		{"format", cfg.Format, cfg.Format != ""},
		{"metrics_file", cfg.MetricsFile, cfg.MetricsFile != ""},
		{"stats", fmt.Sprintf("%t", cfg.Stats != nil && *cfg.Stats), cfg.Stats != nil},
		{"verbose", fmt.Sprintf("%d", derefInt(cfg.Verbose)), cfg.Verbose != nil},
	}

	entries := make(map[string]configEntry, len(keys))
	for _, k := range keys {
		if !k.include {
			continue
		}
		source := cfg.Sources[k.key]
		if source == "" {
			source = string(config.SourceDefault)
		}
		entries[k.key] = configEntry{Value: k.value, Source: source}
	}
	return entries
}

func runConfigShow(cmd *cobra.Command) error {
	app := appctx.FromContext(cmd.Context())
	return app.OK(configEntries(app.Config), output.WithSummary("Effective configuration"))
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "List config file locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			type location struct {
				Scope  string `json:"scope"`
				Path   string `json:"path"`
				Exists bool   `json:"exists"`
			}
			dirs := []struct{ scope, dir string }{
				{"system", "/etc/staybook"},
				{"global", config.GlobalConfigDir()},
				{"local", ".staybook"},
			}
			var locations []location
			for _, d := range dirs {
				for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
					path := filepath.Join(d.dir, name)
					_, err := os.Stat(path)
					locations = append(locations, location{Scope: d.scope, Path: path, Exists: err == nil})
				}
			}

			return app.OK(locations, output.WithSummary("Config file locations"))
		},
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
