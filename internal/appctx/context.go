// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/staybook/staybook-cli/internal/api"
	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/observability"
	"github.com/staybook/staybook-cli/internal/output"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Cookies *auth.CookieStore
	Keys    *auth.KeyStore
	Store   *auth.CredentialStore
	Nav     *nav.FileNavigator
	Client  *api.Client
	Output  *output.Writer
	Logger  zerolog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	stderr io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool

	// Context flags
	BaseURL  string
	StateDir string
	Route    string

	// Behavior flags
	Verbose int // 0=off, 1=operations, 2=operations+requests (stacks with -v -v or -vv)
	Stats   bool
	NoStats bool
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) (*App, error) {
	cookies, err := auth.NewCookieStore(cfg.BaseURL, cfg.StateDir)
	if err != nil {
		return nil, err
	}
	keys := auth.NewKeyStore(cfg.StateDir)

	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriter())

	app := &App{
		Config:    cfg,
		Cookies:   cookies,
		Keys:      keys,
		Store:     auth.NewCredentialStore(cookies, keys),
		Nav:       nav.NewFileNavigator(cfg.StateDir),
		Collector: collector,
		Hooks:     hooks,
		Output: output.New(output.Options{
			Format: output.ParseFormat(cfg.Format),
			Writer: os.Stdout,
		}),
		stderr: os.Stderr,
	}
	app.Nav.OnRedirect(app.announceRedirect)
	app.Logger = newLogger(app.stderr, zerolog.WarnLevel)
	app.Nav.SetLogger(app.Logger)
	app.Client = app.newClient()
	return app, nil
}

// newLogger returns a console logger on w at the given level.
func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: os.Getenv("NO_COLOR") != ""}).
		Level(level).
		With().Timestamp().Logger()
}

// newClient builds the API client from the app's current settings.
func (a *App) newClient() *api.Client {
	var router nav.Router = a.Nav
	if a.Flags.Route != "" {
		router = nav.Fixed(nav.Route(a.Flags.Route))
	}
	return api.NewClient(a.Config, a.Store,
		api.WithLogger(a.Logger),
		api.WithHooks(a.Hooks),
		api.WithNavigator(a.Nav),
		api.WithRouter(router),
	)
}

// announceRedirect tells the user where the session sent them.
func (a *App) announceRedirect(path string) {
	switch path {
	case nav.LoginPath:
		fmt.Fprintln(a.stderr, "Session ended. Run: staybook auth login")
	case nav.AdminLoginPath:
		fmt.Fprintln(a.stderr, "Admin session ended. Run: staybook auth login --admin")
	case nav.ForbiddenPath:
		fmt.Fprintln(a.stderr, "Access denied. Route is now "+path)
	default:
		fmt.Fprintln(a.stderr, "Route is now "+path)
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	// Order matters: specific modes first
	switch {
	case a.Flags.Quiet:
		a.Output = output.New(output.Options{Format: output.FormatQuiet, Writer: os.Stdout})
	case a.Flags.JSON:
		a.Output = output.New(output.Options{Format: output.FormatJSON, Writer: os.Stdout})
	case a.Flags.Styled:
		// Force ANSI styled output (even when piped)
		a.Output = output.New(output.Options{Format: output.FormatStyled, Writer: os.Stdout})
	}

	level := a.verboseLevel()
	if a.Hooks != nil {
		a.Hooks.SetLevel(level)
	}

	logLevel := zerolog.WarnLevel
	switch {
	case level >= 2:
		logLevel = zerolog.TraceLevel
	case level == 1:
		logLevel = zerolog.DebugLevel
	}
	a.Logger = newLogger(a.stderr, logLevel)
	a.Nav.SetLogger(a.Logger)
	a.Client = a.newClient()
}

// verboseLevel combines -v flags with STAYBOOK_DEBUG.
func (a *App) verboseLevel() int {
	level := a.Flags.Verbose
	if debugEnv := os.Getenv("STAYBOOK_DEBUG"); debugEnv != "" {
		// STAYBOOK_DEBUG can be "1", "2", or "true" (treated as 2 for full debug)
		if n, err := strconv.Atoi(debugEnv); err == nil {
			if n > level {
				level = n
			}
		} else if debugEnv == "true" {
			level = 2
		}
	}
	return level
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		stats := a.Collector.Summary()
		opts = append(opts, output.WithMeta("stats", stats))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		fmt.Fprintf(a.stderr, "\nStats: %s\n", a.Collector.Summary())
	}
	return nil
}

// Close flushes pending redirects and writes the metrics textfile when one
// is configured.
func (a *App) Close() error {
	if a.Client != nil {
		a.Client.Wait()
	}
	if a.Config != nil && a.Config.MetricsFile != "" && a.Collector != nil {
		if err := a.Collector.WriteTextfile(a.Config.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
