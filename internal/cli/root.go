// Package cli wires the root command, global flags and process exit codes.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/commands"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/output"
	"github.com/staybook/staybook-cli/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "staybook",
		Short:         "Command-line client for Staybook",
		Long:          "staybook signs in to the Staybook hotel-services backend and calls its API through a session-aware request pipeline.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				BaseURL:  flags.BaseURL,
				StateDir: flags.StateDir,
			})
			if err != nil {
				return output.ErrUsageHint(err.Error(), "Check your config with: staybook config path")
			}

			resolvePreferences(cmd, cfg, &flags)

			app, err := appctx.NewApp(cfg)
			if err != nil {
				return err
			}
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "Staybook API base URL")
	cmd.PersistentFlags().StringVar(&flags.StateDir, "state-dir", "", "Directory for cookies, credentials and route state")
	cmd.PersistentFlags().StringVar(&flags.Route, "route", "", "Route to act from for this command (e.g. /admin/hotels)")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for operations, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")
	cmd.PersistentFlags().BoolVar(&flags.NoStats, "no-stats", false, "Hide session statistics")

	return cmd
}

// addCommands registers every subcommand on root.
func addCommands(root *cobra.Command) {
	root.AddCommand(commands.NewAuthCmd())
	root.AddCommand(commands.NewAPICmd())
	root.AddCommand(commands.NewRouteCmd())
	root.AddCommand(commands.NewConfigCmd())
	root.AddCommand(commands.NewCommandsCmd())
	root.AddCommand(commands.NewVersionCmd())
}

// resolvePreferences fills unset behavior flags from config. An explicitly
// set flag always wins; without config, stats default on for dev builds.
func resolvePreferences(cmd *cobra.Command, cfg *config.Config, flags *appctx.GlobalFlags) {
	switch {
	case changed(cmd, "stats"):
	case changed(cmd, "no-stats") && flags.NoStats:
		flags.Stats = false
	case cfg.Stats != nil:
		flags.Stats = *cfg.Stats
	default:
		flags.Stats = version.IsDev()
	}

	if !changed(cmd, "verbose") && cfg.Verbose != nil {
		flags.Verbose = *cfg.Verbose
	}
}

func changed(cmd *cobra.Command, name string) bool {
	f := cmd.Flag(name)
	return f != nil && f.Changed
}

// Execute runs the root command and exits with its status.
func Execute() {
	cmd := NewRootCmd()
	addCommands(cmd)
	os.Exit(run(cmd))
}

// run executes cmd and returns the process exit code.
func run(cmd *cobra.Command) int {
	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()

	var app *appctx.App
	if executedCmd != nil {
		if ctx := executedCmd.Context(); ctx != nil {
			app = appctx.FromContext(ctx)
		}
	}
	if app != nil {
		// Delayed redirects must land before the process exits.
		defer func() {
			if cerr := app.Close(); cerr != nil {
				app.Logger.Warn().Err(cerr).Msg("shutdown")
			}
		}()
	}

	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	if app != nil {
		_ = app.Err(err)
		return apiErr.ExitCode()
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	pf := cmd.PersistentFlags()
	format := output.FormatAuto
	quiet, _ := pf.GetBool("quiet")
	styled, _ := pf.GetBool("styled")
	jsonFlag, _ := pf.GetBool("json")
	switch {
	case quiet:
		format = output.FormatQuiet
	case jsonFlag:
		format = output.FormatJSON
	case styled:
		format = output.FormatStyled
	}

	writer := output.New(output.Options{
		Format: format,
		Writer: cmd.OutOrStdout(),
	})
	_ = writer.Err(err)

	return apiErr.ExitCode()
}

var shorthandFlagPattern = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)
var requiredFlagPattern = regexp.MustCompile(`required flag\(s\) "([\w-]+)" not set`)

// transformCobraError turns Cobra's parse errors into usage errors with
// consistent wording.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if strings.HasPrefix(msg, "flag needs an argument: ") {
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if strings.HasPrefix(msg, "unknown flag: ") {
		flag := strings.TrimPrefix(msg, "unknown flag: ")
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if matches := shorthandFlagPattern.FindStringSubmatch(msg); len(matches) > 1 {
		return output.ErrUsage("Unknown option: " + matches[1])
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: staybook commands")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// "accepts N arg(s), received M"
	if strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	if matches := requiredFlagPattern.FindStringSubmatch(msg); len(matches) > 1 {
		return output.ErrUsage("--" + matches[1] + " is required")
	}

	return err
}
