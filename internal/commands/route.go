package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

// NewRouteCmd creates the route command group.
func NewRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show or move the current route",
		Long: `The current route decides which tenant a request belongs to and where an
ended session sends you. It persists between invocations; --route overrides
it for a single command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRouteShow(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the current route",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRouteShow(cmd)
			},
		},
		newRouteSetCmd(),
	)

	return cmd
}

func runRouteShow(cmd *cobra.Command) error {
	app := appctx.FromContext(cmd.Context())

	state, err := app.Nav.State()
	if err != nil {
		return err
	}

	return app.OK(map[string]any{
		"state":  state,
		"admin":  state.Route.IsAdmin(),
		"public": state.Route.IsPublic(),
		"login":  state.Route.LoginPath(),
	}, output.WithSummary(fmt.Sprintf("Route: %s", state.Route)))
}

func newRouteSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path>",
		Short: "Move to a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			path := args[0]
			if !strings.HasPrefix(path, "/") {
				return output.ErrUsage("Route must start with /")
			}
			route := nav.Route(path)
			if err := app.Nav.Set(route); err != nil {
				return err
			}

			return app.OK(map[string]any{
				"route":  route,
				"admin":  route.IsAdmin(),
				"public": route.IsPublic(),
			}, output.WithSummary(fmt.Sprintf("Route: %s", route)))
		},
	}
}
