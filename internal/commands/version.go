package commands

import (
	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/output"
	"github.com/staybook/staybook-cli/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version": version.Version,
				"commit":  version.Commit,
				"date":    version.Date,
			}
			if app := appctx.FromContext(cmd.Context()); app != nil {
				return app.OK(info, output.WithSummary(version.Full()))
			}
			_, err := cmd.OutOrStdout().Write([]byte(version.Full() + "\n"))
			return err
		},
	}
}
