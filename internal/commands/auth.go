package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/staybook/staybook-cli/internal/api"
	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Sign in to Staybook as a guest, staff member or administrator, and inspect the stored session.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthWhoamiCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var req api.LoginRequest
	var admin bool
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		Long: `Exchange an email and password for a session.

The password is taken from --password, --password-stdin or STAYBOOK_PASSWORD.
Admin sessions (--admin) are stored separately from the regular session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			if req.Email == "" {
				return output.ErrUsage("--email is required")
			}
			password, err := resolvePassword(req.Password, passwordStdin, cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Password = password

			tenant := auth.TenantRegular
			landing := nav.Root
			var sess *api.Session
			if admin {
				tenant = auth.TenantAdmin
				landing = nav.Route("/admin")
				sess, err = app.Client.AdminLogin(cmd.Context(), req)
			} else {
				sess, err = app.Client.Login(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			if err := app.Nav.Set(landing); err != nil {
				app.Logger.Warn().Err(err).Msg("could not persist route")
			}

			summary := fmt.Sprintf("Signed in (%s)", tenant)
			if sess.Claims != nil && sess.Claims.Subject != "" {
				summary = fmt.Sprintf("Signed in as %s (%s)", sess.Claims.Subject, tenant)
			}
			return app.OK(sess, output.WithSummary(summary))
		},
	}

	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	cmd.Flags().StringVar(&req.Role, "role", "", "Role to sign in as (client, staff, hotel)")
	cmd.Flags().StringVar(&req.HotelID, "hotel-id", "", "Hotel to sign in to (staff accounts)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Sign in to the admin console")

	return cmd
}

// resolvePassword picks the password from the flag, stdin or environment.
func resolvePassword(flag string, fromStdin bool, stdin io.Reader) (string, error) {
	if flag != "" && fromStdin {
		return "", output.ErrUsage("--password and --password-stdin are mutually exclusive")
	}
	if flag != "" {
		return flag, nil
	}
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("reading password: %w", err)
		}
		if p := strings.TrimRight(line, "\r\n"); p != "" {
			return p, nil
		}
		return "", output.ErrUsage("Empty password on stdin")
	}
	if p := os.Getenv("STAYBOOK_PASSWORD"); p != "" {
		return p, nil
	}
	return "", output.ErrUsageHint("Password required", "Use --password-stdin or set STAYBOOK_PASSWORD")
}

func newAuthLogoutCmd() *cobra.Command {
	var admin bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long:  "Remove the stored session and move to the login page.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			tenant := auth.TenantRegular
			if admin {
				tenant = auth.TenantAdmin
			}
			if err := app.Client.Logout(cmd.Context(), tenant); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "logged_out",
				"tenant": tenant.String(),
			}, output.WithSummary("Successfully logged out"))
		},
	}

	cmd.Flags().BoolVar(&admin, "admin", false, "Sign out of the admin console")

	return cmd
}

// tenantStatus describes one tenant's stored session.
type tenantStatus struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	Role          string     `json:"role,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ExpiresIn     string     `json:"expires_in,omitempty"`
	Expired       bool       `json:"expired,omitempty"`
	Decodable     bool       `json:"decodable"`
	CanRefresh    bool       `json:"can_refresh,omitempty"`
}

func describeToken(token string, now time.Time) tenantStatus {
	st := tenantStatus{Authenticated: token != ""}
	if token == "" {
		return st
	}
	claims, err := auth.DecodeClaims(token)
	if err != nil {
		return st
	}
	st.Decodable = true
	st.Subject = claims.Subject
	st.Role = claims.Role
	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		st.ExpiresAt = &exp
		st.ExpiresIn = exp.Sub(now).Round(time.Second).String()
		st.Expired = claims.Expired(now)
	}
	return st
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display the stored sessions for both tenants without contacting the server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())
			now := time.Now()

			regularToken, err := app.Store.Token(auth.TenantRegular)
			if err != nil {
				return err
			}
			adminToken, err := app.Store.Token(auth.TenantAdmin)
			if err != nil {
				return err
			}

			regular := describeToken(regularToken, now)
			regular.CanRefresh = app.Store.RefreshToken() != ""
			admin := describeToken(adminToken, now)

			route := app.Nav.Current()
			storage := "file"
			if app.Keys.UsingKeyring() {
				storage = "keyring"
			}

			summary := "Not authenticated"
			switch {
			case regular.Authenticated && admin.Authenticated:
				summary = "Authenticated (regular and admin)"
			case regular.Authenticated:
				summary = "Authenticated"
			case admin.Authenticated:
				summary = "Authenticated (admin)"
			case regular.CanRefresh:
				summary = "Signed out, refresh token available"
			}

			return app.OK(map[string]any{
				"origin":  app.Config.BaseURL,
				"route":   route,
				"storage": storage,
				"regular": regular,
				"admin":   admin,
			}, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Exchange the stored refresh token for a new access token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			token, err := app.Client.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			return app.OK(describeToken(token, time.Now()),
				output.WithSummary("Token refreshed"))
		},
	}
}

func newAuthWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"me"},
		Short:   "Check the session with the server",
		Long:    "Ask the server who the current user is. A rejected check clears the stored session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appctx.FromContext(cmd.Context())

			resp, err := app.Client.CheckSession(cmd.Context())
			if err != nil {
				return err
			}

			return app.OK(resp.Data, output.WithSummary(apiSummary(resp.Data)))
		},
	}
}
