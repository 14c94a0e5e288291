package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

// LoginRequest is the credential exchange payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	HotelID  string `json:"hotelId,omitempty"`
}

// Session is the result of a successful login.
type Session struct {
	Tenant       auth.Tenant     `json:"tenant"`
	Token        string          `json:"-"`
	RefreshToken string          `json:"-"`
	User         json.RawMessage `json:"user,omitempty"`
	Claims       *auth.Claims    `json:"claims,omitempty"`
}

// Login exchanges credentials for a regular-tenant session and stores it.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	return c.login(ctx, auth.TenantRegular, PathLogin, req)
}

// AdminLogin exchanges credentials for an admin session and stores it.
func (c *Client) AdminLogin(ctx context.Context, req LoginRequest) (*Session, error) {
	return c.login(ctx, auth.TenantAdmin, PathAdminLogin, req)
}

func (c *Client) login(ctx context.Context, tenant auth.Tenant, path string, req LoginRequest) (sess *Session, err error) {
	op := OperationInfo{Name: "Login", Tenant: tenant}
	ctx, end := c.operation(ctx, op)
	defer func() { end(err) }()

	resp, err := c.Post(ctx, path, req)
	if err != nil {
		return nil, err
	}

	token := firstString(resp.Raw, "data.token", "token")
	if token == "" {
		return nil, output.ErrAPI(resp.StatusCode, "Login response carried no token")
	}
	sess = &Session{
		Tenant:       tenant,
		Token:        token,
		RefreshToken: firstString(resp.Raw, "data.refreshToken", "refreshToken"),
	}
	if u := resp.Get("data.user"); u.Exists() {
		sess.User = json.RawMessage(u.Raw)
	}
	if claims, cerr := auth.DecodeClaims(token); cerr == nil {
		sess.Claims = claims
	}

	if err := c.creds.Save(tenant, sess.Token, sess.RefreshToken); err != nil {
		return nil, &output.Error{Code: output.CodeAPI, Message: "Failed to store credentials", Cause: err}
	}
	c.log.Info().Str("tenant", tenant.String()).Msg("logged in")
	return sess, nil
}

// Logout clears the tenant's stored credentials and navigates to its
// login page.
func (c *Client) Logout(ctx context.Context, tenant auth.Tenant) (err error) {
	ctx, end := c.operation(ctx, OperationInfo{Name: "Logout", Tenant: tenant})
	defer func() { end(err) }()

	if err := c.creds.Clear(tenant); err != nil {
		return &output.Error{Code: output.CodeAPI, Message: "Failed to clear credentials", Cause: err}
	}
	target := nav.LoginPath
	if tenant == auth.TenantAdmin {
		target = nav.AdminLoginPath
	}
	c.navigator.Redirect(target)
	c.hooks.OnInvalidate(ctx, InvalidationInfo{Tenant: tenant, Cleared: true, Redirect: target, Immediate: true})
	return nil
}

// Refresh forces a refresh-token exchange and returns the new token.
func (c *Client) Refresh(ctx context.Context) (token string, err error) {
	ctx, end := c.operation(ctx, OperationInfo{Name: "Refresh", Tenant: auth.TenantRegular})
	defer func() { end(err) }()

	token, err = c.refresher.Refresh(ctx)
	if err != nil {
		e := output.ErrAuth("Unable to refresh session")
		e.Cause = err
		return "", e
	}
	return token, nil
}

// CheckSession asks the backend who the current user is. Concurrent calls
// share one in-flight check until a successful response resets it.
//
// When no bearer token is stored but a refresh token is, the session is
// refreshed first. A failed refresh is not fatal: the check goes out
// anonymously and its 401 is handled like any other session-check failure.
func (c *Client) CheckSession(ctx context.Context) (*Response, error) {
	v, err, _ := c.guard.checks.Do(checkSessionKey, func() (v any, err error) {
		route := c.currentRoute(ctx)
		tenant := Classify(PathMe, route).Tenant()
		opCtx, end := c.operation(ctx, OperationInfo{Name: "CheckSession", Tenant: tenant})
		defer func() { end(err) }()

		if tenant == auth.TenantRegular {
			opCtx = c.refreshIfTokenMissing(opCtx)
		}
		return c.Do(opCtx, http.MethodGet, PathMe, nil)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (c *Client) refreshIfTokenMissing(ctx context.Context) context.Context {
	token, err := c.creds.Token(auth.TenantRegular)
	if err != nil || token != "" || c.creds.RefreshToken() == "" {
		return ctx
	}
	fresh, err := c.refresher.Refresh(ctx)
	if err != nil {
		c.log.Info().Err(err).Msg("refresh before session check failed")
		return ctx
	}
	return withBearer(ctx, fresh)
}

// operation wraps the start/end hooks around a high-level operation.
func (c *Client) operation(ctx context.Context, op OperationInfo) (context.Context, func(error)) {
	ctx = c.hooks.OnOperationStart(ctx, op)
	start := time.Now()
	return ctx, func(err error) {
		c.hooks.OnOperationEnd(ctx, op, err, time.Since(start))
	}
}
