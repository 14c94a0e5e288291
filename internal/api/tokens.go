package api

import (
	"context"
	"net/http"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

type bearerKey struct{}

// withBearer pins the token for requests made with ctx, bypassing the
// store. Used right after a refresh so the fresh token is sent even when
// the server did not set a cookie.
func withBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey{}, token)
}

// authorize returns the bearer token to attach to a request for ep, or ""
// to send it anonymously.
//
// Claims are read without verification and only as an expiry hint. The
// server stays the authority: a forged or stale token still comes back as
// a 401 and goes through the response classifier.
func (c *Client) authorize(ctx context.Context, ep Endpoint, route nav.Route) (string, error) {
	if ep.IsPublic {
		return "", nil
	}
	if token, ok := ctx.Value(bearerKey{}).(string); ok && token != "" {
		return token, nil
	}

	tenant := ep.Tenant()
	token, err := c.creds.Token(tenant)
	if err != nil {
		c.log.Warn().Err(err).Str("tenant", tenant.String()).Msg("reading token")
		return "", nil
	}
	// Admin sessions have no refresh path; the server rejects stale tokens.
	if token == "" || tenant == auth.TenantAdmin {
		return token, nil
	}

	claims, err := auth.DecodeClaims(token)
	if err != nil {
		c.log.Debug().Err(err).Msg("token has no readable claims, sending as-is")
		return token, nil
	}
	if !claims.Expired(c.now()) {
		return token, nil
	}

	c.log.Debug().Time("expires_at", claims.ExpiresAt).Msg("token expired, refreshing")
	fresh, err := c.refresher.Refresh(ctx)
	if err != nil && ctx.Err() != nil {
		// Abandoned by this caller only. The shared exchange may still
		// succeed for others, so the session is left alone, and the error
		// matches a request cancelled in flight.
		return "", output.ErrNetwork(ctx.Err())
	}
	if err != nil {
		c.log.Info().Err(err).Msg("refresh failed")
		c.inval.expire(ctx, output.KindSessionExpired, tenant, route)
		e := output.ErrSuppressed(output.KindSessionExpired, http.StatusUnauthorized, msgSessionExpired)
		e.Hint = "Run: staybook auth login"
		e.Cause = err
		return "", e
	}
	return fresh, nil
}
