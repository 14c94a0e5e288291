package api

import (
	"strings"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
)

// Backend endpoints the pipeline knows by name.
const (
	PathLogin          = "/auth/login"
	PathRegister       = "/auth/register"
	PathValidateToken  = "/auth/validate-token"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
	PathAdminLogin     = "/admin/auth/login"
	PathRefresh        = "/auth/refresh-token"
	PathMe             = "/auth/me"
)

// publicEndpoints are sent without any authentication step.
var publicEndpoints = []string{
	PathLogin,
	PathRegister,
	PathValidateToken,
	PathForgotPassword,
	PathResetPassword,
	PathAdminLogin,
}

// authActionEndpoints keep their 401/403 responses untouched so the caller
// can show the server's message ("invalid credentials").
var authActionEndpoints = append([]string{PathRefresh}, publicEndpoints...)

// Endpoint is the classification of a request target.
type Endpoint struct {
	Path           string
	IsPublic       bool
	IsAuthAction   bool
	IsSessionCheck bool
	IsAdminTenant  bool
}

// Tenant returns the credential slot the endpoint authenticates against.
func (e Endpoint) Tenant() auth.Tenant {
	if e.IsAdminTenant {
		return auth.TenantAdmin
	}
	return auth.TenantRegular
}

// Classify classifies path as seen from route. The tenant comes from the
// route, not the path, so switching routes switches credentials on the
// very next call.
func Classify(path string, route nav.Route) Endpoint {
	p := normalizePath(path)
	return Endpoint{
		Path:           p,
		IsPublic:       matchAny(p, publicEndpoints),
		IsAuthAction:   matchAny(p, authActionEndpoints),
		IsSessionCheck: matchPrefix(p, PathMe),
		IsAdminTenant:  route.IsAdmin(),
	}
}

// normalizePath strips the query string and fragment and ensures a
// leading slash.
func normalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func matchAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if matchPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// matchPrefix matches prefix at a path-segment boundary.
func matchPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}
