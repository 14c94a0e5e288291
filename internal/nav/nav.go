// Package nav models the navigational context of the client: the route the
// user is currently "on" and the redirect side effect the request pipeline
// triggers when a session ends or access is denied.
package nav

import "strings"

// Redirect targets.
const (
	LoginPath      = "/login"
	AdminLoginPath = "/admin/login"
	ForbiddenPath  = "/forbidden"
)

// adminPrefix marks routes that belong to the admin tenant.
const adminPrefix = "/admin"

// publicRoutes are routes that stay put when a session check fails.
// "/" matches only itself; the rest match their own subtree.
var publicRoutes = []string{
	"/login",
	"/register",
	"/forgot-password",
	"/reset-password",
	"/admin/login",
	"/hotels",
	"/services",
}

// Route is an application path such as "/client/bookings".
type Route string

// Root is the route used when nothing else is known.
const Root Route = "/"

// IsAdmin reports whether the route is under the admin tenant.
func (r Route) IsAdmin() bool {
	return hasPathPrefix(string(r), adminPrefix)
}

// IsPublic reports whether the route is in the public-route allow-list.
func (r Route) IsPublic() bool {
	p := string(r)
	if p == "" || p == "/" {
		return true
	}
	for _, prefix := range publicRoutes {
		if hasPathPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// LoginPath returns the login page for the route's tenant.
func (r Route) LoginPath() string {
	if r.IsAdmin() {
		return AdminLoginPath
	}
	return LoginPath
}

// hasPathPrefix matches prefix at a path-segment boundary, so "/admin"
// matches "/admin" and "/admin/hotels" but not "/administrator".
func hasPathPrefix(p, prefix string) bool {
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	rest := p[len(prefix):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// Navigator performs a full navigation to path.
type Navigator interface {
	Redirect(path string)
}

// Router reports the current route.
type Router interface {
	Current() Route
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Redirect calls f(path).
func (f NavigatorFunc) Redirect(path string) { f(path) }

// RouterFunc adapts a function to Router.
type RouterFunc func() Route

// Current calls f().
func (f RouterFunc) Current() Route { return f() }

// Fixed returns a Router that always reports route.
func Fixed(route Route) Router {
	return RouterFunc(func() Route { return route })
}
