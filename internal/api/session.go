package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

const (
	checkSessionKey = "check-session"
	refreshKey      = "refresh"
)

// SessionGuard is the per-client session state shared by every in-flight
// request: the "a 401 is being handled" lock and the single-flight groups
// for session checks and refresh exchanges.
//
// Each acquisition of the lock gets a new generation. A delayed release
// only unlocks the generation it took, so a redirect scheduled before a
// Reset cannot drop a lock taken after it.
type SessionGuard struct {
	mu        sync.Mutex
	handling  bool
	gen       uint64
	checks    singleflight.Group
	refreshes singleflight.Group
}

// TryLock takes the invalidation lock. Exactly one concurrent caller wins.
func (g *SessionGuard) TryLock() bool {
	_, ok := g.acquire()
	return ok
}

func (g *SessionGuard) acquire() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handling {
		return 0, false
	}
	g.handling = true
	g.gen++
	return g.gen, true
}

// release unlocks the guard if it is still held by generation gen.
func (g *SessionGuard) release(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handling && g.gen == gen {
		g.handling = false
	}
}

// Unlock releases the invalidation lock.
func (g *SessionGuard) Unlock() {
	g.mu.Lock()
	g.handling = false
	g.mu.Unlock()
}

// Locked reports whether an invalidation is in progress.
func (g *SessionGuard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handling
}

// Reset returns the guard to idle after a successful response. Callers
// arriving later start a fresh session check instead of joining a stale one.
func (g *SessionGuard) Reset() {
	g.mu.Lock()
	g.handling = false
	g.gen++
	g.mu.Unlock()
	g.checks.Forget(checkSessionKey)
}

// invalidator clears credentials and schedules navigation.
type invalidator struct {
	guard *SessionGuard
	creds Credentials
	nav   nav.Navigator
	delay time.Duration
	log   zerolog.Logger
	hooks Hooks

	pending sync.WaitGroup
}

// expire handles a dead session: take the lock, clear the tenant's
// credentials and redirect to its login page after the delay, releasing
// the lock once the redirect has run. Returns false if another
// invalidation already holds the lock.
func (v *invalidator) expire(ctx context.Context, kind output.Kind, tenant auth.Tenant, route nav.Route) bool {
	gen, ok := v.guard.acquire()
	if !ok {
		return false
	}
	cleared := v.clear(tenant)
	target := route.LoginPath()
	v.schedule(target, func() { v.guard.release(gen) })
	v.log.Info().Str("kind", string(kind)).Str("tenant", tenant.String()).Str("redirect", target).Msg("session invalidated")
	v.hooks.OnInvalidate(ctx, InvalidationInfo{Kind: kind, Tenant: tenant, Cleared: cleared, Redirect: target})
	return true
}

// sessionCheckFailed clears credentials and redirects to login unless the
// current route is public.
func (v *invalidator) sessionCheckFailed(ctx context.Context, tenant auth.Tenant, route nav.Route) {
	info := InvalidationInfo{Kind: output.KindSessionCheck401, Tenant: tenant, Cleared: v.clear(tenant)}
	if !route.IsPublic() {
		info.Redirect = route.LoginPath()
		v.schedule(info.Redirect, nil)
	}
	v.log.Info().Str("route", string(route)).Str("redirect", info.Redirect).Msg("session check failed")
	v.hooks.OnInvalidate(ctx, info)
}

// forbid navigates to the forbidden page right away.
func (v *invalidator) forbid(ctx context.Context, tenant auth.Tenant) {
	v.nav.Redirect(nav.ForbiddenPath)
	v.log.Info().Str("redirect", nav.ForbiddenPath).Msg("access forbidden")
	v.hooks.OnInvalidate(ctx, InvalidationInfo{
		Kind:      output.KindGeneric403,
		Tenant:    tenant,
		Redirect:  nav.ForbiddenPath,
		Immediate: true,
	})
}

// clear removes tenant's credentials and reports whether that succeeded.
func (v *invalidator) clear(tenant auth.Tenant) bool {
	if err := v.creds.Clear(tenant); err != nil {
		v.log.Warn().Err(err).Str("tenant", tenant.String()).Msg("clearing credentials")
		return false
	}
	return true
}

// schedule redirects to path after the delay, then runs after.
func (v *invalidator) schedule(path string, after func()) {
	v.pending.Add(1)
	time.AfterFunc(v.delay, func() {
		defer v.pending.Done()
		v.nav.Redirect(path)
		if after != nil {
			after()
		}
	})
}

// wait blocks until every scheduled redirect has run.
func (v *invalidator) wait() {
	v.pending.Wait()
}
