package api

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/nav"
)

func signToken(t *testing.T, exp time.Time, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "user-1", "role": role, "exp": exp.Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// spyCreds counts clears on top of a real credential store. A non-nil
// clearErr makes every clear fail without touching the store.
type spyCreds struct {
	*auth.CredentialStore
	clears   atomic.Int32
	clearErr error
}

func (s *spyCreds) Clear(t auth.Tenant) error {
	s.clears.Add(1)
	if s.clearErr != nil {
		return s.clearErr
	}
	return s.CredentialStore.Clear(t)
}

// recorder is a Navigator that remembers every redirect.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) Redirect(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type fixture struct {
	client *Client
	creds  *spyCreds
	nav    *recorder
}

func newFixture(t *testing.T, srv *httptest.Server, route nav.Route, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithDelay(t, srv, route, 20*time.Millisecond, opts...)
}

func newFixtureWithDelay(t *testing.T, srv *httptest.Server, route nav.Route, delay time.Duration, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	cookies, err := auth.NewCookieStore(srv.URL, dir)
	require.NoError(t, err)
	creds := &spyCreds{CredentialStore: auth.NewCredentialStore(cookies, auth.NewFileKeyStore(dir))}

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 5 * time.Second
	cfg.RedirectDelay = delay

	rec := &recorder{}
	opts = append([]Option{WithNavigator(rec), WithRouter(nav.Fixed(route))}, opts...)
	return &fixture{
		client: NewClient(cfg, creds, opts...),
		creds:  creds,
		nav:    rec,
	}
}

func (f *fixture) token(t *testing.T, tenant auth.Tenant) string {
	t.Helper()
	tok, err := f.creds.Token(tenant)
	require.NoError(t, err)
	return tok
}

// recordingHooks keeps the results of every request and invalidation.
type recordingHooks struct {
	NoopHooks
	mu            sync.Mutex
	requests      []RequestResult
	refreshes     []RefreshResult
	invalidations []InvalidationInfo
	operations    []string
}

func (h *recordingHooks) OnRequestEnd(_ context.Context, _ RequestInfo, r RequestResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, r)
}

func (h *recordingHooks) OnRefresh(_ context.Context, r RefreshResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshes = append(h.refreshes, r)
}

func (h *recordingHooks) OnInvalidate(_ context.Context, info InvalidationInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidations = append(h.invalidations, info)
}

func (h *recordingHooks) OnOperationEnd(_ context.Context, op OperationInfo, _ error, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operations = append(h.operations, op.Name)
}
