package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
)

func requireKind(t *testing.T, err error, kind output.Kind) *output.Error {
	t.Helper()
	require.Error(t, err)
	var e *output.Error
	require.True(t, errors.As(err, &e), "expected *output.Error, got %T", err)
	assert.Equal(t, kind, e.Kind)
	return e
}

func TestPublicEndpointsSkipAuthentication(t *testing.T) {
	var refreshes atomic.Int32
	var mu sync.Mutex
	headers := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathRefresh {
			refreshes.Add(1)
		}
		mu.Lock()
		headers[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client/bookings")
	expired := signToken(t, time.Now().Add(-time.Hour), "guest")
	require.NoError(t, f.creds.Save(auth.TenantRegular, expired, "refresh-1"))
	require.NoError(t, f.creds.Save(auth.TenantAdmin, "admin-token", ""))

	for _, p := range publicEndpoints {
		_, err := f.client.Post(context.Background(), p, map[string]string{"email": "a@b.c"})
		require.NoError(t, err, p)
	}

	assert.Zero(t, refreshes.Load())
	mu.Lock()
	defer mu.Unlock()
	for _, p := range publicEndpoints {
		assert.Empty(t, headers[p], "Authorization sent to %s", p)
	}
}

func TestValidTokenIsAttached(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client/bookings")
	token := signToken(t, time.Now().Add(time.Hour), "guest")
	require.NoError(t, f.creds.Save(auth.TenantRegular, token, "refresh-1"))

	_, err := f.client.Get(context.Background(), "/client/bookings")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+token, got)
}

func TestNoTokenSendsAnonymously(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Values("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/hotels")
	_, err := f.client.Get(context.Background(), "/hotels/42")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUndecodableTokenSentAsIs(t *testing.T) {
	var got string
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathRefresh {
			refreshes.Add(1)
		}
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "opaque-token", "refresh-1"))

	_, err := f.client.Get(context.Background(), "/client/bookings")
	require.NoError(t, err)
	assert.Equal(t, "Bearer opaque-token", got)
	assert.Zero(t, refreshes.Load())
}

func TestExpiredTokenRefreshedBeforeSend(t *testing.T) {
	now := time.Now()
	fresh := signToken(t, now.Add(time.Hour), "guest")
	var refreshes atomic.Int32
	var refreshBody map[string]string
	var got string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathRefresh:
			refreshes.Add(1)
			assert.Empty(t, r.Header.Get("Authorization"))
			_ = json.NewDecoder(r.Body).Decode(&refreshBody)
			http.SetCookie(w, &http.Cookie{Name: auth.CookieToken, Value: fresh, Path: "/"})
			w.Write([]byte(`{"token":"` + fresh + `"}`))
		case "/client/bookings":
			got = r.Header.Get("Authorization")
			w.Write([]byte(`{"data":[{"id":"b-1"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client/bookings", WithClock(func() time.Time { return now }))
	expired := signToken(t, now.Add(-60*time.Second), "guest")
	require.NoError(t, f.creds.Save(auth.TenantRegular, expired, "refresh-1"))

	resp, err := f.client.Get(context.Background(), "/client/bookings")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"b-1"}]`, string(resp.Data))

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "refresh-1", refreshBody["refreshToken"])
	assert.Equal(t, "Bearer "+fresh, got)

	// The server's cookie updated the store for later requests
	assert.Equal(t, fresh, f.token(t, auth.TenantRegular))
}

func TestRefreshFailureAbandonsRequest(t *testing.T) {
	now := time.Now()
	var bookings atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathRefresh:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"Invalid refresh token"}`))
		default:
			bookings.Add(1)
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client/bookings", WithClock(func() time.Time { return now }))
	require.NoError(t, f.creds.Save(auth.TenantRegular, signToken(t, now.Add(-60*time.Second), "guest"), "refresh-1"))

	_, err := f.client.Get(context.Background(), "/client/bookings")
	e := requireKind(t, err, output.KindSessionExpired)
	assert.True(t, e.SuppressToast)
	assert.Equal(t, http.StatusUnauthorized, e.HTTPStatus)
	assert.Contains(t, e.Message, "session has expired")
	assert.Zero(t, bookings.Load(), "request must not be sent")

	f.client.Wait()
	assert.Equal(t, []string{nav.LoginPath}, f.nav.Paths())
	assert.Empty(t, f.token(t, auth.TenantRegular))
	assert.Empty(t, f.creds.RefreshToken())
	assert.False(t, f.client.Guard().Locked())
}

func TestExpiredTokenWithoutRefreshToken(t *testing.T) {
	now := time.Now()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client", WithClock(func() time.Time { return now }))
	require.NoError(t, f.creds.Save(auth.TenantRegular, signToken(t, now.Add(-time.Minute), "guest"), ""))

	_, err := f.client.Get(context.Background(), "/client/bookings")
	e := requireKind(t, err, output.KindSessionExpired)
	assert.ErrorIs(t, e, ErrNoRefreshToken)
	assert.Zero(t, hits.Load())

	f.client.Wait()
	assert.Equal(t, []string{nav.LoginPath}, f.nav.Paths())
}

func TestAdminTokenNeverExpiryChecked(t *testing.T) {
	var refreshes atomic.Int32
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathRefresh {
			refreshes.Add(1)
		}
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/admin/hotels")
	adminExpired := signToken(t, time.Now().Add(-time.Hour), "admin")
	require.NoError(t, f.creds.Save(auth.TenantAdmin, adminExpired, ""))
	require.NoError(t, f.creds.Save(auth.TenantRegular, "regular-token", "refresh-1"))

	_, err := f.client.Get(context.Background(), "/admin/hotels")
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+adminExpired, got)
	assert.Zero(t, refreshes.Load())
}

func TestTenantFollowsRoutePerRequest(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get("Authorization"))
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "regular-token", ""))
	require.NoError(t, f.creds.Save(auth.TenantAdmin, "admin-token", ""))

	ctx := context.Background()
	_, err := f.client.Get(ctx, "/hotels")
	require.NoError(t, err)
	_, err = f.client.Get(WithRoute(ctx, "/admin/dashboard"), "/hotels")
	require.NoError(t, err)
	_, err = f.client.Get(ctx, "/hotels")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer regular-token", "Bearer admin-token", "Bearer regular-token"}, got)
}

func TestAuthActionFailurePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLogin:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Invalid credentials"}`))
		case PathRegister:
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"Registration closed"}`))
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/login")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "existing-token", "refresh-1"))

	_, err := f.client.Post(context.Background(), PathLogin, LoginRequest{Email: "a@b.c", Password: "nope"})
	e := requireKind(t, err, output.KindAuthAction401)
	assert.Equal(t, "Invalid credentials", e.Message)
	assert.Equal(t, http.StatusUnauthorized, e.HTTPStatus)
	assert.False(t, e.SuppressToast)
	assert.JSONEq(t, `{"message":"Invalid credentials"}`, string(e.Body))

	_, err = f.client.Post(context.Background(), PathRegister, map[string]string{})
	e = requireKind(t, err, output.KindAuthAction403)
	assert.Equal(t, "Registration closed", e.Message)
	assert.False(t, e.SuppressToast)

	f.client.Wait()
	assert.Empty(t, f.nav.Paths())
	assert.Zero(t, f.creds.clears.Load())
	assert.Equal(t, "existing-token", f.token(t, auth.TenantRegular))
}

func TestGeneric401BurstRedirectsOnce(t *testing.T) {
	const n = 5
	var arrived sync.WaitGroup
	arrived.Add(n)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		arrived.Wait()
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"jwt expired"}`))
	}))
	defer srv.Close()

	f := newFixtureWithDelay(t, srv, "/client/bookings", 300*time.Millisecond)
	require.NoError(t, f.creds.Save(auth.TenantRegular, "token-1", "refresh-1"))

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.client.Get(context.Background(), "/client/bookings")
		}()
	}
	wg.Wait()

	kinds := map[output.Kind]int{}
	for _, err := range errs {
		require.Error(t, err)
		e := output.AsError(err)
		assert.True(t, e.SuppressToast)
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[output.KindGeneric401])
	assert.Equal(t, n-1, kinds[output.KindDebounced401])

	assert.True(t, f.client.Guard().Locked(), "lock is held until the redirect runs")
	assert.Empty(t, f.nav.Paths(), "redirect is delayed")

	f.client.Wait()
	assert.Equal(t, []string{nav.LoginPath}, f.nav.Paths())
	assert.Equal(t, int32(1), f.creds.clears.Load())
	assert.Empty(t, f.token(t, auth.TenantRegular))
	assert.False(t, f.client.Guard().Locked())
}

func TestGeneric401OnAdminRouteRedirectsToAdminLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/admin/hotels")
	require.NoError(t, f.creds.Save(auth.TenantAdmin, "admin-token", ""))
	require.NoError(t, f.creds.Save(auth.TenantRegular, "regular-token", ""))

	_, err := f.client.Get(context.Background(), "/admin/hotels")
	requireKind(t, err, output.KindGeneric401)

	f.client.Wait()
	assert.Equal(t, []string{nav.AdminLoginPath}, f.nav.Paths())
	assert.Empty(t, f.token(t, auth.TenantAdmin))
	assert.Equal(t, "regular-token", f.token(t, auth.TenantRegular))
}

func TestDebouncedWhileLockHeld(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	require.True(t, f.client.Guard().TryLock())

	_, err := f.client.Get(context.Background(), "/client/bookings")
	e := requireKind(t, err, output.KindDebounced401)
	assert.True(t, e.SuppressToast)

	_, err = f.client.Get(context.Background(), PathMe)
	requireKind(t, err, output.KindDebounced401)

	f.client.Wait()
	assert.Empty(t, f.nav.Paths())
	assert.Zero(t, f.creds.clears.Load())
}

func TestSuccessResetsGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	require.True(t, f.client.Guard().TryLock())

	_, err := f.client.Get(context.Background(), "/hotels")
	require.NoError(t, err)
	assert.False(t, f.client.Guard().Locked())
}

func TestGeneric403RedirectsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"Hotel staff only"}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/hotel/dashboard")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "token-1", ""))

	_, err := f.client.Get(context.Background(), "/hotel/rooms")
	e := requireKind(t, err, output.KindGeneric403)
	assert.True(t, e.SuppressToast)
	assert.Equal(t, output.CodeForbidden, e.Code)

	// No Wait: the redirect is not delayed
	assert.Equal(t, []string{nav.ForbiddenPath}, f.nav.Paths())
	assert.Zero(t, f.creds.clears.Load())
	assert.Equal(t, "token-1", f.token(t, auth.TenantRegular))
}

func TestNotFoundPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Booking not found"}`))
	}))
	defer srv.Close()

	for _, route := range []nav.Route{"/client/bookings", "/admin/hotels", "/hotels"} {
		t.Run(string(route), func(t *testing.T) {
			f := newFixture(t, srv, route)
			require.NoError(t, f.creds.Save(auth.TenantRegular, "token-1", "refresh-1"))

			_, err := f.client.Get(context.Background(), "/client/bookings/b-404")
			e := requireKind(t, err, output.KindNotFound)
			assert.Equal(t, "Booking not found", e.Message)
			assert.Equal(t, http.StatusNotFound, e.HTTPStatus)
			assert.False(t, e.SuppressToast)

			f.client.Wait()
			assert.Empty(t, f.nav.Paths())
			assert.Zero(t, f.creds.clears.Load())
			assert.Equal(t, "token-1", f.token(t, auth.TenantRegular))
		})
	}
}

func TestUnclassifiedPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"msg":"date is in the past"}]}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	_, err := f.client.Post(context.Background(), "/client/laundry", map[string]any{"date": "2020-01-01"})
	e := requireKind(t, err, output.KindUnclassified)
	assert.Equal(t, "date is in the past", e.Message)
	assert.Equal(t, http.StatusUnprocessableEntity, e.HTTPStatus)
	assert.False(t, e.SuppressToast)
	assert.Empty(t, f.nav.Paths())
}

func TestNetworkErrorShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	f := newFixture(t, srv, "/client/bookings")
	srv.Close()

	_, err := f.client.Get(context.Background(), "/client/bookings")
	e := requireKind(t, err, output.KindNetworkError)
	assert.True(t, e.IsNetworkError)
	assert.False(t, e.SuppressToast)
	assert.Zero(t, e.HTTPStatus)
	assert.Contains(t, e.Message, "Unable to reach the server")
	assert.Equal(t, output.ExitNetwork, e.ExitCode())

	f.client.Wait()
	assert.Empty(t, f.nav.Paths())
	assert.Zero(t, f.creds.clears.Load())
}

func TestSessionCheckFailureOnPublicRouteStaysPut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/hotels")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "token-1", ""))

	_, err := f.client.Get(context.Background(), PathMe)
	e := requireKind(t, err, output.KindSessionCheck401)
	assert.True(t, e.SuppressToast)

	f.client.Wait()
	assert.Empty(t, f.nav.Paths())
	assert.Equal(t, int32(1), f.creds.clears.Load())
	assert.Empty(t, f.token(t, auth.TenantRegular))
}

func TestSessionCheckFailureOnProtectedRouteRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client/bookings")
	require.NoError(t, f.creds.Save(auth.TenantRegular, "token-1", ""))

	_, err := f.client.Get(context.Background(), PathMe)
	requireKind(t, err, output.KindSessionCheck401)

	f.client.Wait()
	assert.Equal(t, []string{nav.LoginPath}, f.nav.Paths())
	assert.Equal(t, int32(1), f.creds.clears.Load())
}

func TestRequestHeaders(t *testing.T) {
	var h http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv, "/client")
	_, err := f.client.Post(context.Background(), "/client/feedback", map[string]int{"rating": 5})
	require.NoError(t, err)

	assert.Contains(t, h.Get("User-Agent"), "staybook/")
	assert.Len(t, h.Get("X-Request-ID"), 36)
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "application/json", h.Get("Accept"))
}

func TestHooksSeeClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	f := newFixture(t, srv, "/client", WithHooks(hooks))

	_, err := f.client.Get(context.Background(), "/hotels")
	require.NoError(t, err)
	_, err = f.client.Get(context.Background(), "/missing")
	require.Error(t, err)

	require.Len(t, hooks.requests, 2)
	assert.Equal(t, http.StatusOK, hooks.requests[0].StatusCode)
	assert.Equal(t, output.KindNone, hooks.requests[0].Kind)
	assert.Equal(t, http.StatusNotFound, hooks.requests[1].StatusCode)
	assert.Equal(t, output.KindNotFound, hooks.requests[1].Kind)
}
