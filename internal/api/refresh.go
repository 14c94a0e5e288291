package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/staybook/staybook-cli/internal/version"
)

// ErrNoRefreshToken is returned when a refresh is needed but no refresh
// token is stored.
var ErrNoRefreshToken = errors.New("no refresh token available")

// refresher exchanges the refresh token for a new bearer token.
//
// It uses its own http.Client so the exchange never re-enters the pipeline.
// The cookie jar is shared: a rotated token cookie set by the server lands
// in the credential store.
type refresher struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	creds   Credentials
	group   *singleflight.Group
	log     zerolog.Logger
	hooks   Hooks
}

func newRefresher(baseURL string, timeout time.Duration, creds Credentials, guard *SessionGuard, log zerolog.Logger, hooks Hooks) *refresher {
	return &refresher{
		baseURL: baseURL,
		timeout: timeout,
		http: &http.Client{
			Timeout:   timeout,
			Jar:       creds.Jar(),
			Transport: newTransport(),
		},
		creds: creds,
		group: &guard.refreshes,
		log:   log,
		hooks: hooks,
	}
}

// Refresh returns a new bearer token. Concurrent callers share one exchange.
//
// The exchange outlives the caller that started it: it runs on a detached
// context bounded by the client timeout, and each caller only stops waiting
// when its own ctx is done. A cancelled caller returns ctx.Err().
func (r *refresher) Refresh(ctx context.Context) (string, error) {
	start := time.Now()
	ch := r.group.DoChan(refreshKey, func() (any, error) {
		ctx, cancel := r.detach(ctx)
		defer cancel()
		return r.exchange(ctx)
	})

	select {
	case res := <-ch:
		r.hooks.OnRefresh(ctx, RefreshResult{Duration: time.Since(start), Shared: res.Shared, Error: res.Err})
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *refresher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func (r *refresher) exchange(ctx context.Context) (string, error) {
	refreshToken := r.creds.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+PathRefresh, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	r.log.Debug().Str("path", PathRefresh).Msg("refreshing token")
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(body)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("refresh exchange: HTTP %d: %s", resp.StatusCode, msg)
	}

	token := firstString(body, "token", "data.token")
	if token == "" {
		return "", errors.New("refresh exchange: response carried no token")
	}
	r.log.Debug().Msg("token refreshed")
	return token, nil
}

// firstString returns the first non-empty string found at paths in body.
func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
