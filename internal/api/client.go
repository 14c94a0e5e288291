// Package api implements the authenticated request pipeline for the
// Staybook backend: endpoint classification, bearer-token attachment with
// proactive refresh, response classification and session invalidation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/nav"
	"github.com/staybook/staybook-cli/internal/output"
	"github.com/staybook/staybook-cli/internal/version"
)

// Credentials is the credential storage the pipeline reads and clears.
// *auth.CredentialStore implements it.
type Credentials interface {
	Token(t auth.Tenant) (string, error)
	RefreshToken() string
	Save(t auth.Tenant, token, refreshToken string) error
	Clear(t auth.Tenant) error
	Jar() http.CookieJar
}

var _ Credentials = (*auth.CredentialStore)(nil)

// Client is the HTTP client every caller goes through.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	guard      *SessionGuard
	refresher  *refresher
	inval      *invalidator
	router     nav.Router
	navigator  nav.Navigator
	now        func() time.Time
	log        zerolog.Logger
	hooks      Hooks
}

// Response wraps a successful API response.
type Response struct {
	Data       json.RawMessage
	Raw        []byte
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Get returns the value at a gjson path of the raw body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHooks sets the observability hooks.
func WithHooks(h Hooks) Option {
	return func(c *Client) {
		if h != nil {
			c.hooks = h
		}
	}
}

// WithClock sets the time source used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithNavigator sets where redirects go.
func WithNavigator(n nav.Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

// WithRouter sets the source of the current route.
func WithRouter(r nav.Router) Option {
	return func(c *Client) { c.router = r }
}

type routeKey struct{}

// WithRoute overrides the current route for requests made with ctx.
func WithRoute(ctx context.Context, route nav.Route) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// NewClient creates a new API client.
func NewClient(cfg *config.Config, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL: cfg.BaseURL,
		creds:   creds,
		guard:   &SessionGuard{},
		router:  nav.Fixed(nav.Root),
		now:     time.Now,
		log:     zerolog.Nop(),
		hooks:   NoopHooks{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.navigator == nil {
		c.navigator = nav.NavigatorFunc(func(path string) {
			c.log.Info().Str("path", path).Msg("redirect requested with no navigator")
		})
	}

	c.httpClient = &http.Client{
		Timeout:   cfg.Timeout,
		Jar:       creds.Jar(),
		Transport: newTransport(),
	}
	c.refresher = newRefresher(c.baseURL, cfg.Timeout, creds, c.guard, c.log, c.hooks)
	c.inval = &invalidator{
		guard: c.guard,
		creds: creds,
		nav:   c.navigator,
		delay: cfg.RedirectDelay,
		log:   c.log,
		hooks: c.hooks,
	}
	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Guard returns the client's session guard.
func (c *Client) Guard() *SessionGuard {
	return c.guard
}

// Wait blocks until every scheduled redirect has run.
func (c *Client) Wait() {
	c.inval.wait()
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends a request through the pipeline. Failures are *output.Error
// values tagged with their classification Kind.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	route := c.currentRoute(ctx)
	ep := Classify(path, route)
	info := RequestInfo{
		Method:    method,
		Path:      path,
		RequestID: uuid.NewString(),
		Tenant:    ep.Tenant(),
		Public:    ep.IsPublic,
	}

	ctx = c.hooks.OnRequestStart(ctx, info)
	start := time.Now()
	resp, status, err := c.send(ctx, info, path, body, ep, route)

	result := RequestResult{StatusCode: status, Duration: time.Since(start), Error: err}
	if err != nil {
		result.Kind = output.AsError(err).Kind
	}
	c.hooks.OnRequestEnd(ctx, info, result)
	return resp, err
}

func (c *Client) currentRoute(ctx context.Context) nav.Route {
	if r, ok := ctx.Value(routeKey{}).(nav.Route); ok {
		return r
	}
	if r := c.router.Current(); r != "" {
		return r
	}
	return nav.Root
}

// send runs the request phase, the transport and the response phase.
// The returned status is 0 when no response was received.
func (c *Client) send(ctx context.Context, info RequestInfo, path string, body any, ep Endpoint, route nav.Route) (*Response, int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, 0, output.ErrUsage(fmt.Sprintf("failed to marshal body: %v", err))
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	token, err := c.authorize(ctx, ep, route)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, info.Method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, 0, output.ErrUsage(fmt.Sprintf("invalid request: %v", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", info.RequestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().
		Str("method", info.Method).
		Str("path", ep.Path).
		Str("tenant", info.Tenant.String()).
		Bool("public", ep.IsPublic).
		Bool("bearer", token != "").
		Str("request_id", info.RequestID).
		Msg("request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("path", ep.Path).Msg("no response")
		return nil, 0, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, output.ErrNetwork(fmt.Errorf("failed to read response: %w", err))
	}

	if isSuccess(resp.StatusCode) {
		c.guard.Reset()
		return &Response{
			Data:       envelopeData(respBody),
			Raw:        respBody,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}, resp.StatusCode, nil
	}

	return nil, resp.StatusCode, c.reject(ctx, ep, route, resp.StatusCode, respBody)
}

// reject classifies a failed response and runs its side effects.
func (c *Client) reject(ctx context.Context, ep Endpoint, route nav.Route, status int, body []byte) error {
	kind := classifyStatus(ep, status, c.guard.Locked())
	if kind == output.KindGeneric401 && !c.inval.expire(ctx, kind, ep.Tenant(), route) {
		kind = output.KindDebounced401
	}

	c.log.Debug().Str("path", ep.Path).Int("status", status).Str("kind", string(kind)).Msg("request rejected")

	switch kind {
	case output.KindDebounced401:
		return output.ErrSuppressed(kind, status, msgDebounced)
	case output.KindSessionCheck401:
		c.inval.sessionCheckFailed(ctx, ep.Tenant(), route)
		return output.ErrSuppressed(kind, status, msgNotSignedIn)
	case output.KindGeneric401:
		e := output.ErrSuppressed(kind, status, msgSessionExpired)
		e.Hint = "Run: staybook auth login"
		return e
	case output.KindGeneric403:
		c.inval.forbid(ctx, ep.Tenant())
		return output.ErrSuppressed(kind, status, msgForbidden)
	default:
		return serverError(kind, status, body)
	}
}

// envelopeData returns the "data" member of a JSON envelope, or the whole
// body when there is none.
func envelopeData(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if v := gjson.GetBytes(body, "data"); v.Exists() && gjson.ValidBytes(body) {
		return json.RawMessage(v.Raw)
	}
	return json.RawMessage(body)
}

func (c *Client) buildURL(path string) string {
	if len(path) == 0 || path[0] != '/' {
		path = "/" + path
	}
	return c.baseURL + path
}
