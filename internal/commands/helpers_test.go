package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/staybook/staybook-cli/internal/appctx"
	"github.com/staybook/staybook-cli/internal/config"
	"github.com/staybook/staybook-cli/internal/output"
)

// testEnv is an app wired to a fake backend with JSON output captured.
type testEnv struct {
	app *appctx.App
	out *bytes.Buffer
	srv *httptest.Server
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
	t.Helper()
	t.Setenv("STAYBOOK_NO_KEYRING", "1")
	t.Setenv("STAYBOOK_DEBUG", "")
	t.Setenv("STAYBOOK_PASSWORD", "")

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.BaseURL = srv.URL
	cfg.StateDir = t.TempDir()
	cfg.RedirectDelay = 0

	app, err := appctx.NewApp(cfg)
	require.NoError(t, err)
	var out bytes.Buffer
	app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: &out})

	return &testEnv{app: app, out: &out, srv: srv}
}

// run executes cmd with args against the env's app.
func (e *testEnv) run(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	ctx := appctx.WithApp(context.Background(), e.app)
	err := cmd.ExecuteContext(ctx)
	e.app.Client.Wait()
	return err
}

// response decodes the captured success envelope.
func (e *testEnv) response(t *testing.T) output.Response {
	t.Helper()
	var resp output.Response
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &resp))
	return resp
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "role": "client", "exp": exp.Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
