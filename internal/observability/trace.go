package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/staybook/staybook-cli/internal/api"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
// This list is intentionally specific to avoid hiding useful debug info.
var sensitiveParams = map[string]bool{
	"access_token":  true, // Bearer tokens
	"refresh_token": true, // Refresh tokens
	"refreshtoken":  true, // Refresh tokens (camelCase)
	"token":         true, // Generic tokens
	"api_key":       true, // API keys
	"apikey":        true, // API keys (no underscore)
	"password":      true, // Passwords
	"passwd":        true, // Passwords (short form)
	"secret":        true, // Generic secrets
	"private_key":   true, // Private keys
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return &TraceWriter{
		writer:    os.Stderr,
		startTime: time.Now(),
	}
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteOperationStart writes an operation start trace line.
// Format: [0.234s] Calling Login (regular)
func (t *TraceWriter) WriteOperationStart(op api.OperationInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] Calling %s (%s)\n", elapsed, op.Name, op.Tenant)
}

// WriteOperationEnd writes an operation completion trace line.
// Format: [0.234s] Completed Login (234ms)
func (t *TraceWriter) WriteOperationEnd(op api.OperationInfo, err error, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()

	if err != nil {
		fmt.Fprintf(t.writer, "[%.3fs] Failed %s: %v\n", elapsed, op.Name, err)
	} else {
		fmt.Fprintf(t.writer, "[%.3fs] Completed %s (%dms)\n", elapsed, op.Name, duration.Milliseconds())
	}
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /client/bookings
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequestStart(info api.RequestInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	safeURL := scrubURL(info.Path)
	suffix := ""
	if info.Public {
		suffix = " (public)"
	}
	fmt.Fprintf(t.writer, "[%.3fs]   -> %s %s%s\n", elapsed, info.Method, safeURL, suffix)
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms) or [0.234s]   <- 401 generic_401 (45ms)
func (t *TraceWriter) WriteRequestEnd(info api.RequestInfo, result api.RequestResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()

	if result.StatusCode == 0 && result.Error != nil {
		fmt.Fprintf(t.writer, "[%.3fs]   <- ERROR: %v\n", elapsed, result.Error)
		return
	}

	if result.Kind != "" {
		fmt.Fprintf(t.writer, "[%.3fs]   <- %d %s (%dms)\n", elapsed, result.StatusCode, result.Kind, result.Duration.Milliseconds())
	} else {
		fmt.Fprintf(t.writer, "[%.3fs]   <- %d (%dms)\n", elapsed, result.StatusCode, result.Duration.Milliseconds())
	}
}

// WriteRefresh writes a refresh trace line.
// Format: [0.234s]   REFRESH ok (120ms, shared)
func (t *TraceWriter) WriteRefresh(result api.RefreshResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	shared := ""
	if result.Shared {
		shared = ", shared"
	}
	if result.Error != nil {
		fmt.Fprintf(t.writer, "[%.3fs]   REFRESH failed (%dms%s): %v\n", elapsed, result.Duration.Milliseconds(), shared, result.Error)
		return
	}
	fmt.Fprintf(t.writer, "[%.3fs]   REFRESH ok (%dms%s)\n", elapsed, result.Duration.Milliseconds(), shared)
}

// WriteInvalidation writes a session trace line.
// Format: [0.234s]   SESSION generic_401: cleared regular, redirect /login
func (t *TraceWriter) WriteInvalidation(info api.InvalidationInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	kind := string(info.Kind)
	if kind == "" {
		kind = "logout"
	}
	var parts []string
	if info.Cleared {
		parts = append(parts, "cleared "+info.Tenant.String())
	}
	switch {
	case info.Redirect == "":
		parts = append(parts, "no redirect")
	case info.Immediate:
		parts = append(parts, "redirect "+info.Redirect)
	default:
		parts = append(parts, "redirect "+info.Redirect+" (delayed)")
	}
	fmt.Fprintf(t.writer, "[%.3fs]   SESSION %s: %s\n", elapsed, kind, strings.Join(parts, ", "))
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
