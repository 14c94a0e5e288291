package api

import (
	"context"
	"time"

	"github.com/staybook/staybook-cli/internal/auth"
	"github.com/staybook/staybook-cli/internal/output"
)

// OperationInfo describes a high-level client operation (login, session
// check) that may span several HTTP requests.
type OperationInfo struct {
	Name   string
	Tenant auth.Tenant
}

// RequestInfo describes one request passing through the pipeline.
type RequestInfo struct {
	Method    string
	Path      string
	RequestID string
	Tenant    auth.Tenant
	Public    bool
}

// RequestResult describes how a request ended.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Kind       output.Kind
	Error      error
}

// RefreshResult describes one refresh-token exchange as seen by a caller.
// Shared is true when the caller joined an exchange already in flight.
type RefreshResult struct {
	Duration time.Duration
	Shared   bool
	Error    error
}

// InvalidationInfo describes a session invalidation side effect.
// Redirect is empty when no navigation was scheduled.
type InvalidationInfo struct {
	Kind      output.Kind
	Tenant    auth.Tenant
	Cleared   bool
	Redirect  string
	Immediate bool
}

// Hooks observes the pipeline. Implementations must be safe for concurrent
// use; every callback may run on any goroutine.
type Hooks interface {
	OnOperationStart(ctx context.Context, op OperationInfo) context.Context
	OnOperationEnd(ctx context.Context, op OperationInfo, err error, duration time.Duration)
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRefresh(ctx context.Context, result RefreshResult)
	OnInvalidate(ctx context.Context, info InvalidationInfo)
}

// NoopHooks does nothing.
type NoopHooks struct{}

var _ Hooks = NoopHooks{}

func (NoopHooks) OnOperationStart(ctx context.Context, _ OperationInfo) context.Context { return ctx }
func (NoopHooks) OnOperationEnd(context.Context, OperationInfo, error, time.Duration)    {}
func (NoopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context     { return ctx }
func (NoopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)              {}
func (NoopHooks) OnRefresh(context.Context, RefreshResult)                              {}
func (NoopHooks) OnInvalidate(context.Context, InvalidationInfo)                        {}
