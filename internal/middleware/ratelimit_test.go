package middleware_test

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/middleware"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testHostAddr       = "192.168.1.1:12345"
	testUserAgent      = "TestAgent/1.0"
	testUserAgentShort = "TestAgent"
)

var errMultipartNotSupported = errors.New("multipart not supported in mock")

func newTestAPI() huma.API {
	return humachi.New(chi.NewMux(), huma.DefaultConfig("Test", "1.0.0"))
}

// mockLimiter returns a fixed result and records the last identifier.
type mockLimiter struct {
	result      ratelimit.Result
	err         error
	capturedKey string
	lastOpts    ratelimit.CheckOptions
}

func (m *mockLimiter) Check(_ context.Context, opts ratelimit.CheckOptions) (ratelimit.Result, error) {
	m.capturedKey = opts.Identifier
	m.lastOpts = opts

	return m.result, m.err
}

func (m *mockLimiter) Acquire(_ context.Context, opts ratelimit.CheckOptions) (bool, error) {
	m.capturedKey = opts.Identifier
	m.lastOpts = opts

	return m.result.OK, m.err
}

func allowingLimiter() *mockLimiter {
	return &mockLimiter{result: ratelimit.Result{Count: 1, Remaining: 9, Total: 10, OK: true, Reset: 1700000000}}
}

type failingStore struct{}

func (failingStore) SubmitWindow(context.Context, ratelimit.WindowBatch) (ratelimit.WindowReply, error) {
	return ratelimit.WindowReply{}, errors.New("store error")
}

// mockHumaContext implements huma.Context for testing.
type mockHumaContext struct {
	headers    map[string]string
	respHeader map[string]string
	host       string
	remoteAddr string
	written    []byte
	statusCode int
	method     string
	operation  *huma.Operation
}

func newMockHumaContext() *mockHumaContext {
	return &mockHumaContext{
		headers:    map[string]string{"User-Agent": testUserAgent},
		respHeader: make(map[string]string),
		host:       testHostAddr,
		method:     "GET",
	}
}

func (m *mockHumaContext) Operation() *huma.Operation {
	return m.operation
}
func (m *mockHumaContext) Context() context.Context              { return context.Background() }
func (m *mockHumaContext) TLS() *tls.ConnectionState             { return nil }
func (m *mockHumaContext) Version() huma.ProtoVersion            { return huma.ProtoVersion{} }
func (m *mockHumaContext) Method() string                        { return m.method }
func (m *mockHumaContext) Host() string                          { return m.host }
func (m *mockHumaContext) RemoteAddr() string                    { return m.remoteAddr }
func (m *mockHumaContext) URL() url.URL                          { return url.URL{} }
func (m *mockHumaContext) Param(_ string) string                 { return "" }
func (m *mockHumaContext) Query(_ string) string                 { return "" }
func (m *mockHumaContext) Header(name string) string             { return m.headers[name] }
func (m *mockHumaContext) EachHeader(_ func(name, value string)) {}
func (m *mockHumaContext) BodyReader() io.Reader                 { return nil }
func (m *mockHumaContext) GetMultipartForm() (*multipart.Form, error) {
	return nil, errMultipartNotSupported
}
func (m *mockHumaContext) SetReadDeadline(_ time.Time) error { return nil }
func (m *mockHumaContext) SetStatus(code int)                { m.statusCode = code }
func (m *mockHumaContext) Status() int                       { return m.statusCode }
func (m *mockHumaContext) AppendHeader(_, _ string)          {}
func (m *mockHumaContext) SetHeader(name, value string)      { m.respHeader[name] = value }
func (m *mockHumaContext) BodyWriter() io.Writer             { return &mockBodyWriter{ctx: m} }

type mockBodyWriter struct {
	ctx *mockHumaContext
}

func (w *mockBodyWriter) Write(p []byte) (n int, err error) {
	w.ctx.written = append(w.ctx.written, p...)

	return len(p), nil
}

func run(mw func(huma.Context, func(huma.Context)), ctx *mockHumaContext) bool {
	nextCalled := false

	mw(ctx, func(_ huma.Context) {
		nextCalled = true
	})

	return nextCalled
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows request and sets headers", func(t *testing.T) {
		limiter := allowingLimiter()
		mw := middleware.RateLimiter(newTestAPI(), limiter, nil)
		ctx := newMockHumaContext()

		assert.True(t, run(mw, ctx), "next should be called when allowed")
		assert.True(t, limiter.lastOpts.WantReset)
		assert.Equal(t, "10", ctx.respHeader[middleware.HeaderLimit])
		assert.Equal(t, "9", ctx.respHeader[middleware.HeaderRemaining])
		assert.Equal(t, "1700000000", ctx.respHeader[middleware.HeaderReset])
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		limiter := &mockLimiter{result: ratelimit.Result{Count: 10, Total: 10}}
		mw := middleware.RateLimiter(newTestAPI(), limiter, nil)
		ctx := newMockHumaContext()

		assert.False(t, run(mw, ctx), "next should not be called when rate limited")
		assert.Equal(t, 429, ctx.statusCode)
		assert.Contains(t, string(ctx.written), "rate limit")
		assert.Equal(t, "0", ctx.respHeader[middleware.HeaderRemaining])
	})

	t.Run("returns 500 on limiter error", func(t *testing.T) {
		limiter := &mockLimiter{err: errors.New("limiter error")}
		mw := middleware.RateLimiter(newTestAPI(), limiter, nil)
		ctx := newMockHumaContext()

		assert.False(t, run(mw, ctx), "next should not be called when limiter errors")
		assert.Equal(t, 500, ctx.statusCode)
	})

	t.Run("counts decisions", func(t *testing.T) {
		collectors, err := metrics.NewCollectors(metrics.Options{Registerer: prometheus.NewRegistry()})
		require.NoError(t, err)

		mw := middleware.RateLimiter(newTestAPI(), allowingLimiter(), collectors)
		run(mw, newMockHumaContext())

		assert.InDelta(t, 1, testutil.ToFloat64(
			collectors.Decisions.WithLabelValues("middleware", metrics.DecisionAllowed)), 0)
	})

	t.Run("uses IP and User-Agent for client key", func(t *testing.T) {
		limiter := allowingLimiter()
		mw := middleware.RateLimiter(newTestAPI(), limiter, nil)

		run(mw, newMockHumaContext())
		key1 := limiter.capturedKey

		run(mw, newMockHumaContext())
		key2 := limiter.capturedKey

		assert.NotEmpty(t, key1)
		assert.Equal(t, key1, key2, "same IP and User-Agent should produce same key")

		ctx3 := newMockHumaContext()
		ctx3.headers["User-Agent"] = "DifferentAgent/2.0"
		run(mw, ctx3)

		assert.NotEqual(t, key1, limiter.capturedKey, "different User-Agent should produce different key")
	})

	t.Run("extracts IP from X-Forwarded-For header", func(t *testing.T) {
		limiter := allowingLimiter()
		mw := middleware.RateLimiter(newTestAPI(), limiter, nil)

		ctx := newMockHumaContext()
		ctx.host = "10.0.0.1:12345"
		ctx.headers["X-Forwarded-For"] = "203.0.113.195, 70.41.3.18, 150.172.238.178"
		ctx.headers["User-Agent"] = testUserAgentShort
		run(mw, ctx)

		keyWithXFF := limiter.capturedKey

		ctx2 := newMockHumaContext()
		ctx2.host = "10.0.0.2:54321"
		ctx2.headers["X-Forwarded-For"] = "203.0.113.195"
		ctx2.headers["User-Agent"] = testUserAgentShort
		run(mw, ctx2)

		assert.Equal(t, keyWithXFF, limiter.capturedKey, "should use first IP from X-Forwarded-For")
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		host       string
		remoteAddr string
		want       string
	}{
		{name: "first forwarded entry", headers: map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"}, want: "203.0.113.195"},
		{name: "single forwarded entry", headers: map[string]string{"X-Forwarded-For": " 203.0.113.195 "}, want: "203.0.113.195"},
		{name: "real ip header", headers: map[string]string{"X-Real-IP": "203.0.113.100"}, want: "203.0.113.100"},
		{name: "remote addr", remoteAddr: "198.51.100.4:5555", host: "example.com:80", want: "198.51.100.4"},
		{name: "host with port", host: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "host without port", host: "192.168.1.1", want: "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := newMockHumaContext()
			ctx.host = tt.host
			ctx.remoteAddr = tt.remoteAddr

			for k, v := range tt.headers {
				ctx.headers[k] = v
			}

			assert.Equal(t, tt.want, middleware.ClientIP(ctx))
		})
	}
}

// mockScopeResolver is a mock resolver for testing.
type mockScopeResolver struct {
	scopes []ratelimit.Scope
}

func (m *mockScopeResolver) Resolve(_ huma.Context) []ratelimit.Scope {
	return m.scopes
}

func newPolicyLimiter(t *testing.T, s ratelimit.Store, policy *ratelimit.Policy) *ratelimit.PolicyLimiter {
	t.Helper()

	l, err := ratelimit.NewSlidingWindowLimiter(s, ratelimit.Config{Identifier: "policy"})
	require.NoError(t, err)

	return ratelimit.NewPolicyLimiter(l, policy)
}

func newPolicyMiddleware(
	t *testing.T,
	s ratelimit.Store,
	policy *ratelimit.Policy,
	scopes ...ratelimit.Scope,
) func(huma.Context, func(huma.Context)) {
	t.Helper()

	return middleware.PolicyRateLimiter(
		newTestAPI(),
		newPolicyLimiter(t, s, policy),
		&mockScopeResolver{scopes: scopes},
		nil,
		zap.NewNop(),
	)
}

//nolint:maintidx // Test function with comprehensive coverage across many scenarios
func TestPolicyRateLimiter(t *testing.T) {
	t.Run("allows request when under limit", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 10, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeGlobal)

		assert.True(t, run(mw, newMockHumaContext()), "next should be called when allowed")
	})

	t.Run("returns 429 when rate limited", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 1, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeGlobal)

		require.True(t, run(mw, newMockHumaContext()))

		ctx2 := newMockHumaContext()

		assert.False(t, run(mw, ctx2), "next should not be called when rate limited")
		assert.Equal(t, 429, ctx2.statusCode)
		assert.Contains(t, string(ctx2.written), "rate limit exceeded")
		assert.Equal(t, "1", ctx2.respHeader[middleware.HeaderLimit])
	})

	t.Run("includes limit details in error message", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeWrite, 1, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeWrite)

		run(mw, newMockHumaContext())

		ctx2 := newMockHumaContext()
		run(mw, ctx2)

		assert.Contains(t, string(ctx2.written), "write")
		assert.Contains(t, string(ctx2.written), "1/1")
	})

	t.Run("applies different limits per scope", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().
			AddLimit(ratelimit.ScopeRead, 5, time.Minute).
			AddLimit(ratelimit.ScopeWrite, 2, time.Minute).
			Build()
		limiter := newPolicyLimiter(t, store.NewMemoryWindowStore(), policy)
		api := newTestAPI()

		readMW := middleware.PolicyRateLimiter(api, limiter,
			&mockScopeResolver{scopes: []ratelimit.Scope{ratelimit.ScopeRead}}, nil, zap.NewNop())
		writeMW := middleware.PolicyRateLimiter(api, limiter,
			&mockScopeResolver{scopes: []ratelimit.Scope{ratelimit.ScopeWrite}}, nil, zap.NewNop())

		for i := range 5 {
			assert.True(t, run(readMW, newMockHumaContext()), "read request %d should be allowed", i+1)
		}

		for i := range 2 {
			assert.True(t, run(writeMW, newMockHumaContext()), "write request %d should be allowed", i+1)
		}

		ctx := newMockHumaContext()

		assert.False(t, run(writeMW, ctx), "3rd write request should be denied")
		assert.Equal(t, 429, ctx.statusCode)
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 10, time.Minute).Build()
		mw := newPolicyMiddleware(t, failingStore{}, policy, ratelimit.ScopeGlobal)
		ctx := newMockHumaContext()

		assert.False(t, run(mw, ctx))
		assert.Equal(t, 500, ctx.statusCode)
	})

	t.Run("skips rate limiting when disabled via metadata", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 1, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeGlobal)
		operation := &huma.Operation{
			Path: "/test",
			Metadata: map[string]any{
				ratelimit.MetadataKey: ratelimit.EndpointConfig{Disabled: true},
			},
		}

		for i := range 3 {
			ctx := newMockHumaContext()
			ctx.operation = operation

			assert.True(t, run(mw, ctx), "request %d should be allowed when disabled", i+1)
		}
	})

	t.Run("applies custom limits from metadata", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 100, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeGlobal)
		operation := &huma.Operation{
			Path: "/custom",
			Metadata: map[string]any{
				ratelimit.MetadataKey: ratelimit.EndpointConfig{
					Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 2}},
				},
			},
		}

		for i := range 2 {
			ctx := newMockHumaContext()
			ctx.operation = operation

			assert.True(t, run(mw, ctx), "request %d should be allowed", i+1)
		}

		ctx := newMockHumaContext()
		ctx.operation = operation

		assert.False(t, run(mw, ctx), "third request should be denied by custom limit")
		assert.Equal(t, 429, ctx.statusCode)
		assert.Contains(t, string(ctx.written), "2/2")
	})

	t.Run("scope override falls through to the policy", func(t *testing.T) {
		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 1, time.Minute).Build()
		mw := newPolicyMiddleware(t, store.NewMemoryWindowStore(), policy, ratelimit.ScopeGlobal)
		operation := &huma.Operation{
			Path: "/scoped",
			Metadata: map[string]any{
				ratelimit.MetadataKey: ratelimit.EndpointConfig{Scope: ratelimit.ScopeRead},
			},
		}

		ctx := newMockHumaContext()
		ctx.operation = operation
		require.True(t, run(mw, ctx))

		ctx2 := newMockHumaContext()
		ctx2.operation = operation

		assert.False(t, run(mw, ctx2))
	})

	t.Run("custom limits store error returns 500", func(t *testing.T) {
		mw := newPolicyMiddleware(t, failingStore{}, ratelimit.NewPolicyBuilder().Build())
		ctx := newMockHumaContext()
		ctx.operation = &huma.Operation{
			Path: "/custom-error",
			Metadata: map[string]any{
				ratelimit.MetadataKey: ratelimit.EndpointConfig{
					Limits: []ratelimit.LimitConfig{{Window: time.Minute, Max: 10}},
				},
			},
		}

		assert.False(t, run(mw, ctx))
		assert.Equal(t, 500, ctx.statusCode)
	})

	t.Run("counts policy decisions", func(t *testing.T) {
		collectors, err := metrics.NewCollectors(metrics.Options{Registerer: prometheus.NewRegistry()})
		require.NoError(t, err)

		policy := ratelimit.NewPolicyBuilder().AddLimit(ratelimit.ScopeGlobal, 1, time.Minute).Build()
		mw := middleware.PolicyRateLimiter(newTestAPI(), newPolicyLimiter(t, store.NewMemoryWindowStore(), policy),
			&mockScopeResolver{scopes: []ratelimit.Scope{ratelimit.ScopeGlobal}}, collectors, zap.NewNop())

		run(mw, newMockHumaContext())
		run(mw, newMockHumaContext())

		assert.InDelta(t, 1, testutil.ToFloat64(
			collectors.Decisions.WithLabelValues("policy", metrics.DecisionAllowed)), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(
			collectors.Decisions.WithLabelValues("policy", metrics.DecisionRejected)), 0)
	})
}
