package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"go.uber.org/zap"
)

// Rate limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

const (
	sourceMiddleware = "middleware"
	sourcePolicy     = "policy"
)

// RateLimiter returns a Huma middleware that limits requests based on client IP and User-Agent.
// Each request is checked under the limiter defaults and the quota state is
// reported in the X-RateLimit-* headers.
func RateLimiter(
	api huma.API,
	limiter ratelimit.Limiter,
	collectors *metrics.Collectors,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		res, err := limiter.Check(ctx.Context(), ratelimit.CheckOptions{
			Identifier: clientKey(ctx),
			WantReset:  true,
		})
		if err != nil {
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		collectors.ObserveDecision(sourceMiddleware, res.OK)
		SetLimitHeaders(ctx, res)

		if !res.OK {
			_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, "rate limit exceeded")

			return
		}

		next(ctx)
	}
}

// SetLimitHeaders writes the quota state of res to the response.
func SetLimitHeaders(ctx huma.Context, res ratelimit.Result) {
	ctx.SetHeader(HeaderLimit, strconv.FormatInt(res.Total, 10))
	ctx.SetHeader(HeaderRemaining, strconv.FormatInt(res.Remaining, 10))

	if res.Reset != 0 {
		ctx.SetHeader(HeaderReset, strconv.FormatInt(res.Reset, 10))
	}
}

// clientKey generates a unique key for rate limiting based on IP and User-Agent.
func clientKey(ctx huma.Context) string {
	ip := ClientIP(ctx)
	ua := ctx.Header("User-Agent")

	return strconv.FormatUint(xxhash.Sum64String(ip+"|"+ua), 16)
}

// ClientIP extracts the client IP from the request, considering proxies.
func ClientIP(ctx huma.Context) string {
	// X-Forwarded-For may hold a chain; the first entry is the client.
	if xff := ctx.Header("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}

		return strings.TrimSpace(xff)
	}

	if xri := ctx.Header("X-Real-IP"); xri != "" {
		return xri
	}

	host := ctx.RemoteAddr()
	if host == "" {
		host = ctx.Host()
	}

	ip, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}

	return ip
}

// PolicyRateLimiter returns a Huma middleware that applies policy-based rate limiting.
// It uses a ScopeResolver to determine which scopes apply to each request,
// then checks all applicable limits from the policy.
//
// Per-endpoint configuration can be provided via operation metadata using
// ratelimit.MetadataKey. This allows endpoints to:
//   - Disable rate limiting entirely (Disabled: true)
//   - Override the scope detection (Scope: ratelimit.ScopeRead)
//   - Define custom limits (Limits: []ratelimit.LimitConfig{...})
func PolicyRateLimiter(
	api huma.API,
	limiter *ratelimit.PolicyLimiter,
	resolver ratelimit.ScopeResolver,
	collectors *metrics.Collectors,
	logger *zap.Logger,
) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		path := getOperationPath(ctx)

		if cfg := ratelimit.GetEndpointConfig(ctx); cfg != nil {
			if handleEndpointConfig(api, ctx, limiter, cfg, collectors, logger, next) {
				return
			}
		}

		key := clientKey(ctx)
		scopes := resolver.Resolve(ctx)

		allowed, exceeded, err := limiter.Allow(ctx.Context(), key, scopes)
		if err != nil {
			logger.Error("rate limit check failed", zap.String("path", path), zap.Error(err))
			_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

			return
		}

		collectors.ObserveDecision(sourcePolicy, allowed)

		if !allowed {
			handleRateLimitExceeded(api, ctx, exceeded, path, logger)

			return
		}

		next(ctx)
	}
}

func getOperationPath(ctx huma.Context) string {
	if op := ctx.Operation(); op != nil {
		return op.Path
	}

	return ""
}

// handleEndpointConfig processes per-endpoint rate limit configuration.
// Returns true if the request was handled (should return early), false to continue.
func handleEndpointConfig(
	api huma.API,
	ctx huma.Context,
	limiter *ratelimit.PolicyLimiter,
	cfg *ratelimit.EndpointConfig,
	collectors *metrics.Collectors,
	logger *zap.Logger,
	next func(huma.Context),
) bool {
	if cfg.Disabled {
		logger.Debug("rate limiting disabled for endpoint",
			zap.String("path", getOperationPath(ctx)), zap.String("method", ctx.Method()))
		next(ctx)

		return true
	}

	if len(cfg.Limits) == 0 {
		return false
	}

	allowed := checkCustomLimits(api, ctx, limiter, cfg.Limits, logger)
	collectors.ObserveDecision(sourcePolicy, allowed)

	if allowed {
		next(ctx)
	}

	return true
}

func handleRateLimitExceeded(
	api huma.API,
	ctx huma.Context,
	exceeded *ratelimit.LimitExceeded,
	path string,
	logger *zap.Logger,
) {
	msg := "rate limit exceeded"
	if exceeded != nil {
		msg = fmt.Sprintf("rate limit exceeded: %s scope, %d/%d requests in %s",
			exceeded.Scope, exceeded.Result.Count, exceeded.Config.Max, exceeded.Config.Window)
		logger.Warn("rate limit exceeded",
			zap.String("path", path),
			zap.String("method", ctx.Method()),
			zap.String("scope", string(exceeded.Scope)),
			zap.Int64("count", exceeded.Result.Count),
			zap.Int64("max", exceeded.Config.Max),
			zap.Duration("window", exceeded.Config.Window),
			zap.String("client_ip", ClientIP(ctx)),
		)
		SetLimitHeaders(ctx, exceeded.Result)
	}

	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)
}

// checkCustomLimits applies custom rate limits defined in endpoint config.
// Returns true if request is allowed, false if rate limited.
//
// Counters are keyed by the operation's route template (e.g. "/v1/limits/{identifier}/check"),
// so all requests matching the same pattern share counters per client.
func checkCustomLimits(
	api huma.API,
	ctx huma.Context,
	limiter *ratelimit.PolicyLimiter,
	limits []ratelimit.LimitConfig,
	logger *zap.Logger,
) bool {
	op := ctx.Operation()
	if op == nil {
		logger.Error("missing operation in context for rate limiting")

		_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error",
			errors.New("missing operation in context"))

		return false
	}

	prefix := clientKey(ctx) + ":custom:" + op.Path

	exceeded, err := limiter.CheckLimits(ctx.Context(), prefix, limits)
	if err != nil {
		logger.Error("custom rate limit check failed",
			zap.String("path", op.Path),
			zap.Error(err),
		)
		_ = huma.WriteErr(api, ctx, http.StatusInternalServerError, "internal server error", err)

		return false
	}

	if exceeded == nil {
		return true
	}

	logger.Warn("custom rate limit exceeded",
		zap.String("path", op.Path),
		zap.String("method", ctx.Method()),
		zap.Int64("count", exceeded.Result.Count),
		zap.Int64("max", exceeded.Config.Max),
		zap.Duration("window", exceeded.Config.Window),
		zap.String("client_ip", ClientIP(ctx)),
	)
	SetLimitHeaders(ctx, exceeded.Result)

	msg := fmt.Sprintf("rate limit exceeded: %d/%d requests in %s",
		exceeded.Result.Count, exceeded.Config.Max, exceeded.Config.Window)
	_ = huma.WriteErr(api, ctx, http.StatusTooManyRequests, msg)

	return false
}
