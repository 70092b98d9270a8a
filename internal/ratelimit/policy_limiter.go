package ratelimit

import (
	"context"
	"fmt"
)

// LimitExceeded contains information about which limit was exceeded.
type LimitExceeded struct {
	Scope  Scope
	Config LimitConfig
	Result Result
}

// PolicyLimiter enforces rate limits based on a policy and resolved scopes.
// Each rule is checked against its own ordered set through per-call overrides
// on the wrapped limiter.
type PolicyLimiter struct {
	limiter Limiter
	policy  *Policy
}

// NewPolicyLimiter creates a new policy-based rate limiter.
func NewPolicyLimiter(limiter Limiter, policy *Policy) *PolicyLimiter {
	return &PolicyLimiter{
		limiter: limiter,
		policy:  policy,
	}
}

// Allow checks if a request should be allowed based on the client key and applicable scopes.
// It returns true if the request is allowed, false if any limit is exceeded.
// The LimitExceeded return value provides details about which limit was hit (nil if allowed).
func (l *PolicyLimiter) Allow(ctx context.Context, clientKey string, scopes []Scope) (bool, *LimitExceeded, error) {
	for _, scope := range scopes {
		limits, ok := l.policy.Limits[scope]
		if !ok {
			continue
		}

		exceeded, err := l.check(ctx, clientKey+":"+string(scope), scope, limits)
		if err != nil || exceeded != nil {
			return false, exceeded, err
		}
	}

	return true, nil, nil
}

// CheckLimits applies an explicit rule set, bypassing the policy. The prefix
// namespaces the counters, e.g. client plus route template.
func (l *PolicyLimiter) CheckLimits(ctx context.Context, prefix string, limits []LimitConfig) (*LimitExceeded, error) {
	return l.check(ctx, prefix, "", limits)
}

func (l *PolicyLimiter) check(ctx context.Context, prefix string, scope Scope, limits []LimitConfig) (*LimitExceeded, error) {
	for _, limit := range limits {
		res, err := l.limiter.Check(ctx, CheckOptions{
			Identifier: buildIdentifier(prefix, limit),
			Max:        limit.Max,
			Duration:   limit.Window,
		})
		if err != nil {
			return nil, err
		}

		if !res.OK {
			return &LimitExceeded{Scope: scope, Config: limit, Result: res}, nil
		}
	}

	return nil, nil
}

// buildIdentifier keeps windows of the same prefix in separate sets.
func buildIdentifier(prefix string, limit LimitConfig) string {
	return fmt.Sprintf("%s:%d", prefix, limit.Window.Milliseconds())
}
