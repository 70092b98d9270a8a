package ratelimit

import "time"

// LimitConfig is a single max-per-window rule.
type LimitConfig struct {
	Max    int64
	Window time.Duration
}

// Policy maps scopes to the rules enforced for them.
type Policy struct {
	Limits map[Scope][]LimitConfig
}

// PolicyBuilder assembles a Policy.
type PolicyBuilder struct {
	limits map[Scope][]LimitConfig
}

// NewPolicyBuilder creates an empty policy builder.
func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{limits: make(map[Scope][]LimitConfig)}
}

// AddLimit appends a rule for the scope. A scope may carry several windows,
// e.g. 10 per minute and 100 per hour.
func (b *PolicyBuilder) AddLimit(scope Scope, maxRequests int64, window time.Duration) *PolicyBuilder {
	b.limits[scope] = append(b.limits[scope], LimitConfig{Max: maxRequests, Window: window})

	return b
}

// Build returns the assembled policy.
func (b *PolicyBuilder) Build() *Policy {
	limits := make(map[Scope][]LimitConfig, len(b.limits))
	for scope, configs := range b.limits {
		limits[scope] = append([]LimitConfig(nil), configs...)
	}

	return &Policy{Limits: limits}
}

// DefaultPolicy is applied to the limit API itself.
func DefaultPolicy() *Policy {
	return NewPolicyBuilder().
		AddLimit(ScopeGlobal, 6000, time.Minute).
		AddLimit(ScopeRead, 3000, time.Minute).
		AddLimit(ScopeWrite, 3000, time.Minute).
		Build()
}
