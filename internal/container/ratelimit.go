package container

import (
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

// DefaultIdentifier is used when a call does not name its own identifier.
const DefaultIdentifier = "default"

// RateLimitPackage provides the API limiter and the policy limiter guarding
// HTTP clients. Client counters live under their own namespace so they never
// collide with API identifiers.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*ratelimit.SlidingWindowLimiter, error) {
		options := do.MustInvoke[*Options](i)

		return ratelimit.NewSlidingWindowLimiter(do.MustInvoke[ratelimit.Store](i), ratelimit.Config{
			Identifier: DefaultIdentifier,
			Max:        options.DefaultMax,
			Duration:   options.DefaultWindow(),
			Namespace:  options.Namespace,
		})
	})

	do.ProvideNamed(injector, clientLimiterName, func(i *do.Injector) (*ratelimit.SlidingWindowLimiter, error) {
		options := do.MustInvoke[*Options](i)

		return ratelimit.NewSlidingWindowLimiter(do.MustInvoke[ratelimit.Store](i), ratelimit.Config{
			Identifier: DefaultIdentifier,
			Max:        options.DefaultMax,
			Duration:   options.DefaultWindow(),
			Namespace:  options.Namespace + "-http",
		})
	})

	do.Provide(injector, func(i *do.Injector) (*ratelimit.PolicyLimiter, error) {
		limiter := do.MustInvokeNamed[*ratelimit.SlidingWindowLimiter](i, clientLimiterName)

		return ratelimit.NewPolicyLimiter(limiter, ratelimit.DefaultPolicy()), nil
	})

	do.Provide(injector, func(_ *do.Injector) (ratelimit.ScopeResolver, error) {
		return ratelimit.NewOperationScopeResolver(), nil
	})
}

const clientLimiterName = "client-limiter"
