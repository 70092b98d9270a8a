package container

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/events"
	"github.com/serroba/window-limiter/internal/handlers"
	"github.com/serroba/window-limiter/internal/health"
	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/middleware"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"go.uber.org/zap"
)

// HTTPPackage provides the router and the huma API with every route
// registered. Invoking huma.API triggers registration.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*chi.Mux, error) {
		registry := do.MustInvoke[*prometheus.Registry](i)

		router := chi.NewMux()
		router.Use(chimiddleware.Recoverer)
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

		return router, nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		options := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		collectors := do.MustInvoke[*metrics.Collectors](i)

		api := humachi.New(router, huma.DefaultConfig("Window Limiter", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))

		if options.ClientLimit == ClientLimitFlat {
			limiter := do.MustInvokeNamed[*ratelimit.SlidingWindowLimiter](i, clientLimiterName)
			api.UseMiddleware(middleware.RateLimiter(api, limiter, collectors))
		} else {
			api.UseMiddleware(middleware.PolicyRateLimiter(
				api,
				do.MustInvoke[*ratelimit.PolicyLimiter](i),
				do.MustInvoke[ratelimit.ScopeResolver](i),
				collectors,
				logger,
			))
		}

		health.RegisterRoutes(api, healthHandler(i, options))

		handlers.RegisterRoutes(api, handlers.NewLimitHandler(
			do.MustInvoke[*ratelimit.SlidingWindowLimiter](i),
			do.MustInvoke[messaging.Publish[events.LimitRejectedEvent]](i),
			collectors,
			do.MustInvokeNamed[string](i, InstanceName),
			logger,
		))

		return api, nil
	})
}

func healthHandler(i *do.Injector, options *Options) *health.Handler {
	var redisChecker, pgChecker health.Checker

	if options.Backend != BackendMemory {
		redisChecker = health.NewRedisChecker(redisClient(i))
	}

	if options.Backend == BackendPostgres {
		pgChecker = do.MustInvoke[*store.PostgresWindowStore](i)
	}

	return health.NewHandler(redisChecker, pgChecker)
}
