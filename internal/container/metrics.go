package container

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/metrics"
)

// MetricsPackage provides a dedicated registry and the limiter collectors.
func MetricsPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*prometheus.Registry, error) {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		return registry, nil
	})

	do.Provide(injector, func(i *do.Injector) (*metrics.Collectors, error) {
		registry := do.MustInvoke[*prometheus.Registry](i)

		return metrics.NewCollectors(metrics.Options{Registerer: registry})
	})
}
