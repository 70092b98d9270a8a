package container

import (
	"fmt"
	"time"

	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/ratelimit"
	"github.com/serroba/window-limiter/internal/store"
	"go.uber.org/zap"
)

const evictionInterval = time.Minute

// StorePackage provides the window store selected by Options.Backend,
// instrumented with store metrics.
func StorePackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*store.MemoryWindowStore, error) {
		return store.NewMemoryWindowStore(), nil
	})

	// Redis expires keys itself. The other backends sweep on a timer.
	do.Provide(injector, func(i *do.Injector) (*store.Evictor, error) {
		options := do.MustInvoke[*Options](i)

		switch options.Backend {
		case BackendMemory:
			return do.MustInvoke[*store.MemoryWindowStore](i).StartEviction(evictionInterval), nil
		case BackendPostgres:
			pgStore, err := do.Invoke[*store.PostgresWindowStore](i)
			if err != nil {
				return nil, err
			}

			logger := do.MustInvoke[*zap.Logger](i).Named("eviction")

			return pgStore.StartEviction(evictionInterval, logger), nil
		default:
			return nil, fmt.Errorf("backend %q has no evictor", options.Backend)
		}
	})

	do.Provide(injector, func(i *do.Injector) (ratelimit.Store, error) {
		options := do.MustInvoke[*Options](i)
		collectors := do.MustInvoke[*metrics.Collectors](i)

		var backend ratelimit.Store

		switch options.Backend {
		case BackendRedis:
			backend = store.NewRedisWindowStore(redisClient(i))
		case BackendPostgres:
			pgStore, err := do.Invoke[*store.PostgresWindowStore](i)
			if err != nil {
				return nil, err
			}

			if _, err := do.Invoke[*store.Evictor](i); err != nil {
				return nil, err
			}

			backend = pgStore
		case BackendMemory:
			_ = do.MustInvoke[*store.Evictor](i)
			backend = do.MustInvoke[*store.MemoryWindowStore](i)
		default:
			return nil, fmt.Errorf("unknown backend %q", options.Backend)
		}

		return store.NewInstrumentedStore(backend, options.Backend, collectors), nil
	})
}
