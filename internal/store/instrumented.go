package store

import (
	"context"
	"time"

	"github.com/serroba/window-limiter/internal/metrics"
	"github.com/serroba/window-limiter/internal/ratelimit"
)

// InstrumentedStore wraps a ratelimit.Store with latency and error metrics.
type InstrumentedStore struct {
	store   ratelimit.Store
	backend string
	metrics *metrics.Collectors
}

// NewInstrumentedStore creates a metrics decorator for store. backend labels
// the observations.
func NewInstrumentedStore(store ratelimit.Store, backend string, collectors *metrics.Collectors) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		backend: backend,
		metrics: collectors,
	}
}

func (s *InstrumentedStore) SubmitWindow(ctx context.Context, batch ratelimit.WindowBatch) (ratelimit.WindowReply, error) {
	start := time.Now()
	reply, err := s.store.SubmitWindow(ctx, batch)

	s.metrics.StoreDuration.WithLabelValues(s.backend).Observe(time.Since(start).Seconds())

	if err != nil {
		s.metrics.StoreErrors.WithLabelValues(s.backend).Inc()
	}

	return reply, err
}

var _ ratelimit.Store = (*InstrumentedStore)(nil)
