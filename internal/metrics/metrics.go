// Package metrics holds the Prometheus collectors shared by the limiter's
// stores, middleware and handlers.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision labels.
const (
	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
)

// Options configures collector names and registration.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
	Buckets    []float64
}

// Collectors groups the limiter's metrics.
type Collectors struct {
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec
	Decisions     *prometheus.CounterVec
}

// NewCollectors builds the collectors and registers them. Collectors that are
// already registered under the same name are reused.
func NewCollectors(opts Options) (*Collectors, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "window_limiter"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "batch_duration_seconds",
		Help:      "Latency of window batches partitioned by backend.",
		Buckets:   buckets,
	}, []string{"backend"}))
	if err != nil {
		return nil, err
	}

	storeErrors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "batch_errors_total",
		Help:      "Window batches that failed, partitioned by backend.",
	}, []string{"backend"}))
	if err != nil {
		return nil, err
	}

	decisions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Admission decisions partitioned by source and outcome.",
	}, []string{"source", "decision"}))
	if err != nil {
		return nil, err
	}

	return &Collectors{
		StoreDuration: duration,
		StoreErrors:   storeErrors,
		Decisions:     decisions,
	}, nil
}

// ObserveDecision counts one admission decision.
func (c *Collectors) ObserveDecision(source string, allowed bool) {
	if c == nil {
		return
	}

	decision := DecisionRejected
	if allowed {
		decision = DecisionAllowed
	}

	c.Decisions.WithLabelValues(source, decision).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return collector, fmt.Errorf("register collector: %w", err)
	}

	existing, ok := already.ExistingCollector.(T)
	if !ok {
		return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
	}

	return existing, nil
}
