// Package observability exposes Prometheus metrics and OpenTelemetry
// tracing for the query cache.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campus-hub/querysync/internal/domain/shared"
)

// Collector holds the query cache metrics. It implements both
// fetch.Metrics and mutation.Metrics.
type Collector struct {
	registry *prometheus.Registry

	// Read path
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	StaleReads     *prometheus.CounterVec
	DedupJoins     *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	FetchDurations *prometheus.HistogramVec

	// Write path
	Mutations         *prometheus.CounterVec
	MutationDurations *prometheus.HistogramVec
	Invalidations     *prometheus.CounterVec
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	family := []string{"family"}
	counter := func(name, help string, labels []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	c := &Collector{
		registry:      registry,
		CacheHits:     counter("cache_hits_total", "Reads served from a fresh cache entry.", family),
		CacheMisses:   counter("cache_misses_total", "Reads that had to wait for a fetch.", family),
		StaleReads:    counter("stale_reads_total", "Reads served stale while a refresh ran.", family),
		DedupJoins:    counter("dedup_joins_total", "Reads that joined an in-flight fetch.", family),
		FetchFailures: counter("fetch_failures_total", "Fetches that failed after retries.", family),
		FetchDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Backend fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, family),
		Mutations: counter("mutations_total", "Mutations by outcome.", []string{"entity", "op", "status"}),
		MutationDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Mutation duration in seconds, including invalidation and refetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "op"}),
		Invalidations: counter("invalidations_total", "Cache entries marked stale by mutations.", []string{"entity"}),
	}

	registry.MustRegister(
		c.CacheHits,
		c.CacheMisses,
		c.StaleReads,
		c.DedupJoins,
		c.FetchFailures,
		c.FetchDurations,
		c.Mutations,
		c.MutationDurations,
		c.Invalidations,
	)
	return c
}

// Registry returns the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) CacheHit(family string)    { c.CacheHits.WithLabelValues(family).Inc() }
func (c *Collector) CacheMiss(family string)   { c.CacheMisses.WithLabelValues(family).Inc() }
func (c *Collector) StaleServed(family string) { c.StaleReads.WithLabelValues(family).Inc() }
func (c *Collector) DedupJoined(family string) { c.DedupJoins.WithLabelValues(family).Inc() }

// FetchCompleted records a finished fetch.
func (c *Collector) FetchCompleted(family string, d time.Duration, err error) {
	c.FetchDurations.WithLabelValues(family).Observe(d.Seconds())
	if err != nil {
		c.FetchFailures.WithLabelValues(family).Inc()
	}
}

// MutationCompleted records a finished mutation.
func (c *Collector) MutationCompleted(entity, op string, d time.Duration, err error) {
	c.Mutations.WithLabelValues(entity, op, mutationStatus(err)).Inc()
	c.MutationDurations.WithLabelValues(entity, op).Observe(d.Seconds())
}

// Invalidated records how many entries a mutation marked stale.
func (c *Collector) Invalidated(entity string, n int) {
	c.Invalidations.WithLabelValues(entity).Add(float64(n))
}

func mutationStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
