// Package metrics exposes Prometheus instrumentation for the HIVE transport
// and query cache. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds every collector used by the SDK.
type Recorder struct {
	RequestDuration *prometheus.HistogramVec
	Requests        *prometheus.CounterVec

	CacheLookups *prometheus.CounterVec
	Fetches      *prometheus.CounterVec
	Retries      prometheus.Counter
	Discarded    prometheus.Counter
	Evictions    prometheus.Counter
	Entries      prometheus.Gauge

	Mutations *prometheus.CounterVec
	Rollbacks prometheus.Counter
}

// New creates a Recorder and registers it with reg. A nil reg leaves the
// collectors unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hive_request_duration_seconds",
				Help:    "Duration of transport requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "code"},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_requests_total",
				Help: "Transport requests by method and taxonomy code",
			},
			[]string{"method", "code"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_cache_lookups_total",
				Help: "Query cache lookups by result (fresh, stale, miss)",
			},
			[]string{"result"},
		),
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_query_fetches_total",
				Help: "Query fetches by outcome",
			},
			[]string{"outcome"},
		),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_query_retries_total",
			Help: "Automatic query retries",
		}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_query_discarded_total",
			Help: "Fetch completions dropped because a newer generation exists",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_cache_evictions_total",
			Help: "Entries removed by the GC sweep",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hive_cache_entries",
			Help: "Entries currently held by the query cache",
		}),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hive_mutations_total",
				Help: "Mutations by outcome",
			},
			[]string{"outcome"},
		),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hive_mutation_rollbacks_total",
			Help: "Optimistic updates rolled back after a failed mutation",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.RequestDuration, r.Requests,
			r.CacheLookups, r.Fetches, r.Retries, r.Discarded, r.Evictions, r.Entries,
			r.Mutations, r.Rollbacks,
		)
	}
	return r
}

// ObserveRequest records one transport round trip.
func (r *Recorder) ObserveRequest(method, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(method, code).Inc()
	r.RequestDuration.WithLabelValues(method, code).Observe(d.Seconds())
}

// CacheLookup records a fresh, stale or miss lookup.
func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// Fetch records the terminal outcome of a query fetch.
func (r *Recorder) Fetch(outcome string) {
	if r == nil {
		return
	}
	r.Fetches.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Retry() {
	if r == nil {
		return
	}
	r.Retries.Inc()
}

func (r *Recorder) Discard() {
	if r == nil {
		return
	}
	r.Discarded.Inc()
}

func (r *Recorder) Evict(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Evictions.Add(float64(n))
}

func (r *Recorder) SetEntries(n int) {
	if r == nil {
		return
	}
	r.Entries.Set(float64(n))
}

// Mutation records a settled mutation; rolledBack marks an optimistic undo.
func (r *Recorder) Mutation(outcome string, rolledBack bool) {
	if r == nil {
		return
	}
	r.Mutations.WithLabelValues(outcome).Inc()
	if rolledBack {
		r.Rollbacks.Inc()
	}
}
