package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricVoteOutcomes       = "pollster_vote_outcomes_total"
	MetricResultsCacheLookup = "pollster_results_cache_lookups_total"
	MetricCacheFailures      = "pollster_cache_failures_total"
	MetricVoteDuration       = "pollster_vote_duration_seconds"
)

const (
	labelOutcome   = "outcome"
	labelResult    = "result"
	labelOperation = "operation"
	resultHit      = "hit"
	resultMiss     = "miss"
)

// Recorder owns the service's prometheus collectors. A nil Recorder discards observations.
type Recorder struct {
	registry      *prometheus.Registry
	voteOutcomes  *prometheus.CounterVec
	resultsLookup *prometheus.CounterVec
	cacheFailures *prometheus.CounterVec
	voteDuration  prometheus.Histogram
}

// NewRecorder registers the collectors on a fresh registry alongside the Go and process
// collectors.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		voteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricVoteOutcomes,
			Help: "Vote-cast attempts by outcome",
		}, []string{labelOutcome}),
		resultsLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricResultsCacheLookup,
			Help: "Result snapshot cache lookups by hit or miss",
		}, []string{labelResult}),
		cacheFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheFailures,
			Help: "Cache backend operations that failed and were swallowed",
		}, []string{labelOperation}),
		voteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricVoteDuration,
			Help:    "Duration of vote-cast attempts",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		recorder.voteOutcomes,
		recorder.resultsLookup,
		recorder.cacheFailures,
		recorder.voteDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return recorder
}

// ObserveVote counts one vote-cast attempt and its duration in seconds.
func (r *Recorder) ObserveVote(outcome string, seconds float64) {
	if r == nil {
		return
	}
	r.voteOutcomes.WithLabelValues(outcome).Inc()
	r.voteDuration.Observe(seconds)
}

// ObserveResultsCache counts one result snapshot lookup.
func (r *Recorder) ObserveResultsCache(hit bool) {
	if r == nil {
		return
	}
	result := resultMiss
	if hit {
		result = resultHit
	}
	r.resultsLookup.WithLabelValues(result).Inc()
}

// ObserveCacheFailure counts one swallowed cache backend failure.
func (r *Recorder) ObserveCacheFailure(operation string) {
	if r == nil {
		return
	}
	r.cacheFailures.WithLabelValues(operation).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for inspection.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}
